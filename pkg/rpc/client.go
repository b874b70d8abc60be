package rpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Client implements placement.WorkerClient over a real grpc.ClientConn,
// the network path pkg/placement/deploy.go's Deploy drives during the
// coordinator's register/start rollout (spec.md §4.7).
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// Dial opens a plaintext connection to a worker's RPC listen address.
// FluxMesh clusters run inside a single trust domain (spec.md §5
// Non-goals excludes inter-node authentication), so no TLS is configured.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errs.Transient("dial worker "+addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Register(ctx context.Context, shared types.SharedQueryId, subplan *types.LogicalPlan) error {
	req := &RegisterRequest{TraceID: uuid.NewString(), SharedQueryID: uint64(shared), Subplan: subplan}
	reply := new(RegisterReply)
	return fromStatus(c.conn.Invoke(ctx, "/"+serviceName+"/Register", req, reply))
}

func (c *Client) Start(ctx context.Context, shared types.SharedQueryId) error {
	req := &StartRequest{TraceID: uuid.NewString(), SharedQueryID: uint64(shared)}
	reply := new(StartReply)
	return fromStatus(c.conn.Invoke(ctx, "/"+serviceName+"/Start", req, reply))
}

func (c *Client) Stop(ctx context.Context, shared types.SharedQueryId, termination types.TerminationType) error {
	req := &StopRequest{TraceID: uuid.NewString(), SharedQueryID: uint64(shared), Termination: termination}
	reply := new(StopReply)
	return fromStatus(c.conn.Invoke(ctx, "/"+serviceName+"/Stop", req, reply))
}

// fromStatus is the inverse of toStatus in server.go: it recovers the
// errs.Kind a server-side call failed with from the grpc/codes.Code the
// status wire format carried it across as, so callers through
// placement.WorkerClient (errs.IsTransient, errs.Is(..., KindNotFound))
// see the same taxonomy they would from an in-process call.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errs.Transient("rpc call failed", err)
	}
	msg := st.Message()
	switch st.Code() {
	case codes.NotFound:
		return errs.NotFound(msg, err)
	case codes.InvalidArgument:
		return errs.Validation(msg, err)
	case codes.Unavailable:
		return errs.Transient(msg, err)
	case codes.FailedPrecondition:
		return errs.DeploymentFailure(msg, err)
	default:
		return errs.RuntimeSystemError(msg, err)
	}
}
