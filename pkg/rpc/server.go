package rpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/types"
	"github.com/fluxmesh/fluxmesh/pkg/worker"
)

// Server adapts the three-call deployment RPC (spec.md §6) onto a
// *worker.Executor, the same register/start/stop surface
// pkg/placement/deploy.go drives in-process during tests.
type Server struct {
	exec *worker.Executor
	log  zerolog.Logger
}

// NewServer wraps exec so it can be reached over the network via Register.
func NewServer(exec *worker.Executor) *Server {
	return &Server{exec: exec, log: log.WithComponent("rpc.server")}
}

// Register installs s onto grpcServer under the fluxmesh.rpc.Worker service
// name, in place of a protoc-generated RegisterWorkerServer function.
func Register(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&serviceDesc, s)
}

func (s *Server) Register(ctx context.Context, req *RegisterRequest) (*RegisterReply, error) {
	shared := types.SharedQueryId(req.SharedQueryID)
	if err := s.exec.Register(ctx, shared, req.Subplan); err != nil {
		s.log.Error().Err(err).Uint64("shared_query_id", req.SharedQueryID).Str("trace_id", req.TraceID).Msg("register failed")
		return nil, toStatus(err)
	}
	return &RegisterReply{}, nil
}

func (s *Server) Start(ctx context.Context, req *StartRequest) (*StartReply, error) {
	shared := types.SharedQueryId(req.SharedQueryID)
	if err := s.exec.Start(ctx, shared); err != nil {
		s.log.Error().Err(err).Uint64("shared_query_id", req.SharedQueryID).Str("trace_id", req.TraceID).Msg("start failed")
		return nil, toStatus(err)
	}
	return &StartReply{}, nil
}

func (s *Server) Stop(ctx context.Context, req *StopRequest) (*StopReply, error) {
	shared := types.SharedQueryId(req.SharedQueryID)
	if err := s.exec.Stop(ctx, shared, req.Termination); err != nil {
		s.log.Error().Err(err).Uint64("shared_query_id", req.SharedQueryID).Str("trace_id", req.TraceID).Msg("stop failed")
		return nil, toStatus(err)
	}
	return &StopReply{}, nil
}

// toStatus maps an errs.Kind onto the nearest grpc/codes.Code so a caller
// on the other side of the wire can still tell transient failures (worth
// retrying, see pkg/placement/deploy.go's withRetry) from permanent ones.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errs.Is(err, errs.KindNotFound):
		code = codes.NotFound
	case errs.Is(err, errs.KindValidation):
		code = codes.InvalidArgument
	case errs.Is(err, errs.KindTransient):
		code = codes.Unavailable
	case errs.Is(err, errs.KindDeploymentFailure):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
