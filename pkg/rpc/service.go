package rpc

import (
	"context"

	"google.golang.org/grpc"

	_ "github.com/fluxmesh/fluxmesh/pkg/wire" // registers the JSON codec under gRPC's "proto" content-subtype name
)

// serviceName is the fully-qualified gRPC service name every method path
// below is addressed under ("/fluxmesh.rpc.Worker/Register", ...).
const serviceName = "fluxmesh.rpc.Worker"

// WorkerServer is the interface a worker process implements to answer
// the deployment RPC (spec.md §6). Server in server.go implements it by
// converting each request into the arguments of *worker.Executor's
// Register/Start/Stop and forwarding the call.
type WorkerServer interface {
	Register(ctx context.Context, req *RegisterRequest) (*RegisterReply, error)
	Start(ctx context.Context, req *StartRequest) (*StartReply, error)
	Stop(ctx context.Context, req *StopRequest) (*StopReply, error)
}

func workerRegisterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Register"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Register(ctx, req.(*RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workerStartHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Start(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Start"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Start(ctx, req.(*StartRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workerStopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StopRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Stop"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Stop(ctx, req.(*StopRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc run would have
// produced from a worker.proto; written by hand since the pack carries no
// protoc toolchain (see pkg/wire's jsonCodec for the matching codec swap).
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: workerRegisterHandler},
		{MethodName: "Start", Handler: workerStartHandler},
		{MethodName: "Stop", Handler: workerStopHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fluxmesh/rpc/worker.proto",
}
