package api

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path every method below is registered
// under, mirroring the teacher's "proto.WarrenAPI" service name now that
// there is no .proto file to generate it from.
const serviceName = "wexec.Engine"

// ServiceDesc is the hand-written equivalent of the grpc.ServiceDesc a
// protoc-gen-go-grpc invocation would normally produce from a .proto file.
// Every handler recovers its request with dec(&T{}) through the jsonCodec
// registered in codec.go instead of a generated unmarshal method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateWorker", Handler: createWorkerHandler},
		{MethodName: "GetInvocationKey", Handler: getInvocationKeyHandler},
		{MethodName: "InvokeWorker", Handler: invokeWorkerHandler},
		{MethodName: "InvokeAndAwaitWorker", Handler: invokeAndAwaitWorkerHandler},
		{MethodName: "DeleteWorker", Handler: deleteWorkerHandler},
		{MethodName: "CompletePromise", Handler: completePromiseHandler},
		{MethodName: "InterruptWorker", Handler: interruptWorkerHandler},
		{MethodName: "ResumeWorker", Handler: resumeWorkerHandler},
		{MethodName: "GetWorkerMetadata", Handler: getWorkerMetadataHandler},
		{MethodName: "GetShardMap", Handler: getShardMapHandler},
		{MethodName: "AssignShards", Handler: assignShardsHandler},
		{MethodName: "RevokeShards", Handler: revokeShardsHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ConnectWorker",
			Handler:       connectWorkerHandler,
			ServerStreams: true,
		},
	},
	Metadata: "wexec/engine.proto",
}

// EngineServer is the interface RPC handlers are dispatched against. Server
// (in server.go) implements it; tests can substitute a fake.
type EngineServer interface {
	CreateWorker(context.Context, *CreateWorkerRequest) (*CreateWorkerResponse, error)
	GetInvocationKey(context.Context, *GetInvocationKeyRequest) (*GetInvocationKeyResponse, error)
	InvokeWorker(context.Context, *InvokeWorkerRequest) (*InvokeWorkerResponse, error)
	InvokeAndAwaitWorker(context.Context, *InvokeAndAwaitWorkerRequest) (*InvokeAndAwaitWorkerResponse, error)
	ConnectWorker(*ConnectWorkerRequest, grpc.ServerStream) error
	DeleteWorker(context.Context, *DeleteWorkerRequest) (*DeleteWorkerResponse, error)
	CompletePromise(context.Context, *CompletePromiseRequest) (*CompletePromiseResponse, error)
	InterruptWorker(context.Context, *InterruptWorkerRequest) (*InterruptWorkerResponse, error)
	ResumeWorker(context.Context, *ResumeWorkerRequest) (*ResumeWorkerResponse, error)
	GetWorkerMetadata(context.Context, *GetWorkerMetadataRequest) (*GetWorkerMetadataResponse, error)
	GetShardMap(context.Context, *GetShardMapRequest) (*GetShardMapResponse, error)
	AssignShards(context.Context, *AssignShardsRequest) (*AssignShardsResponse, error)
	RevokeShards(context.Context, *RevokeShardsRequest) (*RevokeShardsResponse, error)
}

func unaryHandler(ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor, fullMethod string, req interface{}, call func(context.Context, interface{}) (interface{}, error)) (interface{}, error) {
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return call(ctx, req)
	}
	return interceptor(ctx, req, info, handler)
}

func createWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/CreateWorker", new(CreateWorkerRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).CreateWorker(ctx, req.(*CreateWorkerRequest))
	})
}

func getInvocationKeyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/GetInvocationKey", new(GetInvocationKeyRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).GetInvocationKey(ctx, req.(*GetInvocationKeyRequest))
	})
}

func invokeWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/InvokeWorker", new(InvokeWorkerRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).InvokeWorker(ctx, req.(*InvokeWorkerRequest))
	})
}

func invokeAndAwaitWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/InvokeAndAwaitWorker", new(InvokeAndAwaitWorkerRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).InvokeAndAwaitWorker(ctx, req.(*InvokeAndAwaitWorkerRequest))
	})
}

func deleteWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/DeleteWorker", new(DeleteWorkerRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).DeleteWorker(ctx, req.(*DeleteWorkerRequest))
	})
}

func completePromiseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/CompletePromise", new(CompletePromiseRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).CompletePromise(ctx, req.(*CompletePromiseRequest))
	})
}

func interruptWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/InterruptWorker", new(InterruptWorkerRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).InterruptWorker(ctx, req.(*InterruptWorkerRequest))
	})
}

func resumeWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/ResumeWorker", new(ResumeWorkerRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).ResumeWorker(ctx, req.(*ResumeWorkerRequest))
	})
}

func getWorkerMetadataHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/GetWorkerMetadata", new(GetWorkerMetadataRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).GetWorkerMetadata(ctx, req.(*GetWorkerMetadataRequest))
	})
}

func getShardMapHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/GetShardMap", new(GetShardMapRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).GetShardMap(ctx, req.(*GetShardMapRequest))
	})
}

func assignShardsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/AssignShards", new(AssignShardsRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).AssignShards(ctx, req.(*AssignShardsRequest))
	})
}

func revokeShardsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryHandler(ctx, dec, interceptor, "/"+serviceName+"/RevokeShards", new(RevokeShardsRequest), func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EngineServer).RevokeShards(ctx, req.(*RevokeShardsRequest))
	})
}

// connectWorkerStream wraps grpc.ServerStream so RecvMsg/SendMsg work with
// the jsonCodec-decoded request/response types without exposing the raw
// stream to Server.ConnectWorker's business logic.
type connectWorkerStream struct {
	grpc.ServerStream
}

func (x *connectWorkerStream) Send(m *LogEventMessage) error {
	return x.ServerStream.SendMsg(m)
}

func connectWorkerHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(ConnectWorkerRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EngineServer).ConnectWorker(req, &connectWorkerStream{stream})
}
