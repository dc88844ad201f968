package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The service is described with well-known message types only, so no
// generated message code is needed:
//
//	service PoseService {
//	  rpc DetectPose(google.protobuf.BytesValue) returns (google.protobuf.Struct);
//	  rpc Health(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc Shutdown(google.protobuf.Empty) returns (google.protobuf.Empty);
//	}
const (
	PoseService_DetectPose_FullMethodName = "/yogapose.PoseService/DetectPose"
	PoseService_Health_FullMethodName     = "/yogapose.PoseService/Health"
	PoseService_Shutdown_FullMethodName   = "/yogapose.PoseService/Shutdown"
)

type PoseServiceClient interface {
	DetectPose(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type poseServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPoseServiceClient(cc grpc.ClientConnInterface) PoseServiceClient {
	return &poseServiceClient{cc}
}

func (c *poseServiceClient) DetectPose(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PoseService_DetectPose_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *poseServiceClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PoseService_Health_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *poseServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PoseService_Shutdown_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type PoseServiceServer interface {
	DetectPose(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func RegisterPoseServiceServer(s grpc.ServiceRegistrar, srv PoseServiceServer) {
	s.RegisterService(&PoseService_ServiceDesc, srv)
}

func _PoseService_DetectPose_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PoseServiceServer).DetectPose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PoseService_DetectPose_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PoseServiceServer).DetectPose(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _PoseService_Health_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PoseServiceServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PoseService_Health_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PoseServiceServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _PoseService_Shutdown_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PoseServiceServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PoseService_Shutdown_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PoseServiceServer).Shutdown(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var PoseService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "yogapose.PoseService",
	HandlerType: (*PoseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DetectPose", Handler: _PoseService_DetectPose_Handler},
		{MethodName: "Health", Handler: _PoseService_Health_Handler},
		{MethodName: "Shutdown", Handler: _PoseService_Shutdown_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "yogapose.proto",
}
