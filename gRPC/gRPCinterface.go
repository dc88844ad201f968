package proto

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"YogaPoseServer/logger"
	"YogaPoseServer/service"
)

// CallObserver counts handled calls. monitor.Metrics implements it.
type CallObserver interface {
	ObserveGRPC(method string)
}

type Server struct {
	svc      *service.Service
	observer CallObserver

	closeOnce    sync.Once
	CloseChannel chan struct{}
}

func NewServer(svc *service.Service, observer CallObserver) *Server {
	return &Server{svc: svc, observer: observer, CloseChannel: make(chan struct{})}
}

func (s *Server) DetectPose(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if req == nil || req.Value == nil {
		return nil, status.Error(codes.InvalidArgument, service.ErrNoImage.Error())
	}
	res, err := s.svc.Detect(ctx, req.Value)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(res.Document())
}

func (s *Server) Health(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.svc.Health())
}

// Shutdown asks the process to stop; the caller of StartGRPCServer watches
// CloseChannel and performs the graceful stop.
func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.closeOnce.Do(func() {
		logger.Log().Warn("Shutdown requested over gRPC")
		close(s.CloseChannel)
	})
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	if service.StatusOf(err) < 500 {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func toStruct(doc any) (*structpb.Struct, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(body, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// interceptor counts calls and turns a handler panic into codes.Internal.
func (s *Server) interceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	if s.observer != nil {
		s.observer.ObserveGRPC(info.FullMethod)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("panic in gRPC handler", zap.String("method", info.FullMethod), zap.Any("panic", r))
			resp, err = nil, status.Errorf(codes.Internal, "%v", r)
		}
	}()
	return handler(ctx, req)
}

func NewGRPCServer(srv *Server) *grpc.Server {
	g := grpc.NewServer(grpc.UnaryInterceptor(srv.interceptor))
	RegisterPoseServiceServer(g, srv)
	return g
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", addr, err)
	}
	g := NewGRPCServer(srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", addr))
		if err := g.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return g, nil
}
