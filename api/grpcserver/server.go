// Package grpcserver exposes the order service over gRPC. Messages are
// google.protobuf.Struct documents carrying the same JSON shape as the
// REST API.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"orderpipe/domain/order"
)

type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (order.Order, error)
	Get(ctx context.Context, orderID string) (order.Order, bool)
}

// Server adapts the order service to gRPC.
type Server struct {
	orders Orders
	log    *zap.Logger
}

func NewServer(orders Orders, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{orders: orders, log: log.Named("grpc")}
}

// Register builds a grpc.Server with logging and registers the service.
func (s *Server) Register(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logUnary))
	gs := grpc.NewServer(opts...)
	RegisterOrderServiceServer(gs, s)
	return gs
}

// -------------------- Commands --------------------

func (s *Server) CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var req order.CreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed order: %v", err)
	}

	o, err := s.orders.Create(ctx, req)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			return nil, status.Error(codes.InvalidArgument, verr.Error())
		}
		s.log.Error("create order failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "order processing failed")
	}
	return toStruct(o)
}

// -------------------- Queries --------------------

func (s *Server) GetOrder(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "order id is required")
	}
	o, ok := s.orders.Get(ctx, in.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "order %s not found", in.GetValue())
	}
	return toStruct(o)
}

// -------------------- Converters --------------------

func toStruct(o order.Order) (*structpb.Struct, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Info("rpc",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("took", time.Since(start)),
	)
	return resp, err
}
