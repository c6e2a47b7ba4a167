package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
)

const serviceName = "viralforge.telegram.v1.TelegramSessionInternalService"

// TelegramSessionInternalService is the read-only internal view of live sessions.
type TelegramSessionInternalService interface {
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type TelegramSessionInternalServer struct {
	service *application.Service
}

func NewTelegramSessionInternalServer(service *application.Service) *TelegramSessionInternalServer {
	return &TelegramSessionInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc TelegramSessionInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*TelegramSessionInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "GetSession",
				Handler:    unaryHandler("GetSession", func() *structpb.Struct { return &structpb.Struct{} }, svc.GetSession),
			},
			{
				MethodName: "ListSessions",
				Handler:    unaryHandler("ListSessions", func() *emptypb.Empty { return &emptypb.Empty{} }, svc.ListSessions),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mesh/contracts/proto/telegram/v1/telegram_session_internal.proto",
	}, svc)
}

func (s *TelegramSessionInternalServer) GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	idVal := req.GetFields()["session_id"]
	if idVal == nil || idVal.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing session_id")
	}
	info, err := s.service.GetSession(ctx, idVal.GetStringValue())
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, status.Error(codes.NotFound, "session not found")
		}
		return nil, status.Errorf(codes.Internal, "get session: %v", err)
	}
	resp, err := structpb.NewStruct(sessionFields(info))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *TelegramSessionInternalServer) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list := s.service.ListSessions(ctx)
	items := make([]any, 0, len(list.Sessions))
	for _, info := range list.Sessions {
		items = append(items, sessionFields(info))
	}
	resp, err := structpb.NewStruct(map[string]any{
		"sessions": items,
		"total":    list.Total,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// sessionFields flattens a summary into structpb-compatible values. The phone number
// is omitted from the internal contract.
func sessionFields(info domain.SessionInfo) map[string]any {
	return map[string]any{
		"session_id":    info.SessionID,
		"is_authorized": info.IsAuthorized,
		"status":        string(info.Status),
		"created_at":    info.CreatedAt.UTC().Format(time.RFC3339),
		"last_used":     info.LastUsed.UTC().Format(time.RFC3339),
	}
}

func unaryHandler[Req any](
	method string,
	newReq func() Req,
	call func(context.Context, Req) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
