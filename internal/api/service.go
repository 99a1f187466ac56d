// Package api exposes the sync engine to local clients as a gRPC service
// over the daemon's Unix socket. Messages are structpb.Struct documents
// holding the same JSON the remote service speaks.
package api

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/carechat/internal/binding"
	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
	chatsync "github.com/matheus3301/carechat/internal/sync"
)

// ConnState reports the realtime connection state.
type ConnState interface {
	State() status.ConnState
}

// ChatService implements the ChatService gRPC service.
type ChatService struct {
	engine  *chatsync.Engine
	session *binding.Session
	conn    ConnState
	bus     *bus.Bus
	profile string
	logger  *zap.Logger
}

// NewChatService creates the service. conn may be nil.
func NewChatService(engine *chatsync.Engine, s *binding.Session, conn ConnState, b *bus.Bus, profile string, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{engine: engine, session: s, conn: conn, bus: b, profile: profile, logger: logger.Named("api")}
}

func (s *ChatService) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	doc := StatusDoc{
		Profile:    s.profile,
		UserID:     s.session.UserID(),
		Connection: string(status.Disconnected),
		State:      string(s.engine.View().State),
		PID:        os.Getpid(),
	}
	if s.conn != nil {
		doc.Connection = string(s.conn.State())
	}
	return toStruct(doc)
}

func (s *ChatService) GetView(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.view(nil)
}

func (s *ChatService) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := stringField(req, "userId")
	token := stringField(req, "token")
	if userID == "" || token == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "userId and token are required")
	}
	err := s.session.Start(ctx, userID, token)
	if err != nil && !binding.Degraded(err) {
		s.logger.Warn("sign-in completed with errors", zap.Error(err))
	}
	return s.view(nil)
}

func (s *ChatService) SignOut(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.session.Stop()
	return &emptypb.Empty{}, nil
}

func (s *ChatService) LoadConversations(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.view(s.engine.LoadConversations(ctx))
}

func (s *ChatService) OpenConversation(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.view(s.engine.LoadConversation(ctx, req.GetValue()))
}

func (s *ChatService) CloseConversation(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.engine.CloseCurrent()
	return s.view(nil)
}

func (s *ChatService) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.view(s.engine.SendMessage(ctx, stringField(req, "conversationId"), stringField(req, "body")))
}

func (s *ChatService) CreateConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_, err := s.engine.CreateConversation(ctx,
		stringField(req, "counterpartyId"),
		stringField(req, "subject"),
		stringField(req, "initialMessage"),
	)
	return s.view(err)
}

func (s *ChatService) MarkAsRead(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.view(s.engine.MarkAsRead(ctx, req.GetValue()))
}

func (s *ChatService) SetTyping(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	isTyping := false
	if v, ok := req.GetFields()["isTyping"]; ok {
		isTyping = v.GetBoolValue()
	}
	if err := s.engine.SetTyping(ctx, stringField(req, "conversationId"), isTyping); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// WatchView streams the view once on subscribe and again after every change.
// Bursts of events are coalesced into one send.
func (s *ChatService) WatchView(_ *emptypb.Empty, stream ViewStream) error {
	events, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	var lastSent *structpb.Struct
	send := func() error {
		v, err := s.view(nil)
		if err != nil {
			return err
		}
		if lastSent != nil && proto.Equal(lastSent, v) {
			return nil
		}
		lastSent = v
		return stream.Send(v)
	}
	if err := send(); err != nil {
		return err
	}

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			// Let a burst settle before rendering.
			timer := time.NewTimer(10 * time.Millisecond)
		drain:
			for {
				select {
				case _, ok := <-events:
					if !ok {
						events = nil
					}
				case <-timer.C:
					break drain
				}
			}
			if err := send(); err != nil {
				return err
			}
			if events == nil {
				return nil
			}
		}
	}
}

// view renders the current view. Remote failures travel in the view's
// error field; a missing session or invalid input fails the call.
func (s *ChatService) view(opErr error) (*structpb.Struct, error) {
	if errors.Is(opErr, chaterr.ErrSessionEnded) || chaterr.IsValidation(opErr) {
		return nil, toStatus(opErr)
	}
	return toStruct(newViewDoc(s.engine.View()))
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chaterr.ErrSessionEnded):
		return grpcstatus.Error(codes.FailedPrecondition, "not signed in")
	case chaterr.IsValidation(err):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case chaterr.IsConflict(err):
		return grpcstatus.Error(codes.AlreadyExists, err.Error())
	default:
		var fe *chaterr.FetchError
		var ce *chaterr.ConnectionError
		if errors.As(err, &fe) || errors.As(err, &ce) {
			return grpcstatus.Error(codes.Unavailable, chaterr.Message(err))
		}
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}
