package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/wire"
)

// handleRealtime upgrades an authenticated request to the realtime socket.
// The first frame sent is "authenticated".
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	u, err := s.userFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(wire.MaxFrameBytes)

	ctx := r.Context()
	hello, _ := json.Marshal(wire.Envelope{Type: wire.TypeAuthenticated})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		return
	}

	s.hub.add(u.ID, conn)
	defer s.hub.remove(u.ID, conn)
	s.logger.Info("realtime connected", zap.String("user", u.ID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("realtime read ended", zap.String("user", u.ID), zap.Error(err))
			}
			s.logger.Info("realtime disconnected", zap.String("user", u.ID))
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.reply(ctx, conn, "", "malformed frame")
			continue
		}
		if err := s.handleFrame(u, env); err != nil {
			s.reply(ctx, conn, env.ConversationID, frameError(err))
		}
	}
}

func (s *Server) handleFrame(u *User, env wire.Envelope) error {
	switch env.Type {
	case wire.TypeMessageSend:
		_, err := s.sendMessage(u, env.ConversationID, env.Body)
		return err
	case wire.TypeMessagesRead:
		return s.markRead(u, env.ConversationID)
	case wire.TypeTyping:
		isTyping := env.Metadata != nil && env.Metadata.IsTyping
		return s.relayTyping(u, env.ConversationID, isTyping)
	default:
		return badRequest("unknown frame type " + env.Type)
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, convID, msg string) {
	data, _ := json.Marshal(wire.Envelope{
		Type:           wire.TypeError,
		ConversationID: convID,
		Metadata:       &wire.Metadata{Error: msg},
	})
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func frameError(err error) string {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return br.Error()
	case errors.Is(err, errNotFound):
		return "conversation not found"
	case errors.Is(err, errForbidden), errors.Is(err, errClosed):
		return err.Error()
	default:
		return "internal error"
	}
}
