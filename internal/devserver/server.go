package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/wire"
)

// Server serves the chat REST API and the realtime endpoint.
type Server struct {
	db     *DB
	hub    *hub
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Server over db.
func New(db *DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("devserver")
	return &Server{
		db:     db,
		hub:    newHub(logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}))
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/realtime", s.handleRealtime)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations", s.handleCreateConversation)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Post("/conversations/{id}/messages", s.handleSendMessage)
		r.Post("/conversations/{id}/read", s.handleMarkRead)
		r.Post("/conversations/{id}/close", s.handleClose)
		r.Get("/unread-count", s.handleUnreadCount)
	})
	return r
}

// Shutdown closes every realtime connection.
func (s *Server) Shutdown() {
	s.hub.closeAll()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type userKey struct{}

func (s *Server) userFrom(r *http.Request) (*User, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, errNotFound
	}
	return s.db.UserByToken(token)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.userFrom(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

func currentUser(r *http.Request) *User {
	return r.Context().Value(userKey{}).(*User)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.ListConversations(currentUser(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]wire.Conversation, 0, len(rows))
	for _, c := range rows {
		out = append(out, c.wire())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.db.GetConversation(chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	msgs, err := s.db.ListMessages(c.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ConversationDetail{Conversation: c.wire(), Messages: msgs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := s.createConversation(currentUser(r), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req wire.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := s.sendMessage(currentUser(r), chi.URLParam(r, "id"), req.Body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.markRead(currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	id := chi.URLParam(r, "id")
	if _, err := s.db.GetConversation(id, u.ID); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.db.CloseConversation(id); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.db.GetConversation(id, u.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.wire())
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.UnreadCount(currentUser(r).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.UnreadCount{Count: n})
}

// badRequest is a client input error.
type badRequest string

func (e badRequest) Error() string { return string(e) }

func (s *Server) fail(w http.ResponseWriter, err error) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		writeError(w, http.StatusBadRequest, br.Error())
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errActiveExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errClosed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorBody{Error: msg})
}
