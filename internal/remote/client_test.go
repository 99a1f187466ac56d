package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/carechat/internal/chaterr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", Timeout: time.Second}, StaticToken("tok"), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"}, StaticToken("t"), nil)
	require.Error(t, err)
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/conversations", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = w.Write([]byte(`[{"id":"c1","counterpartyId":"f1","status":"active","unreadCount":1},{"id":"c2","status":"closed"}]`))
	})

	got, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c1", got[0].ID)
	require.True(t, got[0].Active())
	require.False(t, got[1].Active())
}

func TestGetConversation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/c1", r.URL.Path)
		_, _ = w.Write([]byte(`{"conversation":{"id":"c1"},"messages":[
			{"id":"m1","senderId":"u1","body":"a","createdAt":"2026-01-01T00:00:01Z"},
			{"id":"m2","senderId":"f1","body":"b","createdAt":"2026-01-01T00:00:02Z","read":true}]}`))
	})

	conv, msgs, err := c.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", conv.ID)
	require.Len(t, msgs, 2)
	require.Equal(t, "c1", msgs[0].ConversationID)
	require.True(t, msgs[1].Read)
}

func TestCreateConversationConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "f1", req["counterpartyId"])
		require.Equal(t, "hello", req["initialMessage"])
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"active conversation exists"}`))
	})

	_, err := c.CreateConversation(context.Background(), "f1", "subj", "hello")
	require.Error(t, err)
	require.True(t, chaterr.IsConflict(err))
	require.Contains(t, err.Error(), "active conversation exists")
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/c1/messages", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"m9","senderId":"u1","body":"hey","createdAt":"2026-01-01T00:00:09Z"}`))
	})

	m, err := c.SendMessage(context.Background(), "c1", "hey")
	require.NoError(t, err)
	require.Equal(t, "m9", m.ID)
	require.Equal(t, "c1", m.ConversationID)
}

func TestMarkReadNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/c1/read", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.MarkRead(context.Background(), "c1"))
}

func TestUnreadCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":7}`))
	})
	n, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestServerErrorIsFetchError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListConversations(context.Background())
	var fe *chaterr.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusInternalServerError, fe.Status)
	require.Equal(t, "boom", chaterr.Message(err))
}

func TestNetworkErrorIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Options{BaseURL: srv.URL}, StaticToken("tok"), nil)
	require.NoError(t, err)

	_, err = c.UnreadCount(context.Background())
	var fe *chaterr.FetchError
	require.True(t, errors.As(err, &fe))
	require.Zero(t, fe.Status)
	require.Equal(t, "network unavailable", chaterr.Message(err))
}

func TestMissingTokenFailsBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()
	c, err := New(Options{BaseURL: srv.URL}, StaticToken(""), nil)
	require.NoError(t, err)

	_, err = c.ListConversations(context.Background())
	require.Error(t, err)
	require.False(t, called)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":0}`))
	})
	c.limiter = rate.NewLimiter(0.001, 1)

	_, err := c.UnreadCount(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.UnreadCount(ctx)
	require.Error(t, err)
}
