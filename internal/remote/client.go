// Package remote is the REST client for the remote chat service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/store"
	"github.com/matheus3301/carechat/internal/wire"
)

// TokenSource yields the session bearer token, or false when the user is
// not authenticated.
type TokenSource interface {
	Token() (string, bool)
}

// StaticToken is a TokenSource with a fixed token.
type StaticToken string

func (s StaticToken) Token() (string, bool) { return string(s), s != "" }

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client calls the conversation endpoints of the remote service.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a client rooted at opts.BaseURL.
func New(opts Options, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(int(opts.RequestsPerSecond), 1)
	}
	return &Client{
		base:    base,
		http:    hc,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// ListConversations fetches every conversation of the current user.
func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var out []wire.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return wire.Conversations(out), nil
}

// GetConversation fetches a conversation and its full ordered history.
func (c *Client) GetConversation(ctx context.Context, id string) (store.Conversation, []store.Message, error) {
	var out wire.ConversationDetail
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return store.Conversation{}, nil, err
	}
	conv := out.Conversation.ToStore()
	if conv.ID == "" {
		conv.ID = id
	}
	return conv, wire.Messages(conv.ID, out.Messages), nil
}

// CreateConversation opens a conversation with a counterparty. A 409 from
// the server is returned as *chaterr.ConflictError.
func (c *Client) CreateConversation(ctx context.Context, counterpartyID, subject, initialMessage string) (store.Conversation, error) {
	req := wire.CreateConversationRequest{
		CounterpartyID: counterpartyID,
		Subject:        subject,
		InitialMessage: initialMessage,
	}
	var out wire.Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", req, &out)
	var fe *chaterr.FetchError
	if errors.As(err, &fe) && fe.Status == http.StatusConflict {
		return store.Conversation{}, &chaterr.ConflictError{Resource: "conversation", Message: fe.Message}
	}
	if err != nil {
		return store.Conversation{}, err
	}
	return out.ToStore(), nil
}

// SendMessage posts a message and returns the server's authoritative copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (store.Message, error) {
	var out wire.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, wire.SendMessageRequest{Body: body}, &out); err != nil {
		return store.Message{}, err
	}
	if out.ConversationID == "" {
		out.ConversationID = conversationID
	}
	return out.ToStore(), nil
}

// MarkRead posts a read receipt for every message in the conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// UnreadCount fetches the total unread count across conversations.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out wire.UnreadCount
	if err := c.do(ctx, http.MethodGet, "/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return max(out.Count, 0), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	fail := func(status int, msg string, err error) error {
		return &chaterr.FetchError{Method: method, Path: path, Status: status, Message: msg, Err: err}
	}

	token, ok := c.tokens.Token()
	if !ok {
		return fail(0, "", errors.New("no session token"))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fail(0, "", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fail(0, "", fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fail(0, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fail(0, "", err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, errorMessage(resp.Body), nil)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorMessage extracts the server's error text from a failed response.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var eb wire.ErrorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(data))
}
