package devserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/wire"
)

const writeTimeout = 5 * time.Second

// hub tracks open realtime connections by user.
type hub struct {
	logger *zap.Logger

	mu    sync.Mutex
	peers map[string]map[*websocket.Conn]struct{}
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, peers: make(map[string]map[*websocket.Conn]struct{})}
}

func (h *hub) add(userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.peers[userID]
	if set == nil {
		set = make(map[*websocket.Conn]struct{})
		h.peers[userID] = set
	}
	set[c] = struct{}{}
}

func (h *hub) remove(userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers[userID], c)
	if len(h.peers[userID]) == 0 {
		delete(h.peers, userID)
	}
}

// online reports how many connections userID has open.
func (h *hub) online(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers[userID])
}

// send writes env to every connection of userID.
func (h *hub) send(userID string, env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal frame", zap.Error(err))
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.peers[userID]))
	for c := range h.peers[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			h.logger.Debug("frame write failed", zap.String("user", userID), zap.Error(err))
		}
		cancel()
	}
}

// closeAll drops every connection.
func (h *hub) closeAll() {
	h.mu.Lock()
	var conns []*websocket.Conn
	for _, set := range h.peers {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
