package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"callscribe/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ContextInfo describes a connected privileged context.
type ContextInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
	Active      bool      `json:"active"`
}

// HubOptions configures a Hub.
type HubOptions struct {
	// Authorize rejects an upgrade request when it returns an error.
	Authorize func(*http.Request) error
	// CheckOrigin is passed to the websocket upgrader; nil allows any origin.
	CheckOrigin func(*http.Request) bool
	Logger      *slog.Logger
}

// Hub is the websocket Transport. It is an http.Handler privileged contexts
// connect to.
type Hub struct {
	upgrader  websocket.Upgrader
	authorize func(*http.Request) error
	logger    *slog.Logger

	mu      sync.Mutex
	conns   map[string]*hubConn
	pending map[string]chan Reply
}

type hubConn struct {
	id          string
	name        string
	remote      string
	ws          *websocket.Conn
	writeMu     sync.Mutex
	connectedAt time.Time
	lastActive  time.Time
	done        chan struct{}
}

func (c *hubConn) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *hubConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// NewHub constructs a Hub with no connected contexts.
func NewHub(opts HubOptions) *Hub {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		authorize: opts.Authorize,
		logger:    logging.NewComponentLogger(opts.Logger, "proxy-hub"),
		conns:     make(map[string]*hubConn),
		pending:   make(map[string]chan Reply),
	}
}

// ServeHTTP upgrades the request and serves one privileged context until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authorize != nil {
		if err := h.authorize(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	now := time.Now()
	conn := &hubConn{
		id:          uuid.NewString(),
		name:        r.URL.Query().Get("name"),
		remote:      r.RemoteAddr,
		ws:          ws,
		connectedAt: now,
		lastActive:  now,
		done:        make(chan struct{}),
	}
	h.register(conn)
	defer h.unregister(conn)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(conn, stopPing)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = conn.write(frame{Type: frameError, Message: "invalid json"})
			continue
		}
		switch f.Type {
		case frameHello, frameActivity:
			h.touch(conn, f.Name)
		case frameResponse:
			if f.Response == nil {
				_ = conn.write(frame{Type: frameError, Message: "response frame without response"})
				continue
			}
			h.touch(conn, "")
			h.deliver(*f.Response)
		default:
			_ = conn.write(frame{Type: frameError, Message: "unknown frame type"})
		}
	}
}

func (h *Hub) pingLoop(conn *hubConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *Hub) register(conn *hubConn) {
	h.mu.Lock()
	h.conns[conn.id] = conn
	count := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("privileged context connected",
		logging.String("context_id", conn.id),
		logging.String("name", conn.name),
		logging.String("remote", conn.remote),
		logging.Int("connected", count),
	)
}

func (h *Hub) unregister(conn *hubConn) {
	h.mu.Lock()
	delete(h.conns, conn.id)
	count := len(h.conns)
	h.mu.Unlock()
	close(conn.done)
	_ = conn.ws.Close()
	h.logger.Info("privileged context disconnected",
		logging.String("context_id", conn.id),
		logging.Int("connected", count),
	)
}

func (h *Hub) touch(conn *hubConn, name string) {
	h.mu.Lock()
	conn.lastActive = time.Now()
	if name != "" {
		conn.name = name
	}
	h.mu.Unlock()
}

func (h *Hub) deliver(reply Reply) {
	h.mu.Lock()
	ch, ok := h.pending[reply.ID]
	delete(h.pending, reply.ID)
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("reply for unknown request dropped", logging.String(logging.FieldCorrelationID, reply.ID))
		return
	}
	ch <- reply
}

// activeLocked returns the most recently active connection.
func (h *Hub) activeLocked() *hubConn {
	var best *hubConn
	for _, c := range h.conns {
		if best == nil || c.lastActive.After(best.lastActive) {
			best = c
		}
	}
	return best
}

// RoundTrip sends env to the most recently active context and waits for its
// reply.
func (h *Hub) RoundTrip(ctx context.Context, env Envelope) (Reply, error) {
	replyCh := make(chan Reply, 1)
	h.mu.Lock()
	conn := h.activeLocked()
	if conn == nil {
		h.mu.Unlock()
		return Reply{}, ErrNoPrivilegedContext
	}
	h.pending[env.ID] = replyCh
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, env.ID)
		h.mu.Unlock()
	}()

	if err := conn.write(frame{Type: frameRequest, Request: &env}); err != nil {
		return Reply{}, fmt.Errorf("send to privileged context %s: %w", conn.id, err)
	}
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-conn.done:
		return Reply{}, errors.New("privileged context closed before replying")
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Contexts lists connected privileged contexts, most recently active first.
func (h *Hub) Contexts() []ContextInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.activeLocked()
	out := make([]ContextInfo, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, ContextInfo{
			ID:          c.id,
			Name:        c.name,
			RemoteAddr:  c.remote,
			ConnectedAt: c.connectedAt,
			LastActive:  c.lastActive,
			Active:      c == active,
		})
	}
	slices.SortFunc(out, func(a, b ContextInfo) int { return b.LastActive.Compare(a.LastActive) })
	return out
}
