// Package session holds the websocket sessions of connected wallets and keeps
// their connection state in the account registry in step with the socket.
package session

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/access_layer/internal/access"
	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/gate"
	internalhttputil "github.com/R3E-Network/access_layer/internal/httputil"
	"github.com/R3E-Network/access_layer/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16

	// CloseSevered is the websocket close code sent when an administrator
	// action ends a session.
	CloseSevered = 4001
)

// Message is the envelope exchanged over a session.
type Message struct {
	Type     string           `json:"type"`
	Feature  string           `json:"feature,omitempty"`
	Account  *account.Account `json:"account,omitempty"`
	Decision *access.Decision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Message types.
const (
	TypeConnected = "connected"
	TypeEvaluate  = "evaluate"
	TypeDecision  = "decision"
	TypeError     = "error"
)

// client is one open websocket.
type client struct {
	id      uuid.UUID
	address string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	severed atomic.Bool
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks sessions by address. It implements admin.Disconnector.
type Hub struct {
	gate         *gate.Gate
	log          *logging.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu      sync.RWMutex
	clients map[string]map[uuid.UUID]*client
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(l *logging.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithCheckOrigin sets the origin check used during the upgrade.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

// WithPingInterval overrides the keepalive interval. Values outside
// (0, 60s) keep the default, since pings must arrive before the read deadline.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 && d < pongWait {
			h.pingInterval = d
		}
	}
}

// NewHub creates a session hub over g.
func NewHub(g *gate.Gate, opts ...Option) *Hub {
	h := &Hub{
		gate: g,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: (pongWait * 9) / 10,
		clients:      make(map[string]map[uuid.UUID]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logging.NewDiscard()
	}
	return h
}

// ServeHTTP admits the address in the path, upgrades the request and runs the
// session until either side closes it. Refused connections get a 403 carrying
// the decision and are never upgraded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	_, decision, err := h.gate.Admit(address)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	if !decision.Allowed {
		internalhttputil.WriteJSON(w, http.StatusForbidden, decision)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		h.release(address)
		return
	}

	acct, err := h.gate.CompleteConnect(address)
	if err != nil {
		// Severed between admission and upgrade.
		h.writeClose(conn, CloseSevered, "session severed")
		_ = conn.Close()
		return
	}

	c := &client{
		id:      uuid.New(),
		address: address,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	h.register(c)

	// A sever that ran between CompleteConnect and register found no socket.
	if current, err := h.gate.Account(address); err != nil || current.ConnectionState != account.Connected {
		h.Disconnect([]string{address}, "session severed")
		return
	}

	h.log.WithContext(r.Context()).WithFields(map[string]interface{}{
		"address":    address,
		"session_id": c.id.String(),
	}).Info("session opened")

	h.enqueue(c, Message{Type: TypeConnected, Account: &acct})

	go h.writePump(c)
	h.readPump(c)
}

// Disconnect closes every session of the given addresses with reason. The
// registry is not touched; callers have already moved the accounts.
func (h *Hub) Disconnect(addresses []string, reason string) {
	var targets []*client
	h.mu.Lock()
	for _, addr := range addresses {
		for id, c := range h.clients[addr] {
			c.severed.Store(true)
			targets = append(targets, c)
			delete(h.clients[addr], id)
		}
		delete(h.clients, addr)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.writeClose(c.conn, CloseSevered, reason)
		c.close()
		h.log.WithFields(map[string]interface{}{
			"address":    c.address,
			"session_id": c.id.String(),
			"reason":     reason,
		}).Info("session severed")
	}
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Close severs every session.
func (h *Hub) Close() {
	h.mu.RLock()
	addrs := make([]string, 0, len(h.clients))
	for addr := range h.clients {
		addrs = append(addrs, addr)
	}
	h.mu.RUnlock()

	h.Disconnect(addrs, "server shutting down")
	for _, addr := range addrs {
		h.release(addr)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.address]
	if !ok {
		set = make(map[uuid.UUID]*client)
		h.clients[c.address] = set
	}
	set[c.id] = c
}

// unregister drops c and reports whether it was the last session of its address.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.address]
	if !ok {
		return true
	}
	delete(set, c.id)
	if len(set) == 0 {
		delete(h.clients, c.address)
		return true
	}
	return false
}

// release moves address back to Disconnected. A deleted account is not an error.
func (h *Hub) release(address string) {
	if _, err := h.gate.Disconnect(address); err != nil {
		h.log.WithError(err).WithField("address", address).Debug("release session")
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		last := h.unregister(c)
		c.close()
		if last && !c.severed.Load() {
			h.release(c.address)
		}
		h.log.WithFields(map[string]interface{}{
			"address":    c.address,
			"session_id": c.id.String(),
		}).Info("session closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) handleMessage(c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.enqueue(c, Message{Type: TypeError, Error: "malformed message"})
		return
	}

	switch msg.Type {
	case TypeEvaluate:
		d, err := h.gate.Evaluate(c.address, msg.Feature)
		if err != nil {
			h.enqueue(c, Message{Type: TypeError, Feature: msg.Feature, Error: err.Error()})
			return
		}
		h.enqueue(c, Message{Type: TypeDecision, Feature: msg.Feature, Decision: &d})
	default:
		h.enqueue(c, Message{Type: TypeError, Error: "unknown message type"})
	}
}

// enqueue drops the message when the client is not keeping up.
func (h *Hub) enqueue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		h.log.WithField("address", c.address).Warn("session send buffer full, dropping message")
	}
}

func (h *Hub) writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
