package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/presence"
	"github.com/Tyrowin/pairchat/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const storeTimeout = 5 * time.Second

// Hub admits authenticated WebSocket connections and owns their lifecycle:
// registration, heartbeat, presence fan-out, message routing and removal.
type Hub struct {
	cfg         Config
	registry    *Registry
	broadcaster *presenceBroadcaster
	router      *messageRouter
	verifier    auth.Verifier
	upgrader    websocket.Upgrader
	origins     *originPolicy
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders admissions against Shutdown so no pump starts after the
	// hub began closing.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub's logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithPresenceMirror copies every presence set to m.
func WithPresenceMirror(m presence.Mirror) HubOption {
	return func(h *Hub) {
		h.broadcaster.mirror = m
	}
}

// NewHub creates a hub ready to serve connections. A nil cfg uses defaults.
func NewHub(cfg *Config, verifier auth.Verifier, messages store.MessageStore, opts ...HubOption) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      sanitizeConfig(*cfg),
		registry: NewRegistry(),
		verifier: verifier,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.broadcaster = &presenceBroadcaster{registry: h.registry, drop: h.disconnect}

	for _, opt := range opts {
		opt(h)
	}

	h.broadcaster.logger = h.logger
	h.router = &messageRouter{
		registry: h.registry,
		messages: messages,
		validate: validator.New(),
		drop:     h.disconnect,
		logger:   h.logger,
	}
	h.origins = newOriginPolicy(h.cfg.AllowedOrigins, h.logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.checkOrigin,
	}
	return h
}

// ServeWS upgrades the request and admits the connection if its session
// cookie verifies. Unauthenticated peers are closed with a policy-violation
// frame and never registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		h.logger.Info("rejecting unauthenticated connection", "addr", r.RemoteAddr, "err", err)
		h.reject(ws, websocket.ClosePolicyViolation, "unauthenticated")
		return
	}

	h.admit(newConnection(h, ws, identity, r.RemoteAddr))
}

func (h *Hub) authenticate(r *http.Request) (auth.Identity, error) {
	cookie, err := r.Cookie(h.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return auth.Identity{}, ErrUnauthenticated
	}
	return h.verifier.Verify(r.Context(), cookie.Value)
}

func (h *Hub) reject(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait)); err != nil && !isExpectedCloseError(err) {
		h.logger.Debug("close frame not sent", "err", err)
	}
	_ = ws.Close()
}

// admit registers c, starts its goroutines and announces the new presence
// set.
func (h *Hub) admit(c *Connection) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		c.shutdown(closeFrameFor(errShuttingDown))
		return
	}
	h.registry.Add(c)
	h.wg.Add(4)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.liveness.run()
	}()
	go func() {
		defer h.wg.Done()
		c.routePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	c.logger.Info("client connected", "username", c.username, "connections", h.registry.Len())
	h.broadcaster.refresh()
}

// disconnect is the single exit path for a connection. It may be called
// any number of times from any goroutine; presence is refreshed only by the
// call that actually removed the connection.
func (h *Hub) disconnect(c *Connection, cause error) {
	c.shutdown(closeFrameFor(cause))

	if !h.registry.Remove(c) {
		return
	}
	c.logger.Info("client disconnected", "cause", cause, "connections", h.registry.Len())

	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		return
	}
	h.broadcaster.refresh()
}

// Online returns the current presence set.
func (h *Hub) Online() []presence.Entry {
	return onlineSet(h.registry.Snapshot())
}

// ConnectionCount returns the number of admitted connections.
func (h *Hub) ConnectionCount() int {
	return h.registry.Len()
}

func (h *Hub) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, storeTimeout)
}

// Shutdown closes every connection with a going-away frame and waits for
// their goroutines. It returns context.DeadlineExceeded if they do not
// finish within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	clients := h.registry.Snapshot()
	for _, c := range clients {
		h.disconnect(c, errShuttingDown)
	}
	h.cancel()
	h.logger.Info("closed client connections", "count", len(clients))

	// Publishes the now empty set to the mirror.
	h.broadcaster.refresh()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
