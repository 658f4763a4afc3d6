package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var (
	errShuttingDown    = errors.New("server shutting down")
	errLivenessTimeout = fmt.Errorf("%w: liveness timeout", ErrTransportFailure)
	errSendBufferFull  = fmt.Errorf("%w: send buffer full", ErrTransportFailure)
	errMessageTooBig   = fmt.Errorf("%w: message too big", ErrTransportFailure)
)

// Connection is one admitted WebSocket. Its identity is fixed when it is
// created and never changes.
type Connection struct {
	id       string
	userID   string
	username string
	addr     string

	hub       *Hub
	ws        *websocket.Conn
	send      chan []byte
	inbound   chan inboundFrame
	done      chan struct{}
	closeOnce sync.Once

	limiter   *rate.Limiter
	liveness  *livenessMonitor
	writeWait time.Duration
	logger    *slog.Logger
}

func newConnection(h *Hub, ws *websocket.Conn, identity auth.Identity, addr string) *Connection {
	c := &Connection{
		id:        uuid.NewString(),
		userID:    identity.UserID,
		username:  identity.Username,
		addr:      addr,
		hub:       h,
		ws:        ws,
		send:      make(chan []byte, h.cfg.SendBufferSize),
		inbound:   make(chan inboundFrame, h.cfg.SendBufferSize),
		done:      make(chan struct{}),
		limiter:   newRateLimiter(h.cfg.RateLimitBurst, h.cfg.RateLimitRefill),
		writeWait: h.cfg.WriteWait,
	}
	c.logger = h.logger.With("conn", c.id, "user", c.userID, "addr", addr)
	c.liveness = newLivenessMonitor(h.cfg.PingInterval, h.cfg.PongGrace, c.ping, func() {
		c.logger.Info("peer missed heartbeat, evicting", "last_pong", c.liveness.LastPong())
		h.disconnect(c, errLivenessTimeout)
	}, c.done)

	if ws != nil {
		ws.SetReadLimit(int64(h.cfg.MaxMessageSize))
		ws.SetPongHandler(func(string) error {
			c.liveness.acknowledge()
			return nil
		})
	}
	return c
}

// ID is the connection's unique handle.
func (c *Connection) ID() string { return c.id }

// UserID is the verified owner of the connection.
func (c *Connection) UserID() string { return c.userID }

// enqueue queues payload for the write pump without blocking. It returns
// false when the queue is full or the connection is shut down.
func (c *Connection) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Connection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// shutdown stops the pumps and the monitor and closes the socket. Only the
// first call has any effect.
func (c *Connection) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws == nil {
			return
		}

		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("close frame not sent", "err", err)
		}
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", "err", err)
		}
	})
}

// readPump never waits on the store: pongs are only handled inside
// ReadMessage, so routing happens on routePump.
func (c *Connection) readPump() {
	var cause error
	defer func() {
		c.hub.disconnect(c, cause)
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			cause = c.readError(err)
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("rate limit exceeded, discarding frame",
				"burst", c.hub.cfg.RateLimitBurst, "interval", c.hub.cfg.RateLimitRefill)
			continue
		}

		c.handleFrame(raw)
	}
}

// readError classifies a read failure. A nil result means the peer closed
// the connection normally.
func (c *Connection) readError(err error) error {
	select {
	case <-c.done:
		// We closed the socket ourselves.
		return nil
	default:
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("frame exceeded maximum size", "limit", c.hub.cfg.MaxMessageSize)
		return errMessageTooBig
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("client closed connection", "err", err)
		return nil
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("connection closed", "err", err)
		return nil
	}

	c.logger.Warn("websocket read error", "err", err)
	return fmt.Errorf("%w: %v", ErrTransportFailure, err)
}

// handleFrame decodes raw and queues it for routing in receipt order.
func (c *Connection) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.logger.Debug("dropping frame", "err", fmt.Errorf("%w: %v", ErrMalformedFrame, err))
		return
	}

	select {
	case c.inbound <- frame:
	case <-c.done:
	default:
		c.logger.Warn("routing queue full, discarding frame", "queued", len(c.inbound))
	}
}

// routePump routes queued frames one at a time.
func (c *Connection) routePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.inbound:
			c.route(frame)
		}
	}
}

func (c *Connection) route(frame inboundFrame) {
	ctx, cancel := c.hub.storeContext()
	defer cancel()

	delivered, err := c.hub.router.route(ctx, c, frame)
	if err != nil {
		c.logger.Error("message not routed", "recipient", string(frame.Recipient), "err", err)
		return
	}
	c.logger.Debug("message routed", "recipient", string(frame.Recipient), "delivered", delivered)
}

// writePump is the only goroutine writing data frames to the socket.
func (c *Connection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("websocket write error", "err", err)
				}
				c.hub.disconnect(c, fmt.Errorf("%w: %v", ErrTransportFailure, err))
				return
			}
		}
	}
}

func (c *Connection) write(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// closeFrameFor picks the close code sent to the peer for a disconnect
// cause.
func closeFrameFor(cause error) (int, string) {
	switch {
	case cause == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(cause, errShuttingDown):
		return websocket.CloseGoingAway, "server shutting down"
	case errors.Is(cause, errLivenessTimeout):
		return websocket.CloseGoingAway, "liveness timeout"
	case errors.Is(cause, errMessageTooBig):
		return websocket.CloseMessageTooBig, "message too big"
	case errors.Is(cause, errSendBufferFull):
		return websocket.CloseTryAgainLater, "send buffer full"
	default:
		return websocket.CloseInternalServerErr, "transport failure"
	}
}
