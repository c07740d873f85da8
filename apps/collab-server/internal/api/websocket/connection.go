package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/qamatch/collab/pkg/collaboration"
	"github.com/qamatch/collab/pkg/observability"
)

// Connection is one client socket. It is bound to a user identity by its
// first successful join and tracks the document that identity joined.
type Connection struct {
	ID string

	conn    *websocket.Conn
	server  *Server
	send    chan []byte
	limiter *rate.Limiter

	mu         sync.RWMutex
	userID     string
	documentID string

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id string, conn *websocket.Conn, server *Server) *Connection {
	cfg := server.config
	return &Connection{
		ID:      id,
		conn:    conn,
		server:  server,
		send:    make(chan []byte, cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst),
		closed:  make(chan struct{}),
	}
}

// UserID returns the identity the connection is bound to
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// DocumentID returns the document the connection has joined
func (c *Connection) DocumentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.documentID
}

func (c *Connection) bind(userID, documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.documentID = documentID
}

func (c *Connection) clearDocument() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documentID = ""
}

// enqueue queues payload for the write pump without blocking
func (c *Connection) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
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

func (c *Connection) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// readPump reads frames until the socket fails or ctx ends, then leaves
// the joined session
func (c *Connection) readPump(ctx context.Context) {
	logger := observability.LoggerFromContext(ctx, c.server.logger)
	defer func() {
		c.markClosed()
		c.server.disconnect(ctx, c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, frame, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				logger.Debug("WebSocket read ended", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}

		if !c.limiter.Allow() {
			c.server.metrics.IncrementCounter("ws_rate_limited_total", 1)
			c.sendEvent(collaboration.OutboundEvent{
				Name: collaboration.EventError,
				Data: collaboration.ErrorPayload{
					Code:    collaboration.ErrCodeRateLimited,
					Message: "rate limit exceeded",
				},
			})
			continue
		}

		if typ != websocket.MessageText {
			c.sendError("", &collaboration.MalformedEventError{Reason: "binary frames are not supported"})
			continue
		}

		c.server.handleFrame(ctx, c, frame)
	}
}

// writePump writes queued frames and pings the client until the
// connection closes
func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()
	logger := observability.LoggerFromContext(ctx, c.server.logger)

	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		case payload := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.server.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				logger.Debug("WebSocket write failed", map[string]interface{}{
					"error": err.Error(),
				})
				c.markClosed()
				_ = c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.server.config.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("WebSocket ping failed", map[string]interface{}{
					"error": err.Error(),
				})
				c.markClosed()
				_ = c.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

// sendEvent queues event for this connection only
func (c *Connection) sendEvent(event collaboration.OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.server.logger.Error("Failed to marshal event", map[string]interface{}{
			"connection_id": c.ID,
			"event":         event.Name,
			"error":         err.Error(),
		})
		return
	}
	if !c.enqueue(payload) {
		c.server.metrics.IncrementCounterWithLabels("ws_messages_dropped_total", 1, map[string]string{"event": event.Name})
	}
}

// sendError reports err for the inbound event named event
func (c *Connection) sendError(event string, err error) {
	c.sendEvent(collaboration.NewErrorEvent(event, err))
}
