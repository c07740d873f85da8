// Package websocket serves the collaboration event channel over WebSocket
// connections. Each connection is bound to one user identity and
// subscribed to the room of the document that identity joined.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/qamatch/collab/pkg/collaboration"
	"github.com/qamatch/collab/pkg/config"
	"github.com/qamatch/collab/pkg/observability"
)

// Server accepts WebSocket connections and dispatches their events to the
// collaboration coordinator
type Server struct {
	coordinator *collaboration.Coordinator
	hub         *Hub
	config      config.WebSocketConfig
	logger      observability.Logger
	metrics     observability.MetricsClient

	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewServer creates a WebSocket server. hub must be the Broadcaster the
// coordinator was built with.
func NewServer(coordinator *collaboration.Coordinator, hub *Hub, cfg config.WebSocketConfig, logger observability.Logger, metrics observability.MetricsClient) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.RateLimit.Rate <= 0 {
		cfg.RateLimit.Rate = 50
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 100
	}

	return &Server{
		coordinator: coordinator,
		hub:         hub,
		config:      cfg,
		logger:      logger.WithPrefix("websocket"),
		metrics:     metrics,
		connections: make(map[string]*Connection),
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.config.AllowedOrigins}
	for _, origin := range s.config.AllowedOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
		}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.metrics.IncrementCounterWithLabels("ws_connection_failures_total", 1, map[string]string{"reason": "accept"})
		s.logger.Warn("WebSocket accept failed", map[string]interface{}{
			"error":       err.Error(),
			"remote_addr": r.RemoteAddr,
		})
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)

	id := uuid.NewString()
	c := newConnection(id, conn, s)
	s.register(c)

	ctx, cancel := context.WithCancel(observability.WithConnectionID(r.Context(), id))
	defer cancel()

	s.logger.Debug("WebSocket connection opened", map[string]interface{}{
		"connection_id": id,
		"remote_addr":   r.RemoteAddr,
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	cancel()
	<-writerDone

	s.logger.Debug("WebSocket connection closed", map[string]interface{}{
		"connection_id": id,
	})
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.connections[c.ID] = c
	count := len(s.connections)
	s.mu.Unlock()

	s.metrics.IncrementCounter("ws_connections_total", 1)
	s.metrics.RecordGauge("ws_connections_active", float64(count), nil)
}

// handleFrame decodes one inbound frame and runs it for c
func (s *Server) handleFrame(ctx context.Context, c *Connection, frame []byte) {
	ev, err := collaboration.DecodeEvent(frame)
	if err != nil {
		var malformed *collaboration.MalformedEventError
		name := ""
		if errors.As(err, &malformed) {
			name = malformed.Event
		}
		s.reject(ctx, c, name, err)
		return
	}

	switch e := ev.(type) {
	case *collaboration.JoinEvent:
		err = s.join(ctx, c, e)
	case *collaboration.LeaveEvent:
		err = s.leave(ctx, c, e)
	default:
		_, err = s.coordinator.HandleEvent(ctx, c.UserID(), ev)
	}
	if err != nil {
		s.reject(ctx, c, ev.EventName(), err)
	}
}

// join resolves the joining identity and subscribes c to the document room
// before the coordinator emits session_state to it
func (s *Server) join(ctx context.Context, c *Connection, ev *collaboration.JoinEvent) error {
	bound := c.UserID()
	if bound != "" && ev.UserID != "" && ev.UserID != bound {
		return &collaboration.MalformedEventError{Event: ev.EventName(), Reason: "user_id does not match the joined identity"}
	}
	if ev.UserID == "" {
		ev.UserID = bound
	}
	ev.UserID, ev.UserName = collaboration.ResolveIdentity(ev.UserID, ev.UserName)

	previous := c.DocumentID()
	s.hub.subscribe(ev.ContentID, c, ev.UserID)

	userID, err := s.coordinator.HandleEvent(ctx, bound, ev)
	if err != nil {
		if previous != ev.ContentID {
			s.hub.unsubscribe(ev.ContentID, c)
		}
		return err
	}

	c.bind(userID, ev.ContentID)
	if previous != "" && previous != ev.ContentID {
		s.hub.unsubscribe(previous, c)
	}
	return nil
}

func (s *Server) leave(ctx context.Context, c *Connection, ev *collaboration.LeaveEvent) error {
	documentID := c.DocumentID()
	if _, err := s.coordinator.HandleEvent(ctx, c.UserID(), ev); err != nil {
		return err
	}
	if documentID != "" {
		s.hub.unsubscribe(documentID, c)
		c.clearDocument()
	}
	return nil
}

// reject reports err to c. Lock conflicts are already answered with
// lock_failed.
func (s *Server) reject(ctx context.Context, c *Connection, event string, err error) {
	var conflict *collaboration.LockConflictError
	if errors.As(err, &conflict) {
		return
	}

	code := collaboration.ErrorCode(err)
	s.metrics.IncrementCounterWithLabels("ws_errors_total", 1, map[string]string{"event": event})
	fields := map[string]interface{}{
		"event": event,
		"code":  code,
		"error": err.Error(),
	}
	if code == collaboration.ErrCodeServerError {
		observability.LoggerFromContext(ctx, s.logger).Error("Event failed", fields)
	} else {
		observability.LoggerFromContext(ctx, s.logger).Debug("Event rejected", fields)
	}
	c.sendError(event, err)
}

// disconnect forgets c and leaves its session unless another connection of
// the same user is still in the room
func (s *Server) disconnect(ctx context.Context, c *Connection) {
	s.mu.Lock()
	delete(s.connections, c.ID)
	count := len(s.connections)
	s.mu.Unlock()
	s.metrics.RecordGauge("ws_connections_active", float64(count), nil)

	userID, documentID := c.UserID(), c.DocumentID()
	if documentID == "" {
		return
	}
	if s.hub.remove(documentID, c, userID) {
		return
	}
	if err := s.coordinator.LeaveDocument(context.WithoutCancel(ctx), userID, documentID); err != nil {
		s.logger.Warn("Failed to leave session on disconnect", map[string]interface{}{
			"connection_id": c.ID,
			"user_id":       userID,
			"document_id":   documentID,
			"error":         err.Error(),
		})
	}
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Close closes every open connection. Their sessions are left as each
// read loop ends.
func (s *Server) Close() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.markClosed()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
