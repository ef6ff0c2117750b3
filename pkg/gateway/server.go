package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/umile/internal/observability"
	"github.com/harun/umile/internal/tracing"
	"github.com/harun/umile/pkg/channels"
	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/pool"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Name is the channel name of the gateway.
const Name = "gateway"

const (
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

var _ channels.Channel = (*Server)(nil)

// Server is a WebSocket event source. Each text frame is one request; every
// reply for it is written back on the same connection.
type Server struct {
	host              string
	port              int
	requestsPerMinute int
	maxInFlight       int
	writeTimeout      time.Duration
	stats             func() pool.Stats
	logger            zerolog.Logger

	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	authHandler *AuthHandler
	broadcaster *EventBroadcaster

	mu             sync.RWMutex
	server         *http.Server
	listener       net.Listener
	dispatch       channels.DispatchFunc
	baseCtx        context.Context
	isShuttingDown bool

	inFlightReqs sync.WaitGroup
	connWG       sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	// Port 0 picks a free port; see Addr.
	Port              int
	SharedSecret      string
	RequestsPerMinute int
	MaxInFlight       int
	WriteTimeout      time.Duration
	// Stats reports the worker pool state on /stats.
	Stats  func() pool.Stats
	Logger zerolog.Logger
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	observability.EnsureRegistered()

	return &Server{
		host:              cfg.Host,
		port:              cfg.Port,
		requestsPerMinute: cfg.RequestsPerMinute,
		maxInFlight:       cfg.MaxInFlight,
		writeTimeout:      cfg.WriteTimeout,
		stats:             cfg.Stats,
		logger:            logger,
		clients:           clients,
		authHandler:       NewAuthHandler(cfg.SharedSecret),
		broadcaster:       NewEventBroadcaster(clients, logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Name returns the channel name.
func (s *Server) Name() string {
	return Name
}

// Handler returns the HTTP routes of the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.authHandler.Require(s.handleWebSocket))
	mux.HandleFunc("/stats", s.authHandler.Require(s.handleStats))
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if dispatch == nil {
		return errors.New("dispatch function is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("gateway already started")
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.dispatch = dispatch
	s.baseCtx = context.WithoutCancel(ctx)
	s.isShuttingDown = false
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting Gateway Server")

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop notifies clients, closes their connections and shuts the HTTP
// server down. Tasks already dispatched keep running in the pool.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.server == nil {
		s.mu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	server := s.server
	s.mu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.connWG.Wait()

	s.mu.Lock()
	s.server = nil
	s.listener = nil
	s.dispatch = nil
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

// Clients returns information about connected clients.
func (s *Server) Clients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"clients": s.clients.GetConnectedClients(),
	}
	if s.stats != nil {
		body["pool"] = s.stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write stats")
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	shuttingDown := s.isShuttingDown || s.dispatch == nil
	s.mu.RUnlock()
	if shuttingDown {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiterWithLimits(s.requestsPerMinute, s.maxInFlight),
		writeTimeout: s.writeTimeout,
	}

	observability.SetGatewayClients(s.clients.Add(client))
	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	s.connWG.Add(1)
	go s.handleClient(client)
}

// handleClient reads requests from a client until it disconnects.
func (s *Server) handleClient(client *Client) {
	defer s.connWG.Done()
	defer func() {
		client.Conn.Close()
		observability.SetGatewayClients(s.clients.Remove(client.ID))
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		msgType, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage validates one request and hands it to the dispatcher.
func (s *Server) handleMessage(client *Client, message []byte) {
	s.mu.RLock()
	dispatch := s.dispatch
	baseCtx := s.baseCtx
	shuttingDown := s.isShuttingDown
	s.mu.RUnlock()

	if shuttingDown || dispatch == nil {
		observability.RecordGatewayMessage("rejected")
		s.sendError(client, "", CodeShuttingDown, "server is shutting down")
		return
	}

	if err := ValidateRequest(message); err != nil {
		observability.RecordGatewayMessage("invalid")
		s.sendError(client, "", CodeInvalidRequest, err.Error())
		return
	}

	var in InboundRequest
	if err := json.Unmarshal(message, &in); err != nil {
		observability.RecordGatewayMessage("invalid")
		s.sendError(client, "", CodeInvalidRequest, err.Error())
		return
	}

	if ok, reason := client.RateLimiter.Acquire(); !ok {
		code := CodeRateLimited
		if reason == reasonTooManyConcurrent {
			code = CodeTooManyConcurrent
		}
		observability.RecordGatewayMessage("throttled")
		s.sendError(client, in.EventID, code, reason)
		return
	}
	observability.RecordGatewayMessage("accepted")

	req := dispatcher.Request{
		EventID:     in.EventID,
		Channel:     Name,
		Thread:      in.Thread,
		RequesterID: in.RequesterID,
		Text:        in.Text,
	}
	if req.Thread == "" {
		req.Thread = client.ID
	}
	if req.RequesterID == "" {
		req.RequesterID = client.ID
	}

	origin := &clientOrigin{client: client, eventID: in.EventID}

	s.inFlightReqs.Add(1)
	handle := func() *pool.Handle {
		defer s.inFlightReqs.Done()
		return dispatch(baseCtx, req, origin)
	}()

	if handle == nil {
		client.RateLimiter.Release()
		return
	}
	go func() {
		<-handle.Done()
		client.RateLimiter.Release()
	}()
}

func (s *Server) sendError(client *Client, eventID, code, text string) {
	err := client.Send(OutboundMessage{
		Type:    TypeError,
		EventID: eventID,
		Code:    code,
		Text:    text,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("clientId", client.ID).Str("code", code).Msg("Failed to send error")
	}
}

// clientOrigin routes replies for one request back to its connection.
type clientOrigin struct {
	client  *Client
	eventID string
}

func (o *clientOrigin) Reply(ctx context.Context, text string) error {
	return o.client.Send(OutboundMessage{
		Type:    TypeReply,
		EventID: o.eventID,
		TaskID:  tracing.GetTaskID(ctx),
		Text:    text,
	})
}
