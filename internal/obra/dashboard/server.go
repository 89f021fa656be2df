// Package dashboard serves the project workspace over HTTP and pushes every
// change to connected WebSocket clients.
//
// Clients receive a snapshot message on connect and then one message per
// workspace event: a snapshot after local, remote or imported edits, a
// status message when the sync status moves, and key_changed when the
// active project key is switched.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mschirtzinger/obracontrol/internal/metrics"
)

// MessageType names a dashboard message.
type MessageType string

const (
	// MessageTypeSnapshot carries the full dataset of the active key.
	MessageTypeSnapshot MessageType = "snapshot"
	// MessageTypeStatus carries a sync status transition.
	MessageTypeStatus MessageType = "status"
	// MessageTypeKeyChanged is sent when the active project key is switched.
	MessageTypeKeyChanged MessageType = "key_changed"
)

// Message is one frame pushed to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	// sendQueue is how many frames a client may fall behind before it is
	// disconnected.
	sendQueue    = 32
	writeTimeout = 5 * time.Second
)

// peer is one connected browser. Frames are queued and written by the
// peer's own goroutine so a slow client never holds up the others.
type peer struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
}

func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.out)
		_ = p.conn.Close(code, reason)
	})
}

// Server holds the HTTP routes and the set of connected peers.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	router   chi.Router

	// welcome builds the first message sent to a new client.
	welcome func() (Message, bool)

	// origins lists extra browser origin hosts, as path.Match patterns,
	// allowed to open the WebSocket and call mutating routes.
	origins []string

	mu    sync.Mutex
	peers map[*peer]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Metrics
	logger  *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks a free port.
	Port int
	// Host to bind. Empty binds all interfaces.
	Host string
	// AllowedOrigins holds origin host patterns, such as
	// "app.example.com" or "*.example.com", accepted besides the server's
	// own host. Only "*" accepts every origin.
	AllowedOrigins []string
	// Metrics is exposed on /metrics and tracks the client count.
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// DefaultConfig listens on 127.0.0.1:8080 and logs to stderr.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Host:   "127.0.0.1",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. Handlers register their routes on
// Router before Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:    net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		peers:   make(map[*peer]struct{}),
		origins: config.AllowedOrigins,
		ctx:     ctx,
		cancel:  cancel,
		metrics: config.Metrics,
		logger:  config.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.sameOrigin)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", config.Metrics.Handler())
	s.router = r
	return s
}

// Router exposes the route tree.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")
	s.cancel()

	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[*peer]struct{})
	s.mu.Unlock()
	for p := range peers {
		p.close(websocket.StatusGoingAway, "Server shutting down")
	}
	s.metrics.SetClients(0)

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast queues msg for every connected client. Clients whose queue is
// full are dropped.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	var slow []*peer
	s.mu.Lock()
	for p := range s.peers {
		select {
		case p.out <- frame:
		default:
			slow = append(slow, p)
		}
	}
	s.mu.Unlock()

	for _, p := range slow {
		s.logger.Printf("Warning: client fell %d messages behind, disconnecting", sendQueue)
		s.drop(p, websocket.StatusPolicyViolation, "too slow")
	}
}

// BroadcastData marshals data into a message of the given type.
func (s *Server) BroadcastData(typ MessageType, data any) {
	msg, err := newMessage(typ, data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", typ, err)
		return
	}
	s.Broadcast(msg)
}

func newMessage(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	p := &peer{conn: conn, out: make(chan []byte, sendQueue)}

	// The snapshot is queued before the peer joins the set so it is
	// always the first frame.
	if s.welcome != nil {
		if msg, ok := s.welcome(); ok {
			frame, err := json.Marshal(msg)
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "welcome failed")
				return
			}
			p.out <- frame
		}
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		return
	}
	s.peers[p] = struct{}{}
	n := len(s.peers)
	s.mu.Unlock()
	s.metrics.SetClients(n)
	s.logger.Printf("Client connected (total: %d)", n)

	go s.writeLoop(p)
	go s.readLoop(p)
}

func (s *Server) writeLoop(p *peer) {
	for frame := range p.out {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := p.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.drop(p, websocket.StatusInternalError, "write failed")
			return
		}
	}
}

// readLoop discards client frames and notices disconnects.
func (s *Server) readLoop(p *peer) {
	for {
		if _, _, err := p.conn.Read(s.ctx); err != nil {
			s.drop(p, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) drop(p *peer, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	_, ok := s.peers[p]
	delete(s.peers, p)
	n := len(s.peers)
	s.mu.Unlock()
	if !ok {
		return
	}
	p.close(code, reason)
	s.metrics.SetClients(n)
	s.logger.Printf("Client disconnected (total: %d)", n)
}

// sameOrigin rejects state-changing requests sent by a page from another
// site. Requests without browser headers, such as curl, pass.
func (s *Server) sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if site := r.Header.Get("Sec-Fetch-Site"); site == "cross-site" || site == "same-site" {
			if !s.allowedOrigin(r) {
				writeJSON(w, http.StatusForbidden, errorBody("cross-site request rejected"))
				return
			}
		}
		if r.Header.Get("Origin") != "" && !s.allowedOrigin(r) {
			writeJSON(w, http.StatusForbidden, errorBody("cross-origin request rejected"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin matches the Origin header against the request host and the
// configured patterns.
func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range s.origins {
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(u.Host)); ok {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
