package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/1ureka/graphsync/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the master's HTTP surface:
//   - /ws      replication over websocket, one Hub connection per socket
//   - /signal  WebRTC signaling, handed to the registered handler
//   - /metrics prometheus collectors
//   - /healthz liveness and peer count
type Server struct {
	hub      *Hub
	pin      string
	queue    int
	signal   func(conn *websocket.Conn)
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a server that adds accepted sockets to hub. An empty
// pin disables the PIN check.
func NewServer(hub *Hub, pin string, queue int) *Server {
	return &Server{hub: hub, pin: pin, queue: queue}
}

// HandleSignal registers the handler for /signal sockets. The handler owns
// the connection.
func (s *Server) HandleSignal(fn func(conn *websocket.Conn)) {
	s.signal = fn
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/signal", s.handleSignal)
	r.Handle("/metrics", util.MetricsHandler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok peers=%d\n", util.Stats.Peers.Load())
	})
	return r
}

// Start begins listening on addr (":0" picks a random port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	s.srv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("http server stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.pin != "" && r.URL.Query().Get("pin") != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if _, err := s.hub.Add(NewWSLink(conn, s.queue)); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if s.signal == nil {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(w, r) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.signal(conn)
}

// Close shuts down the listener, preventing new connections.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
