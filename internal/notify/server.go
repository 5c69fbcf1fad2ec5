package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/stats"
	"github.com/deskbridge/hostd/internal/tracker"
)

const commandTimeout = 5 * time.Second

// Controller carries user decisions into the tracking core.
type Controller interface {
	Accept(ctx context.Context, id int) error
	Reject(ctx context.Context, id int) error
	JumpTo(ctx context.Context, id int) error
}

type Server struct {
	broadcaster    *Broadcaster
	controller     Controller
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	stats          *stats.Tracker
	gatherer       prometheus.Gatherer
	log            *zap.Logger
}

func NewServer(broadcaster *Broadcaster, controller Controller, allowedOrigins []string, authToken string, log *zap.Logger) *Server {
	s := &Server{
		broadcaster:    broadcaster,
		controller:     controller,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		log:            log,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetStatsTracker configures the tracker behind /api/stats. Must be called
// before SetupRoutes.
func (s *Server) SetStatsTracker(tracker *stats.Tracker) {
	s.stats = tracker
}

// SetGatherer overrides the registry served at /metrics. Defaults to the
// process-wide one.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/stats", s.handleStats)

	g := s.gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.log.Warn("rejecting notify client", zap.String("remote", r.RemoteAddr), zap.Error(err))
		conn.Close()
		return
	}
	s.log.Info("notify client connected", zap.String("remote", r.RemoteAddr))

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info("notify client disconnected", zap.String("remote", r.RemoteAddr))
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.dispatch(c, data)
		}
	}()
}

// dispatch applies one inbound client command. Errors go back to the
// sending client only, never the whole fan-out.
func (s *Server) dispatch(c *client, data []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.sendError(c, "malformed command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Action {
	case "accept":
		err = s.controller.Accept(ctx, cmd.ID)
	case "reject":
		err = s.controller.Reject(ctx, cmd.ID)
	case "focus":
		err = s.controller.JumpTo(ctx, cmd.ID)
	default:
		s.sendError(c, fmt.Sprintf("unknown action %q", cmd.Action))
		return
	}
	if err != nil {
		s.log.Debug("client command failed",
			zap.String("action", cmd.Action), zap.Int("id", cmd.ID), zap.Error(err))
		s.sendError(c, err.Error())
	}
}

func (s *Server) sendError(c *client, msg string) {
	data, err := json.Marshal(Message{Type: MsgError, Payload: ErrorPayload{Message: msg}})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if snap := s.broadcaster.Snapshot(); snap != nil {
		w.Write(snap)
		return
	}
	// Nothing published yet.
	json.NewEncoder(w).Encode(Message{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Sessions: nil, Counts: tracker.Counts{}},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.stats == nil {
		http.Error(w, "stats not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats.Stats())
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/sessions/{id}/{accept|reject|focus}
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil || id <= 0 {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "accept":
		err = s.controller.Accept(r.Context(), id)
	case "reject":
		err = s.controller.Reject(r.Context(), id)
	case "focus":
		err = s.controller.JumpTo(r.Context(), id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tracker.ErrNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Hostd-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// SecurityHeaders wraps a handler with the standard hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	return http.ListenAndServe(addr, SecurityHeaders(mux))
}
