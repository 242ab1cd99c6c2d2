// Package api provides the HTTP REST API server for Radar.
//
// It exposes the ticker session lifecycle (switch, snapshot, reanalyze),
// price forecasting, ticker resolution, the anomaly feed, and WebSocket
// streaming of session and anomaly updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finradar/radar/internal/analysis"
	"github.com/finradar/radar/internal/anomaly"
	"github.com/finradar/radar/internal/config"
	"github.com/finradar/radar/internal/datasource"
	"github.com/finradar/radar/internal/llm"
	"github.com/finradar/radar/internal/resolver"
	"github.com/finradar/radar/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	svc     *analysis.Service
	store   *analysis.MemoryJobStore
	watcher *anomaly.Watcher
	wsHub   *WSHub
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config) (*Server, error) {
	chain, err := llm.NewChainFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("LLM setup failed: %w", err)
	}
	log.Printf("api: provider chain: %v", chain.Names())

	moex := datasource.NewMoex(cfg.Sources.MoexURL)
	news := newsFromConfig(cfg)
	store := analysis.NewMemoryJobStore(chain, cfg.Analysis.Workers)

	srv := &Server{
		cfg:   cfg,
		store: store,
		wsHub: NewWSHub(),
	}

	srv.svc = analysis.NewService(moex, news, store, chain, analysis.Options{
		WindowDays:   cfg.Analysis.WindowDays,
		ArticleLimit: cfg.Analysis.ArticleLimit,
		PollInterval: time.Duration(cfg.Analysis.PollIntervalSec) * time.Second,
	}, srv.broadcastSession)

	if cfg.Sources.AnomalyURL != "" {
		feed := datasource.NewAnomalyAPI(cfg.Sources.AnomalyURL)
		filter := anomaly.NewFilter(cfg.Anomaly.MinScore)
		srv.watcher = anomaly.NewWatcher(feed, filter,
			time.Duration(cfg.Anomaly.RefreshIntervalSec)*time.Second,
			cfg.Anomaly.Limit, srv.broadcastAnomaly)
	}

	srv.router = srv.buildRouter()
	return srv, nil
}

// newsFromConfig builds the article source, falling back to the default feed
// set when none are configured.
func newsFromConfig(cfg *config.Config) *datasource.News {
	if len(cfg.Sources.Feeds) == 0 {
		return datasource.NewNews()
	}
	sources := make([]datasource.NewsSource, 0, len(cfg.Sources.Feeds))
	for _, url := range cfg.Sources.Feeds {
		sources = append(sources, datasource.NewsSource{Name: url, RSSURL: url})
	}
	return datasource.NewNewsWithSources(sources)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Service returns the analysis service for testing.
func (s *Server) Service() *analysis.Service {
	return s.svc
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.store.Start()
	go s.wsHub.Run()

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	defer cancelWatcher()
	if s.watcher != nil {
		go s.watcher.Run(watcherCtx)
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")
	cancelWatcher()
	s.svc.Close()
	s.store.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Session lifecycle. Switching is a GET because it mirrors client
		// navigation: selecting a ticker IS the request for its session.
		r.Get("/session", s.handleGetSession)
		r.Get("/session/{ticker}", s.handleSwitchTicker)
		r.Post("/session/{ticker}/reanalyze", s.handleReanalyze)

		// Forecast for the active session's ticker
		r.Get("/forecast/{ticker}", s.handleForecast)

		// Ticker resolution and suggestions
		r.Get("/resolve", s.handleResolve)
		r.Get("/suggest", s.handleSuggest)

		// Anomaly feed
		r.Get("/anomalies", s.handleAnomalies)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ============================================================
// Response envelope
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":  "ok",
			"session": s.svc.Session().Ticker(),
			"jobs":    s.store.Stats(),
			"time":    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Session().Snapshot()
	if snap.Ticker == "" {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: snap})
}

func (s *Server) handleSwitchTicker(w http.ResponseWriter, r *http.Request) {
	query := chi.URLParam(r, "ticker")
	if query == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	snap, err := s.svc.SwitchTicker(ctx, query)
	if errors.Is(err, resolver.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("ticker not found: %s", query))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: snap})
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	if !s.matchesSession(w, ctx, chi.URLParam(r, "ticker")) {
		return
	}

	snap, err := s.svc.Reanalyze(ctx)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: snap})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if !s.matchesSession(w, ctx, chi.URLParam(r, "ticker")) {
		return
	}

	result, err := s.svc.Forecast(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// matchesSession resolves the ticker path parameter and checks it names the
// active session, writing the error response when it does not.
func (s *Server) matchesSession(w http.ResponseWriter, ctx context.Context, query string) bool {
	suggestion, err := s.svc.Resolve(ctx, query)
	if errors.Is(err, resolver.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("ticker not found: %s", query))
		return false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	if active := s.svc.Session().Ticker(); active != suggestion.Ticker {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("ticker %s is not the active session", suggestion.Ticker))
		return false
	}
	return true
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	suggestion, err := s.svc.Resolve(ctx, q)
	if errors.Is(err, resolver.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("ticker not found: %s", q))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: suggestion})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 10
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if n, err := strconv.Atoi(ls); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	suggestions, err := s.svc.Suggest(ctx, q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []models.TickerSuggestion{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: suggestions})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "anomaly feed not configured")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.watcher.Latest()})
}

// ============================================================
// WebSocket broadcasts
// ============================================================

// broadcastSession pushes the current session snapshot to every client. It is
// registered as the service's onUpdate callback, so clients receive a push
// after each status merge instead of polling the REST API.
func (s *Server) broadcastSession() {
	s.wsHub.Broadcast(WSMessage{
		Type: "session_update",
		Data: s.svc.Session().Snapshot(),
	})
}

// broadcastAnomaly pushes one significant anomaly notification.
func (s *Server) broadcastAnomaly(n anomaly.Notification) {
	s.wsHub.Broadcast(WSMessage{
		Type: "anomaly",
		Data: n,
	})
}

// ============================================================
// Helpers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSHub manages WebSocket connections and message broadcasting.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub    *WSHub
	mu     sync.Mutex
	closed bool
	send   chan WSMessage
}

// trySend queues a message for the client. It reports false when the client
// is closed or its buffer is full; it never sends on a closed channel, so a
// concurrent eviction by the hub cannot panic a sender.
func (c *WSClient) trySend(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close marks the client closed and closes its send channel. Idempotent.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			client.close()
		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*WSClient, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if !client.trySend(msg) {
					// Slow client; disconnect
					h.mu.Lock()
					delete(h.clients, client)
					h.mu.Unlock()
					client.close()
				}
			}
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}
