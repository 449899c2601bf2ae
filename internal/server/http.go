package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/asr-session-client/internal/chunksync"
	"github.com/skypro1111/asr-session-client/internal/config"
	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/session"
	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// HTTPServer provides HTTP API endpoints for monitoring the active session
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	manager   *session.Manager
	client    *transcription.Client
	udpServer *UDPServer
	feed      *Feed
	metrics   *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. client and udpServer may be nil.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	manager *session.Manager, client *transcription.Client, udpServer *UDPServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		manager:   manager,
		client:    client,
		udpServer: udpServer,
		feed:      NewFeed(manager, logger, m),
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for serving without Start
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))

	// Transcript of the active session
	mux.HandleFunc("/chunks", h.withMetrics("/chunks", h.handleChunks))
	mux.HandleFunc("/chunks/", h.withMetrics("/chunks/{timestamp}", h.handleChunkDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Websocket feed; long lived, so kept out of request metrics
	mux.Handle("/feed", h.feed)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Feed connections are hijacked,
// so they are closed explicitly.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.feed.Close()
	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.manager.GetInfo()

	components := map[string]interface{}{
		"session": map[string]interface{}{
			"status":      "running",
			"session_id":  info.SessionID,
			"language":    info.Language,
			"text_chunks": info.Chunks,
		},
		"uploader": map[string]interface{}{
			"status":      "running",
			"queue_depth": info.Uploader.QueueDepth,
			"dropped":     info.Uploader.ChunksDropped,
		},
		"feed": map[string]interface{}{
			"clients": h.feed.Clients(),
		},
	}

	if h.client != nil {
		stats := h.client.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"base_url":        h.client.BaseURL(),
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_ingest"] = map[string]interface{}{
			"status":           "running",
			"packets_received": udpStats.PacketsReceived,
			"decode_errors":    udpStats.DecodeErrors,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "asr-session-client",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSession implements the /session endpoint. PUT {"session_id", "language"}
// switches the followed session; an omitted field keeps its current value.
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.manager.GetInfo())

	case http.MethodPut:
		var req struct {
			SessionID string `json:"session_id"`
			Language  string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		next := h.manager.Session()
		if req.SessionID != "" {
			next = next.WithID(req.SessionID)
		}
		if req.Language != "" {
			language := strings.ToLower(req.Language)
			if !config.ValidLanguage(language) {
				http.Error(w, fmt.Sprintf("language must be one of %v", config.Languages), http.StatusBadRequest)
				return
			}
			next = next.WithLanguage(language)
		}

		if err := h.manager.Switch(r.Context(), next); err != nil {
			h.logger.Warn("Session switch failed",
				slog.String("session_id", next.ID),
				slog.String("error", err.Error()),
			)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, h.manager.GetInfo())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleChunks implements the /chunks endpoint. ?format=text returns the
// transcript as plain text.
func (h *HTTPServer) handleChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := h.manager.Session()
	store := h.manager.Store()

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, store.Text())
		return
	}

	chunks := store.Chunks()
	response := map[string]interface{}{
		"session_id":  sess.ID,
		"language":    sess.Language,
		"total":       len(chunks),
		"timestamp":   time.Now().UTC(),
		"text_chunks": chunks,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleChunkDetail implements the /chunks/{timestamp} endpoint.
// GET returns the chunk, PUT {"text": ...} edits it and POST
// {"rating": n} rates its current version.
func (h *HTTPServer) handleChunkDetail(w http.ResponseWriter, r *http.Request) {
	tsStr := strings.TrimPrefix(r.URL.Path, "/chunks/")
	if tsStr == "" {
		http.Error(w, "Chunk timestamp required", http.StatusBadRequest)
		return
	}

	timestamp, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid chunk timestamp", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		chunk, ok := h.manager.Store().Get(timestamp)
		if !ok {
			http.Error(w, "Chunk not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, chunk)

	case http.MethodPut:
		var req struct {
			Text *string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == nil {
			http.Error(w, "Request body must be {\"text\": string}", http.StatusBadRequest)
			return
		}

		chunk, err := h.manager.Syncer().Edit(r.Context(), timestamp, *req.Text)
		if err != nil {
			h.serviceError(w, "edit", err)
			return
		}
		writeJSON(w, http.StatusOK, chunk)

	case http.MethodPost:
		var req struct {
			Rating *int `json:"rating"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rating == nil {
			http.Error(w, "Request body must be {\"rating\": int}", http.StatusBadRequest)
			return
		}

		if err := h.manager.Syncer().Rate(r.Context(), timestamp, *req.Rating); err != nil {
			h.serviceError(w, "rate", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"timestamp": timestamp, "rating": *req.Rating})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// serviceError maps a transcription service failure onto a response: 503
// when the service could not be reached, 502 when it answered badly
func (h *HTTPServer) serviceError(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("Chunk operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, chunksync.ErrUnknownChunk), transcription.StatusCode(err) == http.StatusNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case transcription.IsTransport(err):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case transcription.IsStatus(err), transcription.IsDecode(err):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleConfig implements the /config endpoint. Header values are masked.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out, err := yaml.Marshal(h.config.Sanitized())
	if err != nil {
		http.Error(w, "Failed to encode configuration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"session":   h.manager.GetInfo(),
		"feed": map[string]interface{}{
			"clients": h.feed.Clients(),
		},
	}

	if h.client != nil {
		stats["transcription"] = h.client.GetStats()
	}

	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "ASR Session Client",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Client health check",
			"GET /session":             "Active session information",
			"PUT /session":             "Switch the followed session or language",
			"GET /chunks":              "Transcript of the active session (?format=text for plain text)",
			"GET /chunks/{timestamp}":  "Single text chunk",
			"PUT /chunks/{timestamp}":  "Edit a text chunk",
			"POST /chunks/{timestamp}": "Rate the current version of a text chunk",
			"GET /config":              "Client configuration",
			"GET /stats":               "Client statistics",
			"GET /feed":                "Websocket feed of transcript updates",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
