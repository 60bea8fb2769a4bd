package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CHris23132/voice-consult-service/internal/config"
	"github.com/CHris23132/voice-consult-service/internal/extraction"
	"github.com/CHris23132/voice-consult-service/internal/interview"
	"github.com/CHris23132/voice-consult-service/internal/metrics"
	"github.com/CHris23132/voice-consult-service/internal/synthesis"
	"github.com/CHris23132/voice-consult-service/internal/transcription"
)

// HTTPServer provides HTTP API endpoints for monitoring the service
type HTTPServer struct {
	server       *http.Server
	logger       *slog.Logger
	config       *config.Config
	orchestrator *interview.Orchestrator
	synthesis    *synthesis.Client
	transcriber  *transcription.Client
	extraction   *extraction.Client
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer

	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	orchestrator *interview.Orchestrator, synthesisClient *synthesis.Client,
	transcriptionClient *transcription.Client, extractionClient *extraction.Client,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:       logger,
		config:       appConfig,
		orchestrator: orchestrator,
		synthesis:    synthesisClient,
		transcriber:  transcriptionClient,
		extraction:   extractionClient,
		metrics:      m,
		gatherer:     gatherer,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
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
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.orchestrator.Snapshot()
	transcriptionStats := h.transcriber.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voice-consult-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"interview": map[string]interface{}{
				"state":          snapshot.State,
				"question_index": snapshot.QuestionIndex,
			},
			"transcription": map[string]interface{}{
				"total_requests":  transcriptionStats.TotalRequests,
				"success_rate":    transcriptionStats.SuccessRate,
				"active_requests": transcriptionStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStatus implements the /status endpoint: the live interview snapshot
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.orchestrator.Snapshot()
	answers := h.orchestrator.Answers()

	// Answers are summarized; transcripts stay out of the monitoring API.
	summaries := make([]map[string]interface{}, 0, len(answers))
	for _, answer := range answers {
		summaries = append(summaries, map[string]interface{}{
			"index":         answer.Index,
			"field_key":     answer.FieldKey,
			"used_fallback": answer.UsedFallback,
			"captured_at":   answer.CapturedAt.UTC(),
		})
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"interview": snapshot,
		"answers":   summaries,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"synthesis":     h.synthesis.GetStats(),
		"transcription": h.transcriber.GetStats(),
		"extraction":    h.extraction.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration; API keys are omitted.
	sanitizedConfig := map[string]interface{}{
		"audio": map[string]interface{}{
			"sample_rate":          h.config.Audio.SampleRate,
			"channels":             h.config.Audio.Channels,
			"bit_depth":            h.config.Audio.BitDepth,
			"silence_timeout":      h.config.Audio.SilenceTimeout,
			"max_capture_duration": h.config.Audio.MaxCaptureDuration,
		},
		"synthesis": map[string]interface{}{
			"endpoint": h.config.Synthesis.Endpoint,
			"model":    h.config.Synthesis.Model,
			"voice":    h.config.Synthesis.Voice,
			"format":   h.config.Synthesis.Format,
		},
		"transcription": map[string]interface{}{
			"endpoint":          h.config.Transcription.Endpoint,
			"model":             h.config.Transcription.Model,
			"language":          h.config.Transcription.Language,
			"max_retries":       h.config.Transcription.MaxRetries,
			"max_concurrent":    h.config.Transcription.MaxConcurrent,
			"max_payload_bytes": h.config.Transcription.MaxPayloadBytes,
		},
		"extraction": map[string]interface{}{
			"endpoint":    h.config.Extraction.Endpoint,
			"model":       h.config.Extraction.Model,
			"temperature": h.config.Extraction.Temperature,
			"max_tokens":  h.config.Extraction.MaxTokens,
		},
		"storage": map[string]interface{}{
			"path":       h.config.Storage.Path,
			"collection": h.config.Storage.Collection,
		},
		"interview": map[string]interface{}{
			"total_questions": len(h.config.Interview.Questions),
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	doc := map[string]interface{}{
		"service": "voice-consult-service",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"/health":  "Service health and component status",
			"/status":  "Live interview state and answered questions",
			"/stats":   "Backend client statistics",
			"/config":  "Sanitized service configuration",
			"/metrics": "Prometheus metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
