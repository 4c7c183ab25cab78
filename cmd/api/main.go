// Package main implements the portfolio chat API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/rag"
	"github.com/portfolio-chat/portfolio-chat/pkg/bootstrap"
	"github.com/portfolio-chat/portfolio-chat/pkg/config"
	"github.com/portfolio-chat/portfolio-chat/pkg/metrics"
	"github.com/portfolio-chat/portfolio-chat/pkg/mid"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

const (
	serviceName = "portfolio-chat-api"
	version     = "1.0.0"

	// maxChatBody bounds POST /api/chat bodies; questions are capped far
	// below this.
	maxChatBody = 16 << 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	answerer, err := rt.Answerer()
	if err != nil {
		return err
	}

	// Startup self-check: a missing collection is reported, not fatal.
	if h := answerer.HealthCheck(ctx); !h.Healthy() {
		logger.Warn("rag answerer is not healthy, run the ingest command first",
			"message", h.Message, "vector_store", h.VectorStore)
	} else {
		logger.Info("rag answerer ready", "collection", h.Collection, "vectors", h.VectorCount)
		rt.Metrics.CollectionSize(h.Collection, h.VectorCount)
	}

	rt.Metrics.Registry().ServeAsync(ctx, cfg.MetricsPort, logger)

	limiter := resilience.NewKeyedLimiter(resilience.LimiterOpts{Rate: cfg.ChatRatePerSec, Burst: cfg.ChatBurst}, 10*time.Minute)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newHandler(answerer, limiter, rt.Metrics, cfg.CORSOrigins, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.CollectionName)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// chatAnswerer is the part of rag.Answerer the handlers use.
type chatAnswerer interface {
	Query(ctx context.Context, question string) rag.Result
	HealthCheck(ctx context.Context) rag.Health
}

func newHandler(ans chatAnswerer, limiter mid.KeyedAllower, m *metrics.Portfolio, origins []string, logger *slog.Logger) http.Handler {
	chat := mid.Chain(handleChat(ans, m, logger),
		mid.RateLimit(limiter, func(*http.Request) { m.ChatRejected("rate_limited") }),
		mid.MaxBody(maxChatBody),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /api/health", handleHealth(ans, m))
	mux.Handle("POST /api/chat", chat)

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(origins...),
		mid.OTel(serviceName),
	)
}

// --- Handlers ---

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Portfolio RAG Chatbot API",
		"version": version,
		"status":  "operational",
	})
}

func handleHealth(ans chatAnswerer, m *metrics.Portfolio) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := ans.HealthCheck(r.Context())
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		} else {
			m.CollectionSize(h.Collection, h.VectorCount)
		}
		mid.WriteJSON(w, status, h)
	}
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat. SessionID is echoed
// back and never stored.
type ChatResponse struct {
	Response  string       `json:"response"`
	Sources   []rag.Source `json:"sources"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

func handleChat(ans chatAnswerer, m *metrics.Portfolio, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				m.ChatRejected("too_large")
				mid.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			m.ChatRejected("bad_request")
			mid.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := domain.ValidateQuestion(req.Message); err != nil {
			m.ChatRejected("invalid")
			mid.WriteError(w, http.StatusBadRequest, validationMessage(err))
			return
		}

		start := time.Now()
		logger.Info("chat request", "message", preview(req.Message, 100), "session_id", req.SessionID)
		res := ans.Query(r.Context(), req.Message)
		m.ChatRequest(res.Success, time.Since(start))
		if res.Success {
			logger.Info("chat answered", "sources", len(res.Sources), "duration", time.Since(start))
		} else {
			logger.Error("chat query failed", "err", res.Error)
		}

		sources := res.Sources
		if sources == nil {
			sources = []rag.Source{}
		}
		mid.WriteJSON(w, http.StatusOK, ChatResponse{
			Response:  res.Response,
			Sources:   sources,
			Success:   res.Success,
			Error:     res.Error,
			SessionID: req.SessionID,
		})
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyQuestion):
		return "Message cannot be empty"
	case errors.Is(err, domain.ErrQuestionTooLong):
		return fmt.Sprintf("Message must be at most %d characters", domain.MaxQuestionLength)
	default:
		return err.Error()
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
