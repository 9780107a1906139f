package reviewserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/noot-app/foods-cleanup/internal/auth"
	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/noot-app/foods-cleanup/internal/version"
)

// Backend is the store the review server reads and corrects
type Backend interface {
	store.Store
	Ping(ctx context.Context) error
}

// responseRecorder wraps http.ResponseWriter to capture response details
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.headerWritten {
		return
	}
	r.statusCode = code
	r.headerWritten = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(data)
	r.bytesWritten += n
	return n, err
}

// Server exposes the manual review queue as MCP tools
type Server struct {
	mcpServer *server.MCPServer
	store     Backend
	auth      *auth.BearerTokenAuth
	log       *slog.Logger

	// Health results are cached so /health cannot be used to hammer the store
	healthMu        sync.RWMutex
	lastHealthCheck time.Time
	lastHealthError error
}

// NewServer creates the review server
func NewServer(st Backend, authenticator *auth.BearerTokenAuth, logger *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"Foods Review Queue",
		version.Tag(),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		store:     st,
		auth:      authenticator,
		log:       logger.With("component", "reviewserver"),
	}
	s.addTools()
	return s
}

// checkHealthWithCache pings the store at most once every 10 seconds
func (s *Server) checkHealthWithCache(ctx context.Context) error {
	const cacheDuration = 10 * time.Second

	s.healthMu.RLock()
	if time.Since(s.lastHealthCheck) < cacheDuration {
		err := s.lastHealthError
		s.healthMu.RUnlock()
		return err
	}
	s.healthMu.RUnlock()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	// Another goroutine may have refreshed it while we waited for the write lock
	if time.Since(s.lastHealthCheck) < cacheDuration {
		return s.lastHealthError
	}

	s.log.Debug("Health check: pinging store")
	err := s.store.Ping(ctx)
	s.lastHealthCheck = time.Now()
	s.lastHealthError = err
	return err
}

func (s *Server) addTools() {
	listTool := mcp.NewTool("list_review_queue",
		mcp.WithDescription("List food records waiting for manual review, with the reason each was flagged."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default: 20, max: 100)"),
			mcp.DefaultNumber(defaultQueueLimit),
			mcp.Min(1),
			mcp.Max(maxQueueLimit),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of queued records to skip"),
			mcp.DefaultNumber(0),
			mcp.Min(0),
		),
		mcp.WithOutputSchema[QueueResponse](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.mcpServer.AddTool(listTool, s.handleListReviewQueue)

	getTool := mcp.NewTool("get_food",
		mcp.WithDescription("Get one food record by id, including per-100g nutrition, serving size and ingredients."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Record id from the review queue"),
		),
		mcp.WithOutputSchema[FoodResponse](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.mcpServer.AddTool(getTool, s.handleGetFood)

	correctionTool := mcp.NewTool("submit_food_correction",
		mcp.WithDescription("Correct fields of a queued food record and take it off the review queue. "+
			"Nutrition values are per 100 g (or 100 ml). The next cleanup run re-validates the record."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Record id to correct")),
		mcp.WithString("reason", mcp.Required(), mcp.MinLength(1), mcp.Description("Where the corrected values came from")),
		mcp.WithNumber("calories", mcp.Min(0), mcp.Description("kcal per 100 g")),
		mcp.WithNumber("protein", mcp.Min(0), mcp.Description("g per 100 g")),
		mcp.WithNumber("carbs", mcp.Min(0), mcp.Description("g per 100 g")),
		mcp.WithNumber("fat", mcp.Min(0), mcp.Description("g per 100 g")),
		mcp.WithNumber("fiber", mcp.Min(0), mcp.Description("g per 100 g")),
		mcp.WithNumber("sugar", mcp.Min(0), mcp.Description("g per 100 g")),
		mcp.WithNumber("sodium", mcp.Min(0), mcp.Description("g per 100 g")),
		mcp.WithNumber("serving_size_g", mcp.Description("Serving size in grams, must be positive")),
		mcp.WithString("serving_description", mcp.Description("Free-text serving, e.g. \"330ml can\"")),
		mcp.WithString("ingredients", mcp.Description("Comma-separated ingredient list")),
		mcp.WithString("brand", mcp.Description("Canonical brand name")),
		mcp.WithOutputSchema[CorrectionResponse](),
		mcp.WithDestructiveHintAnnotation(false),
	)
	s.mcpServer.AddTool(correctionTool, s.handleSubmitCorrection)
}

// structured returns resp as structured content with a JSON text fallback
func (s *Server) structured(tool string, resp any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		s.log.Error("Failed to marshal response", "tool", tool, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err))
	}
	return mcp.NewToolResultStructured(resp, string(data))
}

// Handler returns the HTTP routes: /health without auth and /mcp behind the bearer token
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := s.checkHealthWithCache(r.Context()); err != nil {
			s.log.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
	})

	streamable := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)

	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.log.Error("MCP endpoint panic recovered", "panic", recovered, "method", r.Method, "remote_addr", r.RemoteAddr)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Internal Server Error"))
			}
		}()

		recorder := &responseRecorder{ResponseWriter: w}
		streamable.ServeHTTP(recorder, r)

		s.log.Debug("MCP response sent",
			"method", r.Method,
			"status_code", recorder.statusCode,
			"response_size", recorder.bytesWritten)
	})
	mux.Handle("/mcp", s.auth.Middleware(mcpHandler, s.log))

	return mux
}

// ListenAndServe serves the review server over HTTP until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("🚀 Starting review server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("Shutting down review server")
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeStdio serves the review server over stdio (no auth for local use)
func (s *Server) ServeStdio() error {
	s.log.Info("Starting review server in stdio mode")
	return server.ServeStdio(s.mcpServer)
}
