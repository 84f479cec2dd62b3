// Package server provides HTTP server initialization and lifecycle management
// for the invoice memory API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/invoice-memory/internal/config"
	"github.com/scrypster/invoice-memory/internal/services"
	"github.com/scrypster/invoice-memory/web/handlers"
)

// Options carries the optional collaborators of Start.
type Options struct {
	// Breaker, when set, is reported by /api/health.
	Breaker handlers.BreakerStater

	Logger *log.Logger
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port 0)
// and the WebSocketHub, which is nil when the feed is disabled. The server
// shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, svc *services.InvoiceService, opts Options) (string, *handlers.WebSocketHub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("http")

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	apiHandlers := handlers.NewAPIHandlers(svc, opts.Breaker, logger)
	apiHandlers.SetBatchLimits(handlers.BatchLimits{
		MaxInvoices: cfg.Server.MaxBatchSize,
		MaxWorkers:  cfg.Server.MaxBatchWorkers,
	})

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiHandlers.Register(apiMux)

	timeout := cfg.Engine.RequestTimeout
	var api http.Handler = apiMux
	api = handlers.RequestTimeout(api, timeout)
	api = handlers.RequestLogger(api, logger)

	mux := http.NewServeMux()

	// Health endpoint: no auth required, used by monitoring
	mux.HandleFunc("/api/health", apiHandlers.Health)
	mux.Handle("/api/", handlers.RequireAuth(api, cfg))

	var wsHub *handlers.WebSocketHub
	if cfg.Server.EnableWebSocket {
		_, port, _ := net.SplitHostPort(actualAddr)
		wsHub = handlers.NewWebSocketHub(logger,
			actualAddr,
			net.JoinHostPort("localhost", port),
			net.JoinHostPort("127.0.0.1", port),
		)
		go wsHub.Run()
		svc.SetPublisher(wsHub)

		// WebSocket endpoint (no auth required - origin validation handles security)
		mux.Handle("/ws", wsHub)
	}

	// Wrap entire server with rate limiting, then security headers
	rateLimiter := handlers.NewRateLimiter(10.0, 20)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeaders(handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(timeout),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
		if wsHub != nil {
			wsHub.Stop()
		}
	}()

	logger.Info("listening", "addr", actualAddr, "websocket", wsHub != nil)
	return actualAddr, wsHub, nil
}

// writeTimeout leaves headroom over the per-request deadline so timed-out
// requests still get their error response written.
func writeTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 30 * time.Second
	}
	return requestTimeout + 5*time.Second
}
