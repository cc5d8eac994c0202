package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/urfv/yandex-tracker-mcp/internal/auth"
	"github.com/urfv/yandex-tracker-mcp/internal/broker"
	"github.com/urfv/yandex-tracker-mcp/internal/db"
	"github.com/urfv/yandex-tracker-mcp/internal/middleware"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over HTTP",
	Long: `Serve MCP over HTTP: POST /mcp for inline JSON-RPC, GET /mcp for SSE.

With GATEWAY_JWKS_URL set, /mcp requires a gateway token (X-Gateway-Token or
Authorization: Bearer). With DATABASE_URL set, tool usage is recorded and
GET /v1/usage reports it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if cmd.Flags().Changed("port") {
			a.cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		mux, err := a.routes()
		if err != nil {
			return err
		}
		return serve(ctx, fmt.Sprintf(":%d", a.cfg.Server.Port), mux)
	},
}

func init() {
	serveCmd.Flags().Int("port", 8089, "HTTP port (overrides PORT)")
}

func (a *app) routes() (*http.ServeMux, error) {
	cfg := a.cfg

	var verifier middleware.TokenVerifier
	if cfg.Gateway.JWKSURL != "" {
		verifier = auth.NewGatewayVerifier(cfg.Gateway.JWKSURL, cfg.Gateway.Issuer)
	} else {
		observability.Warn("GATEWAY_JWKS_URL not set, /mcp accepts anonymous requests")
	}
	var counter middleware.UsageCounter
	if a.usage != nil {
		counter = a.usage
	}
	authorizer := middleware.NewAuthorizer(verifier, counter, cfg.Server.DailyToolLimit)
	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSecond)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)

	mux.Handle("/mcp", middleware.Recovery(middleware.RequestLogger(
		authorizer.Authorize(rateLimiter.Middleware(middleware.Transport(a.handler()))))))

	if a.usage != nil {
		mux.Handle("GET /v1/usage", middleware.Recovery(middleware.RequestLogger(
			authorizer.Authorize(usageHandler(a.usage)))))
	}

	if cfg.Gateway.SigningKey != "" {
		signer, err := auth.NewSigner(cfg.Gateway.SigningKey, cfg.Gateway.Issuer)
		if err != nil {
			return nil, err
		}
		mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, signer.JWKS())
		})
	}

	return mux, nil
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Instance-ID", a.cfg.Server.InstanceID)
	w.Header().Set("X-Instance-Region", a.cfg.Server.InstanceRegion)

	body := map[string]string{
		"status":   "ok",
		"instance": a.cfg.Server.InstanceID,
		"region":   a.cfg.Server.InstanceRegion,
		"db":       "disabled",
	}
	status := http.StatusOK
	if a.usage != nil {
		body["db"] = "ok"
		if err := a.usage.HealthCheck(r.Context()); err != nil {
			body["status"], body["db"] = "degraded", "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

// usageHandler reports the caller's tool usage for [start, end). Dates are
// YYYY-MM-DD (UTC); the default range is the current month.
func usageHandler(usage *broker.UsageBroker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := middleware.GetAuthContext(r.Context())
		if authCtx == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		today := db.DayStart(time.Now())
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := today.AddDate(0, 0, 1)

		q := r.URL.Query()
		var err error
		if s := q.Get("start"); s != "" {
			if start, err = time.Parse(time.DateOnly, s); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start must be YYYY-MM-DD"})
				return
			}
		}
		if s := q.Get("end"); s != "" {
			if end, err = time.Parse(time.DateOnly, s); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end must be YYYY-MM-DD"})
				return
			}
		}
		if !end.After(start) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end must be after start"})
			return
		}

		data, err := usage.Usage(r.Context(), authCtx.Subject, start, end)
		if err != nil {
			observability.LogError("usage query", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load usage"})
			return
		}
		writeJSON(w, http.StatusOK, data)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Warn("failed to write response", "error", err)
	}
}

// serve runs srv until ctx is cancelled, then gives in-flight requests up
// to 30 seconds to complete.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.Info("starting MCP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	observability.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observability.Warn("server forced to shutdown", "error", err)
	}
	observability.Info("server stopped")
	return nil
}
