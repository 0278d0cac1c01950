package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate"
	otelmetrics "github.com/vhorizon/authstate/metrics/export/otel"
	prommetrics "github.com/vhorizon/authstate/metrics/export/prometheus"
	"github.com/vhorizon/authstate/middleware"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve routes gated on the resolved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := opts.stack(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			r, err := st.resolver()
			if err != nil {
				return err
			}
			defer r.Close()

			h, closeRouter, err := newRouter(r, opts.log)
			if err != nil {
				return err
			}
			defer closeRouter()
			if addr == "" {
				addr = opts.cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

			// The gate answers 503 until Initialize commits.
			go r.Initialize(ctx)

			errCh := make(chan error, 1)
			go func() {
				opts.log.Info("listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			opts.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	return cmd
}

// newRouter mounts the demo routes over r. The returned func releases the
// OpenTelemetry meter provider behind /metrics/otel.
func newRouter(r *authstate.Resolver, log *zap.Logger) (http.Handler, func(), error) {
	metrics, err := prommetrics.NewCollector(r).Handler()
	if err != nil {
		return nil, nil, err
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := otelmetrics.NewForResolver(provider.Meter("github.com/vhorizon/authstate"), r)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, err
	}
	closeFn := func() {
		_ = exp.Close()
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Warn("meter provider shutdown", zap.Error(err))
		}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(requestLogger(log))

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics)
	mux.Get("/metrics/otel", func(w http.ResponseWriter, req *http.Request) {
		points, err := otelmetrics.Collect(req.Context(), reader)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, points)
	})

	mux.Group(func(g chi.Router) {
		g.Use(middleware.Gate(r))
		g.Get("/session", func(w http.ResponseWriter, req *http.Request) {
			snap, _ := middleware.SnapshotFromContext(req)
			writeJSON(w, http.StatusOK, sessionView(snap))
		})
	})
	mux.With(middleware.RequireUser(r)).Get("/me", func(w http.ResponseWriter, req *http.Request) {
		snap, _ := middleware.SnapshotFromContext(req)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    snap.User.ID,
			"email": snap.User.Email,
			"name":  snap.User.DisplayName(),
		})
	})
	mux.With(middleware.RequireAdmin(r)).Get("/admin", func(w http.ResponseWriter, req *http.Request) {
		snap, _ := middleware.SnapshotFromContext(req)
		writeJSON(w, http.StatusOK, map[string]any{"admin": snap.UserID()})
	})
	return mux, closeFn, nil
}

func sessionView(s authstate.Snapshot) map[string]any {
	v := map[string]any{
		"state":    s.State.String(),
		"source":   s.Source.String(),
		"is_admin": s.IsAdmin,
		"version":  s.Version,
	}
	if s.User != nil {
		v["user_id"] = s.User.ID
		v["email"] = s.User.Email
	}
	return v
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
