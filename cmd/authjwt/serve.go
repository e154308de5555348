package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bionicotaku/lingo-utils-authjwt"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /.well-known/jwks.json, /metrics and /healthz",
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := a.router()
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("listening", zap.String("addr", srv.Addr))
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

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.log.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func (a *app) router() (http.Handler, error) {
	signing, err := a.cfg.SigningConfig()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := authjwt.RegisterMetrics(reg); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	publisher := authjwt.NewJwksPublisher(signing.KeySource(), authjwt.WithLogger(a.log))
	authjwt.MountJWKS(r, publisher, authjwt.WithLogger(a.log))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// The claims echo route is only mounted when validation is configured.
	vcfg, err := a.cfg.ValidationConfig()
	if err != nil {
		return nil, err
	}
	validator, err := authjwt.NewValidator(vcfg, authjwt.WithLogger(a.log))
	if err != nil {
		a.log.Info("token validation disabled", zap.Error(err))
		return r, nil
	}
	r.With(authjwt.AccessTokenMiddleware(validator, authjwt.WithLogger(a.log))).
		Get("/v1/claims", func(w http.ResponseWriter, req *http.Request) {
			claims, _ := authjwt.ClaimsFromContext(req.Context())
			writeJSON(w, claims)
		})
	return r, nil
}
