package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	apphttp "offline-store/internal/http"
	"offline-store/internal/metrics"
)

func runServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the offline download API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if a.auth == nil {
		logger.Warn("auth password hash not set, API is unauthenticated")
	}

	if err := a.catalog.Start(ctx); err != nil {
		return err
	}
	defer a.catalog.Shutdown()

	metricsManager := metrics.NewManager(a.catalog, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(ctx, apphttp.Deps{
		Catalog:  a.catalog,
		Tracks:   a.tracks,
		Settings: a.settings,
		Network:  a.network,
		Auth:     a.auth,
		Metrics:  promhttp.HandlerFor(metricsManager.GetRegistry(), promhttp.HandlerOpts{}),
		Logger:   logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.files.Watch(gctx, 2*time.Second, logger, func() {
			dropped, err := a.catalog.ValidateOfflineFiles(gctx)
			if err != nil {
				logger.Warnf("validate offline files: %v", err)
				return
			}
			if len(dropped) > 0 {
				logger.Infof("dropped %d offline tracks whose files disappeared", len(dropped))
			}
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("bye")
	return err
}
