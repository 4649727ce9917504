package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialweb/api/routes"
	"socialweb/config"
	"socialweb/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "socialweb",
		Short:        "Server-rendered frontend for the social network GraphQL API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "etc/app.yaml", "Path to the configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(conf.Logs.Level, conf.Logs.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	if conf.Logs.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	provider, err := routes.NewProvider(ctx, conf, log)
	if err != nil {
		return err
	}
	defer provider.Close()

	srv := &http.Server{
		Addr:              conf.ListenAddr(),
		Handler:           routes.NewRouter(provider),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("backend", conf.QueryEndpoint()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if conf.Feed.Subscribe || provider.Broker != nil {
		g.Go(func() error {
			relay := provider.FeedRelay()
			if !conf.Feed.Subscribe {
				// consume events published by the subscribing replica only
				return ignoreCanceled(relay.Run(gctx, nil))
			}
			return ignoreCanceled(relay.Run(gctx, provider.Subscriber()))
		})
	}
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
