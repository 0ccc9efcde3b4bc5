package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/config"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/logger"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/monitoring"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/upstream"
	relayhttp "github.com/Baozhi888/zai2api-go/internal/interfaces/http"
)

const (
	appName    = "zai2api"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "zai2api — OpenAI/Anthropic-to-GLM relay",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "start the relay's HTTP server",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := config.LoadWithViper()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting zai2api relay",
		zap.String("version", appVersion),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("reasoning_mode", cfg.Upstream.ReasoningMode),
	)

	watcher := config.NewWatcher(v, cfg, log)

	upstreamClient := upstream.New(upstream.Options{
		BaseURL:        cfg.Upstream.BaseURL,
		Token:          cfg.Upstream.Token,
		AnonymousToken: cfg.Upstream.AnonymousToken,
		IdleTimeout:    cfg.Upstream.IdleReadTimeout,
		TokenTTL:       cfg.Cache.TokenTTL,
	}, log)

	transformer := service.NewRequestTransformer(nil, []service.ModelPrefixAlias{
		{Prefix: "claude-", Target: cfg.Upstream.DefaultModel},
	})

	monitor := monitoring.NewMonitor(log)
	tracer := monitoring.NewTracer(appName, log)

	server := relayhttp.NewServer(relayhttp.Deps{
		Config:         cfg,
		Watcher:        watcher,
		UpstreamClient: upstreamClient,
		Transformer:    transformer,
		Monitor:        monitor,
		Tracer:         tracer,
		KnownModels:    []string{cfg.Upstream.DefaultModel},
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		log.Fatal("failed to start HTTP server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("relay stopped successfully")
	return nil
}
