package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/tts-accelerator/internal/balancer"
	"github.com/example/tts-accelerator/internal/cache"
	"github.com/example/tts-accelerator/internal/config"
	"github.com/example/tts-accelerator/internal/endpoint"
	"github.com/example/tts-accelerator/internal/proxy"
	"github.com/example/tts-accelerator/internal/server"
	"github.com/example/tts-accelerator/internal/splitter"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ttsaccel HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			pool := endpoint.NewPool(cfg.TTS.Endpoints)

			bal := balancer.New(pool, balancer.Options{
				MaxConcurrentPerEndpoint: cfg.TTS.MaxConcurrentPerEndpoint,
				RequestTimeout:           time.Duration(cfg.TTS.RequestTimeout) * time.Second,
				RetryCount:               cfg.TTS.RetryCount,
			})

			c := cache.New(bal, cache.Options{
				MaxSize:         cfg.Cache.MaxSize,
				TTL:             time.Duration(cfg.Cache.TTL) * time.Second,
				CleanupInterval: time.Duration(cfg.Cache.CleanupInterval) * time.Second,
			})
			c.Start()
			defer c.Stop()

			p, err := proxy.New(cfg.NewAPI.BaseURL, cfg.NewAPI.APIKey, time.Duration(cfg.NewAPI.Timeout)*time.Second)
			if err != nil {
				return fmt.Errorf("build chat-completion client: %w", err)
			}

			handler := server.NewHandler(p, bal, c,
				server.WithDefaultTTSModel(cfg.TTS.DefaultModel),
				server.WithTTSRequestTimeout(time.Duration(cfg.TTS.RequestTimeout)*time.Second),
				server.WithSplitterOptions(splitter.Options{
					MaxLen: cfg.Splitter.MaxLen,
					MinLen: cfg.Splitter.MinLen,
				}),
			)

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := server.New(addr, handler, cfg.Server)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			healthCtx, cancelHealth := context.WithCancel(context.Background())
			defer cancelHealth()
			go bal.StartHealthChecks(healthCtx, 30*time.Second, nil)

			return srv.Start(ctx)
		},
	}

	defaults := config.DefaultConfig()
	config.RegisterFlags(cmd.Flags(), defaults)

	return cmd
}
