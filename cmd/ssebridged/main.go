// Command ssebridged runs a standalone echo bridge: every message a client
// submits is delivered back to that client over its SSE stream. It doubles as
// a reference for mounting a ssebridge.Server inside a larger service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ssebridge/ssebridge"
	"github.com/ssebridge/ssebridge/internal/config"
	"github.com/ssebridge/ssebridge/internal/metrics"
	"github.com/ssebridge/ssebridge/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/ssebridged.yaml", "path to config file")
	watchConfig := flag.Bool("watch-config", true, "reload allowed origins on config change")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting ssebridged",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := ssebridge.NewServer(ssebridge.Config{
		AllowedOrigins:    cfg.Bridge.AllowedOrigins,
		AcceptBacklog:     cfg.Bridge.AcceptBacklog,
		MaxBodyBytes:      cfg.Bridge.MaxBodyBytes,
		MaxPendingFrames:  cfg.Bridge.MaxPendingFrames,
		MaxReassembly:     cfg.Bridge.MaxReassembly,
		KeepaliveInterval: cfg.Bridge.KeepaliveInterval,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler(func() metrics.Snapshot {
			st := srv.Stats()
			return metrics.Snapshot{
				ActiveChannels: float64(st.ActiveChannels),
				ChannelsTotal:  float64(st.ChannelsTotal),
				Displaced:      float64(st.Displaced),
				MessagesIn:     float64(st.MessagesIn),
				MessagesOut:    float64(st.MessagesOut),
				RejectedPosts:  float64(st.RejectedPosts),
			}
		}))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			"addr", cfg.Server.ListenAddr,
			"path", cfg.Server.Path,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Echo worker: every inbound event goes straight back out on its channel.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ch := <-srv.Accept():
				go echo(logger, ch)
			}
		}
	})

	if *watchConfig {
		g.Go(func() error {
			return config.Watch(gctx, *configPath, logger, func(next *config.Config) {
				srv.SetAllowedOrigins(next.Bridge.AllowedOrigins)
				logger.Info("allowed origins updated",
					"count", len(next.Bridge.AllowedOrigins),
				)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		srv.Shutdown()
		return httpServer.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("ssebridged exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("ssebridged stopped")
}

func echo(logger *slog.Logger, ch *ssebridge.Channel) {
	logger.Info("client connected", "client_id", ch.ClientID())
	for ev := range ch.Events() {
		if err := ch.Send(ev.Payload); err != nil {
			logger.Warn("echo send failed",
				"client_id", ch.ClientID(),
				"seq", ev.Seq,
				"error", err,
			)
			return
		}
	}
	logger.Info("client disconnected", "client_id", ch.ClientID())
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
