package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tag-server/internal/auth"
	"tag-server/internal/avatar"
	"tag-server/internal/config"
	"tag-server/internal/game"
	"tag-server/internal/logging"
	"tag-server/internal/progress"
	"tag-server/internal/server"
	"tag-server/internal/session"
	"tag-server/internal/store"
	"tag-server/internal/tilemap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	a, err := auth.New(ctx, st, auth.Options{Secret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL}, log)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	seed := cfg.MapSeed
	if seed == 0 {
		seed = uint64(rand.Uint32())
	}
	m := tilemap.Generate(seed, cfg.MapWidth, cfg.MapHeight)
	log.Infow("map generated", "seed", seed, "width", m.Width, "height", m.Height, "blocked", m.BlockedCount())

	hub := server.NewHub(cfg.MaxConnsPerIP, cfg.MaxTotalConns, log)
	worker := progress.NewWorker(st, hub, log)
	defer worker.Stop()

	g := game.New(game.Options{
		Map:             m,
		Cooldown:        cfg.TagCooldown,
		LeaderboardTick: cfg.LeaderboardTick,
		Avatars:         avatar.Lookup{Dir: cfg.AvatarDir},
	}, hub, worker, log)
	gameCtx, cancelGame := context.WithCancel(context.Background())
	go g.Run(gameCtx)

	registry := session.NewRegistry(st, hub, log)
	srv := server.New(server.Options{
		StaticDir: cfg.StaticDir,
		AvatarDir: cfg.AvatarDir,
		PublicURL: cfg.PublicURL,
	}, hub, g, worker, a, registry, st, log)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Routes()}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("server starting", "addr", cfg.Addr, "static", cfg.StaticDir, "db", cfg.DBDriver)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		cancelGame()
		<-g.Done()
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	cancelGame()
	<-g.Done()
	// deferred: worker.Stop drains pending writes, then the store closes
	return nil
}
