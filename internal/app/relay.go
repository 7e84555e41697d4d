package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/lifecycle"
	"github.com/sharetube/syncroom/internal/presence"
	"github.com/sharetube/syncroom/internal/relay"
	"github.com/sharetube/syncroom/internal/repository/room/inmemory"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newRelayHandler(logger *slog.Logger) http.Handler {
	clk := clock.New()
	repo := inmemory.NewRepo(logger)

	tracker := presence.NewTracker(repo, clk, logger)
	tracker.OnJoin(func(roomID string, p domain.Presence) {
		logger.Info("participant joined", "room_id", roomID, "user_id", p.UserID, "username", p.Username)
	})
	tracker.OnLeave(func(roomID, userID string) {
		logger.Info("participant left", "room_id", roomID, "user_id", userID)
	})

	lm := lifecycle.NewManager(repo, tracker, clk, logger)
	return relay.New(lm, repo, logger).GetMux()
}

// RunRelay serves the socket relay until ctx is done or a signal arrives.
func RunRelay(ctx context.Context, cfg *RelayConfig) error {
	logger, err := NewLogger(cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRelayHandler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return serve(ctx, server, logger)
}

func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
