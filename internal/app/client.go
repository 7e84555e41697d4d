package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sharetube/syncroom/internal/connection"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/lifecycle"
	"github.com/sharetube/syncroom/internal/playback"
	"github.com/sharetube/syncroom/internal/presence"
	"github.com/sharetube/syncroom/internal/repository/room/redis"
	"github.com/sharetube/syncroom/internal/session"
	redistransport "github.com/sharetube/syncroom/internal/transport/redis"
	"github.com/sharetube/syncroom/internal/transport/socket"
	"github.com/sharetube/syncroom/pkg/mediaurl"
	"github.com/sharetube/syncroom/pkg/redisclient"
	"golang.org/x/sync/errgroup"
)

const (
	fatalExitDelay       = time.Second
	defaultDriftInterval = time.Second
	defaultRoomExpire    = 24 * time.Hour
)

type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, format, args...)
}

type client struct {
	cfg     *ClientConfig
	clock   clock.Clock
	session *session.Session
	player  *playback.VirtualPlayer
	media   *mediaurl.Client
	out     *printer
	logger  *slog.Logger
}

// RunClient joins the configured room and drives the session from the lines
// read from in until /quit, end of input, a signal or a fatal room error.
func RunClient(ctx context.Context, cfg *ClientConfig, in io.Reader, out io.Writer) error {
	var logOut io.Writer = os.Stderr
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}

	logger, err := NewLogger(cfg.LogLevel, logOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	c := &client{
		cfg:    cfg,
		clock:  clk,
		player: playback.NewVirtualPlayer(clk),
		media:  mediaurl.NewClient(),
		out:    &printer{w: out},
		logger: logger,
	}

	scfg := session.Config{
		RoomID:     cfg.RoomID,
		UserID:     uuid.NewString(),
		Username:   cfg.Username,
		Connection: connection.DefaultConfig(),
		Player:     c.player,
		Clock:      clk,
	}

	s, closeFn, err := c.newSession(scfg)
	if err != nil {
		return err
	}
	defer closeFn()
	c.session = s

	return c.run(ctx, in)
}

func (c *client) newSession(cfg session.Config) (*session.Session, func(), error) {
	cb := c.callbacks()

	if c.cfg.Variant == VariantRedis {
		rc, err := redisclient.NewRedisClient(&redisclient.Config{
			Host:     c.cfg.RedisHost,
			Port:     c.cfg.RedisPort,
			Password: c.cfg.RedisPassword,
			DB:       c.cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		expire := c.cfg.RoomExpire
		if expire == 0 {
			expire = defaultRoomExpire
		}

		repo := redis.NewRepo(rc, expire, c.logger)
		lm := lifecycle.NewManager(repo, presence.NewTracker(repo, cfg.Clock, c.logger), cfg.Clock, c.logger)
		t := redistransport.New(rc, repo, cfg.RoomID, c.logger)

		return session.NewStoreSession(cfg, t, lm, cb, c.logger), func() { rc.Close() }, nil
	}

	t := socket.New(socket.Config{URL: c.cfg.RelayURL}, c.logger)
	return session.NewSocketSession(cfg, t, cb, c.logger), func() {}, nil
}

func (c *client) callbacks() session.Callbacks {
	return session.Callbacks{
		OnVideoStateChange: func(state domain.VideoState) {
			c.out.printf("video: %s\n", describeState(state))
		},
		OnChatMessage: func(msg domain.ChatMessage) {
			if msg.IsSystem {
				c.out.printf("* %s\n", msg.Text)
				return
			}
			c.out.printf("[%s] %s\n", msg.AuthorName, msg.Text)
		},
		OnSyncState: func(state domain.VideoState) {
			c.out.printf("synced: %s\n", describeState(state))
		},
		OnError: func(err error) {
			c.out.printf("error: %v\n", err)
		},
		OnStatusChange: func(status session.Status) {
			c.out.printf("status: %s\n", describeStatus(status))
		},
	}
}

func (c *client) run(ctx context.Context, in io.Reader) error {
	enter := c.session.JoinRoom
	if c.cfg.Admin {
		enter = c.session.CreateRoom
	}

	defer func() {
		if err := c.session.Disconnect(); err != nil {
			c.logger.Warn("session disconnected uncleanly", "error", err)
		}
	}()

	if err := enter(ctx); err != nil {
		return c.fatal(ctx, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go readLines(ctx, in, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.checkDrift(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.loop(gctx, lines)
	})

	return g.Wait()
}

func (c *client) loop(ctx context.Context, lines <-chan string) error {
	c.out.printf("joined room %s as %s, type /help for commands\n", c.cfg.RoomID, c.cfg.Username)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.session.Done():
			if err := c.session.Err(); err != nil {
				return c.fatal(ctx, err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			quit, err := c.execute(ctx, line)
			if err != nil {
				c.out.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// fatal reports an error that ends the session and waits a moment before
// handing control back.
func (c *client) fatal(ctx context.Context, err error) error {
	c.out.printf("session ended: %v\n", err)

	select {
	case <-c.clock.After(fatalExitDelay):
	case <-ctx.Done():
	}

	return err
}

func (c *client) checkDrift(ctx context.Context) error {
	interval := c.cfg.DriftInterval
	if interval == 0 {
		interval = defaultDriftInterval
	}

	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			corrected, err := c.session.CheckDrift(ctx)
			if err != nil {
				return nil
			}
			if corrected {
				c.logger.Debug("player resynced", "position", c.player.Position())
			}
		}
	}
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func describeState(state domain.VideoState) string {
	verb := "paused"
	if state.Playing {
		verb = "playing"
	}

	src := state.Source
	if src == "" {
		src = "no source"
	}

	return fmt.Sprintf("%s at %.1fs, %s", verb, state.Time, src)
}

func describeStatus(status session.Status) string {
	switch status.State {
	case connection.StateReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d, retry in %s)", status.Attempt, status.RetryIn)
	case connection.StateFailed:
		if status.Err != nil {
			return fmt.Sprintf("failed: %v", status.Err)
		}
	}

	return status.State.String()
}
