package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
	roomredis "github.com/sharetube/syncroom/internal/repository/room/redis"
	"github.com/sharetube/syncroom/internal/transport"
	"go.uber.org/atomic"
)

type Repo interface {
	GetVideoState(ctx context.Context, roomId string) (domain.VideoState, error)
	PublishVideoState(ctx context.Context, params *room.SetVideoStateParams) error
	PublishMessage(ctx context.Context, params *room.AppendMessageParams) error
	GetMessages(ctx context.Context, roomId string) ([]domain.ChatMessage, error)
}

// Transport relays envelopes through the room's redis keys and its events
// channel. Every write lands in the room record before it is published.
type Transport struct {
	rc     *redis.Client
	repo   Repo
	roomID string
	logger *slog.Logger

	alive atomic.Bool

	mu      sync.Mutex
	sub     transport.Subscriber
	pubsub  *redis.PubSub
	closing bool
}

var _ transport.Transport = (*Transport)(nil)

func New(rc *redis.Client, repo Repo, roomID string, logger *slog.Logger) *Transport {
	return &Transport{
		rc:     rc,
		repo:   repo,
		roomID: roomID,
		logger: logger.With("component", "redis_transport", "room_id", roomID),
	}
}

func (t *Transport) Subscribe(sub transport.Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sub = sub
}

// Connect subscribes to the events channel and replays the chat log and the
// current video state before any live event is delivered.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.rc.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	ps := t.rc.Subscribe(ctx, roomredis.EventsChannel(t.roomID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	t.mu.Lock()
	if t.pubsub != nil {
		t.pubsub.Close()
	}
	t.pubsub = ps
	t.closing = false
	sub := t.sub
	t.mu.Unlock()

	if err := t.replay(ctx, sub); err != nil {
		t.mu.Lock()
		t.pubsub = nil
		t.mu.Unlock()
		ps.Close()

		return err
	}

	t.alive.Store(true)
	go t.readLoop(ps, sub)

	t.logger.InfoContext(ctx, "subscribed")
	return nil
}

func (t *Transport) replay(ctx context.Context, sub transport.Subscriber) error {
	if sub == nil {
		return nil
	}

	messages, err := t.repo.GetMessages(ctx, t.roomID)
	if err != nil {
		return fmt.Errorf("failed to replay messages: %w", err)
	}

	for _, msg := range messages {
		env, err := domain.NewEnvelope(domain.TypeChat, t.roomID, msg)
		if err != nil {
			return err
		}
		sub.OnEnvelope(env)
	}

	state, err := t.repo.GetVideoState(ctx, t.roomID)
	if err != nil {
		// the admin creates the room only after connecting
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to replay video state: %w", err)
	}

	env, err := domain.NewEnvelope(domain.TypeSyncState, t.roomID, state)
	if err != nil {
		return err
	}
	sub.OnEnvelope(env)

	t.logger.DebugContext(ctx, "replayed room", "messages", len(messages))
	return nil
}

func (t *Transport) readLoop(ps *redis.PubSub, sub transport.Subscriber) {
	for {
		msg, err := ps.Receive(context.Background())
		if err != nil {
			t.mu.Lock()
			deliberate := t.closing || t.pubsub != ps
			t.mu.Unlock()

			if deliberate {
				return
			}

			t.alive.Store(false)
			t.logger.Warn("subscription lost", "error", err)
			if sub != nil {
				sub.OnClose(err)
			}
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			t.logger.Warn("dropping malformed event", "error", err)
			continue
		}

		if sub != nil {
			sub.OnEnvelope(env)
		}
	}
}

// Send writes the envelope into the room record and publishes it. Playback
// envelopes replace the video state, chat envelopes append to the log, every
// other type is only published.
func (t *Transport) Send(ctx context.Context, env domain.Envelope) error {
	if !t.alive.Load() {
		return domain.ErrNotConnected
	}

	if env.RoomID == "" {
		env.RoomID = t.roomID
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	switch {
	case env.Type.IsPlayback():
		var state domain.VideoState
		if err := env.Decode(&state); err != nil {
			return err
		}

		err = t.repo.PublishVideoState(ctx, &room.SetVideoStateParams{
			RoomId:     t.roomID,
			VideoState: state,
			Event:      raw,
		})
	case env.Type == domain.TypeChat:
		var msg domain.ChatMessage
		if err := env.Decode(&msg); err != nil {
			return err
		}

		err = t.repo.PublishMessage(ctx, &room.AppendMessageParams{
			RoomId:  t.roomID,
			Message: msg,
			Event:   raw,
		})
	default:
		err = t.rc.Publish(ctx, roomredis.EventsChannel(t.roomID), raw).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}

	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	ps := t.pubsub
	t.pubsub = nil
	t.closing = true
	t.mu.Unlock()

	t.alive.Store(false)
	if ps == nil {
		return nil
	}

	if err := ps.Close(); err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	return nil
}

func (t *Transport) IsAlive() bool {
	return t.alive.Load()
}
