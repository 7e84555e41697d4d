package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/pkg/mediaurl"
)

const (
	DefaultSyncWindow     = 500 * time.Millisecond
	DefaultDriftThreshold = 1.0
)

// Player is the local playback engine the synchronizer forces into the
// shared state.
type Player interface {
	Position() float64
	// Duration reports false while the length of the media is unknown.
	Duration() (float64, bool)
	Load(source string)
	Play()
	Pause()
	Seek(seconds float64)
}

type Publisher interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// Delta is a partial update; nil fields keep their current value.
type Delta struct {
	Playing            *bool
	Time               *float64
	Source             *string
	IsEmbeddedPlatform *bool
}

type Config struct {
	SyncWindow     time.Duration
	DriftThreshold float64
}

// Synchronizer keeps the local view of the shared playback cursor.
type Synchronizer struct {
	roomID    string
	publisher Publisher
	player    Player
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger

	mu           sync.Mutex
	state        domain.VideoState
	appliedAt    time.Time
	syncingUntil time.Time
	onChange     func(domain.VideoState)
}

func NewSynchronizer(roomID string, publisher Publisher, cfg Config, clk clock.Clock, logger *slog.Logger) *Synchronizer {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.SyncWindow <= 0 {
		cfg.SyncWindow = DefaultSyncWindow
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}

	return &Synchronizer{
		roomID:    roomID,
		publisher: publisher,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With("component", "playback", "room_id", roomID),
		state:     domain.DefaultVideoState(),
		appliedAt: clk.Now(),
	}
}

func (s *Synchronizer) AttachPlayer(p Player) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.player = p
}

func (s *Synchronizer) OnChange(fn func(domain.VideoState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onChange = fn
}

func (s *Synchronizer) State() domain.VideoState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Synchronizer) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.syncingLocked()
}

// ApplyRemote replaces the local view with state, opens the syncing window
// and forces the attached player into it.
func (s *Synchronizer) ApplyRemote(state domain.VideoState) {
	state.Time = clampTime(state.Time)

	s.mu.Lock()
	prev := s.state
	now := s.clock.Now()
	s.state = state
	s.appliedAt = now
	s.syncingUntil = now.Add(s.cfg.SyncWindow)
	player := s.player
	onChange := s.onChange
	s.mu.Unlock()

	s.logger.Debug("remote state applied", "playing", state.Playing, "time", state.Time, "src", state.Source)

	if player != nil {
		s.force(player, prev, state)
	}

	if onChange != nil {
		onChange(state)
	}
}

func (s *Synchronizer) force(player Player, prev, state domain.VideoState) {
	if state.Source != prev.Source {
		player.Load(state.Source)
	}

	if state.Playing {
		player.Play()
	} else {
		player.Pause()
	}

	if math.Abs(player.Position()-state.Time) > s.cfg.DriftThreshold {
		player.Seek(state.Time)
	}
}

// LocalChange applies delta on top of the current state, updates the local
// view right away and publishes the full result.
func (s *Synchronizer) LocalChange(ctx context.Context, kind domain.MessageType, delta Delta) (domain.VideoState, error) {
	if !kind.IsPlayback() {
		return domain.VideoState{}, fmt.Errorf("not a playback message type: %s", kind)
	}

	s.mu.Lock()
	next := s.state
	if delta.Playing != nil {
		next.Playing = *delta.Playing
	}
	if delta.Time != nil {
		next.Time = *delta.Time
	}
	if delta.Source != nil {
		next.Source = *delta.Source
		next.IsEmbeddedPlatform = mediaurl.IsEmbeddedPlatform(next.Source)
	}
	if delta.IsEmbeddedPlatform != nil {
		next.IsEmbeddedPlatform = *delta.IsEmbeddedPlatform
	}
	if kind == domain.TypeSetVideo {
		if delta.Time == nil {
			next.Time = 0
		}
		if delta.Playing == nil {
			next.Playing = false
		}
	}
	next.Time = clampTime(next.Time)

	s.state = next
	s.appliedAt = s.clock.Now()
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(next)
	}

	env, err := domain.NewEnvelope(kind, s.roomID, next)
	if err != nil {
		return next, err
	}

	if err := s.publisher.Send(ctx, env); err != nil {
		return next, fmt.Errorf("failed to publish %s: %w", kind, err)
	}

	return next, nil
}

// OnPlayerEvent turns an event of the local player into a published change.
// Events raised while the player is being forced into a remote state are
// dropped and reported as false.
func (s *Synchronizer) OnPlayerEvent(ctx context.Context, kind domain.MessageType, position float64) (bool, error) {
	s.mu.Lock()
	syncing := s.syncingLocked()
	s.mu.Unlock()

	if syncing {
		s.logger.Debug("player event suppressed", "type", kind, "position", position)
		return false, nil
	}

	var delta Delta
	switch kind {
	case domain.TypePlay:
		delta = Delta{Playing: Ptr(true), Time: Ptr(position)}
	case domain.TypePause:
		delta = Delta{Playing: Ptr(false), Time: Ptr(position)}
	case domain.TypeSeek:
		delta = Delta{Time: Ptr(position)}
	default:
		return false, fmt.Errorf("unsupported player event: %s", kind)
	}

	if _, err := s.LocalChange(ctx, kind, delta); err != nil {
		return true, err
	}

	return true, nil
}

// ExpectedTime projects the shared time forward by the wall time elapsed
// since it was applied, while playing.
func (s *Synchronizer) ExpectedTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.expectedLocked()
}

// CheckDrift seeks the player back to the expected time when it drifted by
// more than the threshold. It reports whether a seek was forced.
func (s *Synchronizer) CheckDrift(position float64) bool {
	s.mu.Lock()
	if s.syncingLocked() || s.player == nil {
		s.mu.Unlock()
		return false
	}

	expected := s.expectedLocked()
	if math.Abs(position-expected) <= s.cfg.DriftThreshold {
		s.mu.Unlock()
		return false
	}

	s.syncingUntil = s.clock.Now().Add(s.cfg.SyncWindow)
	player := s.player
	s.mu.Unlock()

	s.logger.Debug("drift corrected", "position", position, "expected", expected)
	player.Seek(expected)

	return true
}

// Skip seeks relative to position, clamped to the media bounds.
func (s *Synchronizer) Skip(ctx context.Context, seconds, position float64) (domain.VideoState, error) {
	target := clampTime(position + seconds)

	s.mu.Lock()
	player := s.player
	s.mu.Unlock()

	if player != nil {
		if duration, ok := player.Duration(); ok && target > duration {
			target = duration
		}
	}

	return s.LocalChange(ctx, domain.TypeSeek, Delta{Time: &target})
}

func (s *Synchronizer) syncingLocked() bool {
	return s.clock.Now().Before(s.syncingUntil)
}

func (s *Synchronizer) expectedLocked() float64 {
	if !s.state.Playing {
		return s.state.Time
	}
	return s.state.Time + s.clock.Since(s.appliedAt).Seconds()
}

func clampTime(t float64) float64 {
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	return t
}

func Ptr[T any](v T) *T {
	return &v
}
