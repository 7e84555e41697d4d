package playback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	sent []domain.Envelope
	err  error
}

func (p *recordingPublisher) Send(ctx context.Context, env domain.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *recordingPublisher) lastState(t *testing.T) domain.VideoState {
	t.Helper()

	require.NotEmpty(t, p.sent)
	var state domain.VideoState
	require.NoError(t, json.Unmarshal(p.sent[len(p.sent)-1].Payload, &state))
	return state
}

func setup() (*Synchronizer, *recordingPublisher, *VirtualPlayer, *clock.Mock) {
	clk := clock.NewMock()
	pub := &recordingPublisher{}
	s := NewSynchronizer("R1", pub, Config{}, clk, slog.Default())
	player := NewVirtualPlayer(clk)
	s.AttachPlayer(player)

	return s, pub, player, clk
}

func TestApplyRemoteReplacesWholeState(t *testing.T) {
	s, _, _, _ := setup()

	s.ApplyRemote(domain.VideoState{Playing: true, Time: 30, Source: "https://x/a.mp4", IsEmbeddedPlatform: false})
	s.ApplyRemote(domain.VideoState{Playing: false, Time: 5, Source: "https://youtu.be/abc", IsEmbeddedPlatform: true})

	assert.Equal(t, domain.VideoState{Playing: false, Time: 5, Source: "https://youtu.be/abc", IsEmbeddedPlatform: true}, s.State())
}

func TestApplyRemoteForcesPlayer(t *testing.T) {
	s, _, player, _ := setup()

	var changed []domain.VideoState
	s.OnChange(func(state domain.VideoState) { changed = append(changed, state) })

	s.ApplyRemote(domain.VideoState{Playing: true, Time: 120, Source: "https://x/a.mp4"})

	assert.True(t, player.Playing())
	assert.Equal(t, "https://x/a.mp4", player.Source())
	assert.InDelta(t, 120, player.Position(), 0.001)
	assert.Len(t, changed, 1)
	assert.True(t, s.IsSyncing())
}

func TestApplyRemoteSkipsSmallDrift(t *testing.T) {
	s, _, player, _ := setup()
	seeks := 0
	s.AttachPlayer(&countingPlayer{VirtualPlayer: player, seeks: &seeks})

	player.Seek(10.5)
	s.ApplyRemote(domain.VideoState{Playing: false, Time: 10})

	assert.Equal(t, 0, seeks)
}

func TestPlayerEventsSuppressedWhileSyncing(t *testing.T) {
	s, pub, _, clk := setup()
	ctx := context.Background()

	s.ApplyRemote(domain.VideoState{Playing: true, Time: 10, Source: "https://x/a.mp4"})

	published, err := s.OnPlayerEvent(ctx, domain.TypePlay, 10)
	require.NoError(t, err)
	assert.False(t, published)
	assert.Empty(t, pub.sent)

	clk.Add(600 * time.Millisecond)

	published, err = s.OnPlayerEvent(ctx, domain.TypePause, 11)
	require.NoError(t, err)
	assert.True(t, published)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, domain.TypePause, pub.sent[0].Type)
	assert.Equal(t, "R1", pub.sent[0].RoomID)
	assert.Equal(t, domain.VideoState{Playing: false, Time: 11, Source: "https://x/a.mp4"}, pub.lastState(t))
}

func TestLocalChangeMergesDelta(t *testing.T) {
	s, pub, _, _ := setup()
	ctx := context.Background()

	state, err := s.LocalChange(ctx, domain.TypeSetVideo, Delta{Source: Ptr("https://www.youtube.com/watch?v=abc")})
	require.NoError(t, err)
	assert.True(t, state.IsEmbeddedPlatform)

	state, err = s.LocalChange(ctx, domain.TypePlay, Delta{Playing: Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, domain.VideoState{Playing: true, Time: 0, Source: "https://www.youtube.com/watch?v=abc", IsEmbeddedPlatform: true}, state)
	assert.Equal(t, state, s.State())
	assert.Equal(t, state, pub.lastState(t))

	state, err = s.LocalChange(ctx, domain.TypeSeek, Delta{Time: Ptr(-4.0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, state.Time)
}

func TestSetVideoResetsCursor(t *testing.T) {
	s, _, _, _ := setup()
	ctx := context.Background()

	s.ApplyRemote(domain.VideoState{Playing: true, Time: 90, Source: "https://x/a.mp4"})

	state, err := s.LocalChange(ctx, domain.TypeSetVideo, Delta{Source: Ptr("https://x/b.webm")})
	require.NoError(t, err)
	assert.Equal(t, domain.VideoState{Playing: false, Time: 0, Source: "https://x/b.webm"}, state)
}

func TestLocalChangeKeepsOptimisticStateOnPublishError(t *testing.T) {
	s, pub, _, _ := setup()
	pub.err = errors.New("boom")

	state, err := s.LocalChange(context.Background(), domain.TypeSeek, Delta{Time: Ptr(42.0)})
	require.Error(t, err)
	assert.Equal(t, 42.0, state.Time)
	assert.Equal(t, 42.0, s.State().Time)
}

func TestLocalChangeRejectsNonPlaybackType(t *testing.T) {
	s, _, _, _ := setup()

	_, err := s.LocalChange(context.Background(), domain.TypeChat, Delta{})
	assert.Error(t, err)
}

func TestCheckDriftUsesProjectedTime(t *testing.T) {
	s, _, player, clk := setup()

	s.ApplyRemote(domain.VideoState{Playing: true, Time: 10, Source: "https://x/a.mp4"})
	assert.False(t, s.CheckDrift(50), "no correction inside the syncing window")

	clk.Add(5 * time.Second)
	assert.InDelta(t, 15, s.ExpectedTime(), 0.001)

	assert.False(t, s.CheckDrift(15.5))
	assert.True(t, s.CheckDrift(20))
	assert.InDelta(t, 15, player.Position(), 0.001)
	assert.True(t, s.IsSyncing())
}

func TestCheckDriftWhilePaused(t *testing.T) {
	s, _, _, clk := setup()

	s.ApplyRemote(domain.VideoState{Playing: false, Time: 10})
	clk.Add(time.Minute)

	assert.InDelta(t, 10, s.ExpectedTime(), 0.001)
	assert.False(t, s.CheckDrift(10.9))
	assert.True(t, s.CheckDrift(8))
}

func TestSkipClampsToDuration(t *testing.T) {
	s, _, player, _ := setup()
	ctx := context.Background()

	player.SetDuration(100)

	state, err := s.Skip(ctx, 30, 85)
	require.NoError(t, err)
	assert.Equal(t, 100.0, state.Time)

	state, err = s.Skip(ctx, -30, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, state.Time)
}

func TestSkipWithUnknownDuration(t *testing.T) {
	s, _, _, _ := setup()

	state, err := s.Skip(context.Background(), 30, 85)
	require.NoError(t, err)
	assert.Equal(t, 115.0, state.Time)
}

type countingPlayer struct {
	*VirtualPlayer
	seeks *int
}

func (p *countingPlayer) Seek(seconds float64) {
	*p.seeks++
	p.VirtualPlayer.Seek(seconds)
}
