package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncroom/internal/connection"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/lifecycle"
	"github.com/sharetube/syncroom/internal/playback"
	"github.com/sharetube/syncroom/internal/presence"
	"github.com/sharetube/syncroom/internal/relay"
	"github.com/sharetube/syncroom/internal/repository/room/inmemory"
	roomredis "github.com/sharetube/syncroom/internal/repository/room/redis"
	"github.com/sharetube/syncroom/internal/transport"
	redistransport "github.com/sharetube/syncroom/internal/transport/redis"
	"github.com/sharetube/syncroom/internal/transport/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder collects callback invocations.
type recorder struct {
	syncs     chan domain.VideoState
	changes   chan domain.VideoState
	chats     chan domain.ChatMessage
	system    chan domain.ChatMessage
	errs      chan error
	connected chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		syncs:     make(chan domain.VideoState, 64),
		changes:   make(chan domain.VideoState, 64),
		chats:     make(chan domain.ChatMessage, 64),
		system:    make(chan domain.ChatMessage, 64),
		errs:      make(chan error, 64),
		connected: make(chan struct{}, 64),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnVideoStateChange: func(s domain.VideoState) { r.changes <- s },
		OnChatMessage: func(m domain.ChatMessage) {
			if m.IsSystem {
				r.system <- m
				return
			}
			r.chats <- m
		},
		OnSyncState: func(s domain.VideoState) { r.syncs <- s },
		OnError:     func(err error) { r.errs <- err },
		OnConnected: func() { r.connected <- struct{}{} },
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for callback")
	}

	var zero T
	return zero
}

// waitChange drains state changes until one matches.
func waitChange(t *testing.T, ch <-chan domain.VideoState, match func(domain.VideoState) bool) domain.VideoState {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for state change")
			return domain.VideoState{}
		}
	}
}

func chatTexts(msgs []domain.ChatMessage) []string {
	var out []string
	for _, m := range msgs {
		if !m.IsSystem {
			out = append(out, m.Text)
		}
	}
	return out
}

func config(roomID, userID, username string) Config {
	return Config{RoomID: roomID, UserID: userID, Username: username}
}

func newRelayServer(t *testing.T) string {
	t.Helper()

	repo := inmemory.NewRepo(testLogger)
	lm := lifecycle.NewManager(repo, presence.NewTracker(repo, nil, testLogger), nil, testLogger)
	srv := httptest.NewServer(relay.New(lm, repo, testLogger).GetMux())
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
}

func newSocketSession(t *testing.T, url string, cfg Config, rec *recorder) *Session {
	t.Helper()

	s := NewSocketSession(cfg, socket.New(socket.Config{URL: url}, testLogger), rec.callbacks(), testLogger)
	t.Cleanup(func() { s.Disconnect() })

	return s
}

func TestSocketAdminAndGuestShareState(t *testing.T) {
	url := newRelayServer(t)
	ctx := context.Background()

	adminRec := newRecorder()
	admin := newSocketSession(t, url, config("R1", "admin", "Alice"), adminRec)
	require.NoError(t, admin.CreateRoom(ctx))
	assert.Equal(t, domain.DefaultVideoState(), receive(t, adminRec.syncs))
	assert.True(t, admin.IsAdmin())

	guestRec := newRecorder()
	guest := newSocketSession(t, url, config("R1", "guest", "Bob"), guestRec)
	require.NoError(t, guest.JoinRoom(ctx))
	assert.Equal(t, domain.DefaultVideoState(), receive(t, guestRec.syncs))

	_, err := admin.UpdateVideoState(ctx, domain.TypeSetVideo, playback.Delta{Source: playback.Ptr("https://x/video.mp4")})
	require.NoError(t, err)

	got := waitChange(t, guestRec.changes, func(s domain.VideoState) bool { return s.Source != "" })
	assert.Equal(t, domain.VideoState{Source: "https://x/video.mp4", Playing: false, Time: 0}, got)
	assert.Equal(t, got, guest.VideoState())
}

func TestSocketChatReachesEveryoneOnce(t *testing.T) {
	url := newRelayServer(t)
	ctx := context.Background()

	adminRec := newRecorder()
	admin := newSocketSession(t, url, config("R1", "admin", "Alice"), adminRec)
	require.NoError(t, admin.CreateRoom(ctx))
	receive(t, adminRec.syncs)

	guestRec := newRecorder()
	guest := newSocketSession(t, url, config("R1", "guest", "Bob"), guestRec)
	require.NoError(t, guest.JoinRoom(ctx))
	receive(t, guestRec.syncs)

	require.NoError(t, admin.SendChat(ctx, "hello"))
	require.NoError(t, admin.SendChat(ctx, "hello"))

	for _, rec := range []*recorder{adminRec, guestRec} {
		first := receive(t, rec.chats)
		second := receive(t, rec.chats)
		assert.NotEqual(t, first.ID, second.ID)
	}

	assert.Equal(t, []string{"hello", "hello"}, chatTexts(admin.Messages()))
	assert.Equal(t, []string{"hello", "hello"}, chatTexts(guest.Messages()))
	assert.Equal(t, 0, admin.Unread())
	assert.Equal(t, 2, guest.Unread())

	guest.ClearUnread()
	assert.Equal(t, 0, guest.Unread())
}

func TestSocketGuestOfMissingRoomFails(t *testing.T) {
	url := newRelayServer(t)

	rec := newRecorder()
	guest := newSocketSession(t, url, config("nope", "guest", "Bob"), rec)
	require.NoError(t, guest.JoinRoom(context.Background()))

	assert.ErrorIs(t, receive(t, rec.errs), domain.ErrRoomNotFound)

	select {
	case <-guest.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	assert.ErrorIs(t, guest.Err(), domain.ErrRoomNotFound)
	assert.Equal(t, connection.StateFailed, guest.Status().State)
}

func TestSocketMembersUnsupported(t *testing.T) {
	s := newSocketSession(t, newRelayServer(t), config("R1", "u", "U"), newRecorder())

	_, err := s.Members(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

type storeFixture struct {
	mr *miniredis.Miniredis
	rc *redis.Client
	lm *lifecycle.Manager
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	repo := roomredis.NewRepo(rc, time.Hour, testLogger)
	lm := lifecycle.NewManager(repo, presence.NewTracker(repo, nil, testLogger), nil, testLogger)

	return &storeFixture{mr: mr, rc: rc, lm: lm}
}

func (f *storeFixture) session(t *testing.T, cfg Config, rec *recorder) *Session {
	t.Helper()

	repo := roomredis.NewRepo(f.rc, time.Hour, testLogger)
	s := NewStoreSession(cfg, redistransport.New(f.rc, repo, cfg.RoomID, testLogger), f.lm, rec.callbacks(), testLogger)
	t.Cleanup(func() { s.Disconnect() })

	return s
}

func TestStoreAdminAndGuestShareState(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	adminRec := newRecorder()
	admin := f.session(t, config("R1", "admin", "Alice"), adminRec)
	require.NoError(t, admin.CreateRoom(ctx))
	assert.Equal(t, domain.DefaultVideoState(), receive(t, adminRec.syncs))

	guestRec := newRecorder()
	guest := f.session(t, config("R1", "guest", "Bob"), guestRec)
	require.NoError(t, guest.JoinRoom(ctx))
	assert.Equal(t, domain.DefaultVideoState(), receive(t, guestRec.syncs))

	require.Eventually(t, func() bool {
		members, err := admin.Members(ctx)
		return err == nil && len(members) == 2
	}, waitFor, 10*time.Millisecond)

	_, err := admin.UpdateVideoState(ctx, domain.TypeSetVideo, playback.Delta{Source: playback.Ptr("https://x/video.mp4")})
	require.NoError(t, err)

	got := waitChange(t, guestRec.changes, func(s domain.VideoState) bool { return s.Source != "" })
	assert.Equal(t, domain.VideoState{Source: "https://x/video.mp4", Playing: false, Time: 0}, got)
}

func TestStoreGuestOfMissingRoom(t *testing.T) {
	f := newStoreFixture(t)

	rec := newRecorder()
	guest := f.session(t, config("nope", "guest", "Bob"), rec)

	err := guest.JoinRoom(context.Background())
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.ErrorIs(t, receive(t, rec.errs), domain.ErrRoomNotFound)

	<-guest.Done()
	assert.False(t, guest.IsConnected())
}

func TestStoreChatAndTeardown(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	adminRec := newRecorder()
	admin := f.session(t, config("R1", "admin", "Alice"), adminRec)
	require.NoError(t, admin.CreateRoom(ctx))
	receive(t, adminRec.connected)

	assert.Equal(t, "You joined the room as Admin", receive(t, adminRec.system).Text)

	require.NoError(t, admin.SendChat(ctx, "first"))
	assert.Equal(t, "first", receive(t, adminRec.chats).Text)

	// a late joiner gets the history
	guestRec := newRecorder()
	guest := f.session(t, config("R1", "guest", "Bob"), guestRec)
	require.NoError(t, guest.JoinRoom(ctx))
	assert.Equal(t, "first", receive(t, guestRec.chats).Text)
	receive(t, guestRec.connected)
	assert.Equal(t, "You joined the room as Guest", receive(t, guestRec.system).Text)

	require.NoError(t, guest.SendChat(ctx, "second"))
	assert.Equal(t, "second", receive(t, adminRec.chats).Text)
	assert.Equal(t, "second", receive(t, guestRec.chats).Text)

	assert.Equal(t, []string{"first", "second"}, chatTexts(admin.Messages()))
	assert.Equal(t, []string{"first", "second"}, chatTexts(guest.Messages()))

	require.NoError(t, guest.Disconnect())
	ok, err := f.lm.RoomExists(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, admin.Disconnect())
	assert.Empty(t, f.mr.Keys())

	_, err = f.lm.JoinRoom(ctx, "R1", "late", "Late")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSendChatRejectsBlank(t *testing.T) {
	s := NewSocketSession(config("R1", "u", "U"), newFakeTransport(), Callbacks{}, testLogger)
	defer s.Disconnect()

	assert.ErrorIs(t, s.SendChat(context.Background(), "   "), domain.ErrEmptyMessage)
}

func TestStartTwice(t *testing.T) {
	s := NewSocketSession(config("R1", "u", "U"), newFakeTransport(), Callbacks{}, testLogger)
	defer s.Disconnect()

	require.NoError(t, s.CreateRoom(context.Background()))
	assert.ErrorIs(t, s.JoinRoom(context.Background()), ErrAlreadyStarted)
}

func TestCommandsAfterDisconnect(t *testing.T) {
	s := NewSocketSession(config("R1", "u", "U"), newFakeTransport(), Callbacks{}, testLogger)
	require.NoError(t, s.CreateRoom(context.Background()))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	<-s.Done()
	assert.ErrorIs(t, s.SendChat(context.Background(), "hi"), domain.ErrSessionClosed)
	assert.NoError(t, s.Err())
	assert.Equal(t, connection.StateDisconnected, s.Status().State)
}

// fakeTransport echoes chat back like the relay does and lets tests inject
// inbound envelopes and link loss.
type fakeTransport struct {
	mu    sync.Mutex
	sub   transport.Subscriber
	alive bool
	sent  []domain.Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alive = true
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, env domain.Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	sub := f.sub
	f.mu.Unlock()

	if env.Type == domain.TypeChat {
		sub.OnEnvelope(env)
	}
	return nil
}

func (f *fakeTransport) Subscribe(sub transport.Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sub = sub
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alive = false
	return nil
}

func (f *fakeTransport) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.alive
}

func (f *fakeTransport) deliver(env domain.Envelope) {
	f.mu.Lock()
	sub := f.sub
	f.mu.Unlock()

	sub.OnEnvelope(env)
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.alive = false
	sub := f.sub
	f.mu.Unlock()

	sub.OnClose(errors.New("link lost"))
}

func (f *fakeTransport) sentTypes() []domain.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.MessageType, 0, len(f.sent))
	for _, env := range f.sent {
		out = append(out, env.Type)
	}
	return out
}

func TestQueuedChatSurvivesReconnect(t *testing.T) {
	clk := clock.NewMock()
	ft := newFakeTransport()
	rec := newRecorder()

	cfg := config("R1", "admin", "Alice")
	cfg.Clock = clk
	s := NewSocketSession(cfg, ft, rec.callbacks(), testLogger)
	defer s.Disconnect()

	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx))
	receive(t, rec.connected)

	ft.drop()
	require.Eventually(t, func() bool {
		return s.Status().State == connection.StateReconnecting
	}, waitFor, time.Millisecond)
	assert.Equal(t, 1, s.Status().Attempt)
	assert.Equal(t, 2*time.Second, s.Status().RetryIn)
	assert.False(t, s.IsConnected())

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.SendChat(ctx, text))
	}
	assert.Empty(t, chatTexts(s.Messages()))

	clk.Add(2 * time.Second)
	receive(t, rec.connected)

	for range 3 {
		receive(t, rec.chats)
	}
	assert.Equal(t, []string{"one", "two", "three"}, chatTexts(s.Messages()))
	assert.Equal(t, []domain.MessageType{
		domain.TypeCreateRoom,
		domain.TypeCreateRoom,
		domain.TypeChat,
		domain.TypeChat,
		domain.TypeChat,
	}, ft.sentTypes())
	assert.True(t, s.IsConnected())
}

func TestDisconnectReportsDroppedChat(t *testing.T) {
	clk := clock.NewMock()
	ft := newFakeTransport()
	rec := newRecorder()

	cfg := config("R1", "admin", "Alice")
	cfg.Clock = clk
	s := NewSocketSession(cfg, ft, rec.callbacks(), testLogger)

	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx))
	receive(t, rec.connected)

	ft.drop()
	require.Eventually(t, func() bool {
		return s.Status().State == connection.StateReconnecting
	}, waitFor, time.Millisecond)
	require.NoError(t, s.SendChat(ctx, "never sent"))

	err := s.Disconnect()
	assert.ErrorIs(t, err, domain.ErrSendFailure)
	assert.NoError(t, s.Disconnect())

	<-s.Done()
	assert.Empty(t, chatTexts(s.Messages()))
	assert.NoError(t, s.Err())
}

func TestDuplicateChatDeliveredOnce(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()
	s := NewSocketSession(config("R1", "guest", "Bob"), ft, rec.callbacks(), testLogger)
	defer s.Disconnect()

	require.NoError(t, s.JoinRoom(context.Background()))
	receive(t, rec.connected)

	env, err := domain.NewEnvelope(domain.TypeChat, "R1", domain.ChatMessage{
		ID: "admin-1", AuthorID: "admin", AuthorName: "Alice", Text: "hi", TimestampMs: 1,
	})
	require.NoError(t, err)

	ft.deliver(env)
	ft.deliver(env)
	receive(t, rec.chats)

	// a marker after the duplicate proves it was processed
	marker, err := domain.NewEnvelope(domain.TypeChat, "R1", domain.ChatMessage{
		ID: "admin-2", AuthorID: "admin", AuthorName: "Alice", Text: "marker", TimestampMs: 2,
	})
	require.NoError(t, err)
	ft.deliver(marker)
	assert.Equal(t, "marker", receive(t, rec.chats).Text)

	assert.Equal(t, []string{"hi", "marker"}, chatTexts(s.Messages()))
	assert.Equal(t, 2, s.Unread())
}

func TestMalformedAndErrorEnvelopes(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()
	s := NewSocketSession(config("R1", "guest", "Bob"), ft, rec.callbacks(), testLogger)
	defer s.Disconnect()

	require.NoError(t, s.JoinRoom(context.Background()))
	receive(t, rec.connected)

	ft.deliver(domain.Envelope{Type: domain.TypePlay, RoomID: "R1", Payload: []byte(`{"playing":`)})
	ft.deliver(domain.Envelope{Type: domain.TypeChat, RoomID: "R1", Payload: []byte(`{"text":"no id"}`)})
	ft.deliver(domain.Envelope{Type: domain.TypeSeek, RoomID: "R1"})

	errEnv, err := domain.NewEnvelope(domain.TypeError, "R1", domain.ErrorPayload{Message: "Join a room first"})
	require.NoError(t, err)
	ft.deliver(errEnv)
	assert.EqualError(t, receive(t, rec.errs), "Join a room first")

	state := domain.VideoState{Playing: true, Time: 12, Source: "https://x/video.mp4"}
	play, err := domain.NewEnvelope(domain.TypePlay, "R1", state)
	require.NoError(t, err)
	ft.deliver(play)
	assert.Equal(t, state, waitChange(t, rec.changes, func(domain.VideoState) bool { return true }))

	assert.Empty(t, chatTexts(s.Messages()))
	select {
	case <-s.Done():
		t.Fatal("session stopped on a non-fatal error")
	default:
	}
}

func TestSkipAndDriftWithPlayer(t *testing.T) {
	clk := clock.NewMock()
	player := playback.NewVirtualPlayer(clk)
	player.SetDuration(100)

	cfg := config("R1", "admin", "Alice")
	cfg.Clock = clk
	cfg.Player = player
	ft := newFakeTransport()
	rec := newRecorder()
	s := NewSocketSession(cfg, ft, rec.callbacks(), testLogger)
	defer s.Disconnect()

	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx))
	receive(t, rec.connected)

	state, err := s.Skip(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, state.Time)

	state, err = s.Skip(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 100.0, state.Time)

	remote, err := domain.NewEnvelope(domain.TypeSeek, "R1", domain.VideoState{Time: 50})
	require.NoError(t, err)
	ft.deliver(remote)
	waitChange(t, rec.changes, func(s domain.VideoState) bool { return s.Time == 50 })

	corrected, err := s.CheckDrift(ctx)
	require.NoError(t, err)
	assert.False(t, corrected, "no correction inside the syncing window")

	clk.Add(time.Second)
	player.Seek(10)
	corrected, err = s.CheckDrift(ctx)
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.InDelta(t, 50, player.Position(), 0.01)
}

func TestPlayerEventSuppressedWhileSyncing(t *testing.T) {
	clk := clock.NewMock()
	player := playback.NewVirtualPlayer(clk)

	cfg := config("R1", "guest", "Bob")
	cfg.Clock = clk
	cfg.Player = player
	ft := newFakeTransport()
	rec := newRecorder()
	s := NewSocketSession(cfg, ft, rec.callbacks(), testLogger)
	defer s.Disconnect()

	ctx := context.Background()
	require.NoError(t, s.JoinRoom(ctx))
	receive(t, rec.connected)

	remote, err := domain.NewEnvelope(domain.TypePlay, "R1", domain.VideoState{Playing: true, Time: 5})
	require.NoError(t, err)
	ft.deliver(remote)
	waitChange(t, rec.changes, func(s domain.VideoState) bool { return s.Playing })
	assert.True(t, player.Playing())

	// the forced play echoes back as a player event
	published, err := s.PlayerEvent(ctx, domain.TypePlay)
	require.NoError(t, err)
	assert.False(t, published)

	clk.Add(time.Second)
	player.Pause()
	published, err = s.PlayerEvent(ctx, domain.TypePause)
	require.NoError(t, err)
	assert.True(t, published)

	assert.Equal(t, []domain.MessageType{domain.TypeJoinRoom, domain.TypePause}, ft.sentTypes())
	state := s.VideoState()
	assert.False(t, state.Playing)
	assert.InDelta(t, 6, state.Time, 0.01)
}
