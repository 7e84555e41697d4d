package socket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	envs   chan domain.Envelope
	closed chan error
}

func newCollector() *collector {
	return &collector{
		envs:   make(chan domain.Envelope, 16),
		closed: make(chan error, 1),
	}
}

func (c *collector) OnEnvelope(env domain.Envelope) { c.envs <- env }
func (c *collector) OnClose(err error)              { c.closed <- err }

// echoServer writes back every frame it reads. Frames containing "malformed"
// are answered with garbage, frames containing "bye" close the connection.
type echoServer struct {
	*httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	s := &echoServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch {
			case strings.Contains(string(data), "malformed"):
				conn.WriteMessage(mt, []byte("{{{"))
			case strings.Contains(string(data), "bye"):
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
				return
			default:
				conn.WriteMessage(mt, data)
			}
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newTransport(t *testing.T, url string) (*Transport, *collector) {
	t.Helper()

	tr := New(Config{URL: url}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := newCollector()
	tr.Subscribe(c)
	t.Cleanup(func() { tr.Disconnect() })

	return tr, c
}

func chat(t *testing.T, text string) domain.Envelope {
	t.Helper()

	env, err := domain.NewEnvelope(domain.TypeChat, "R1", domain.ChatMessage{ID: "u-1", AuthorID: "u", Text: text})
	require.NoError(t, err)
	return env
}

func receive(t *testing.T, c *collector) domain.Envelope {
	t.Helper()

	select {
	case env := <-c.envs:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
	}
	return domain.Envelope{}
}

func TestSendAndReceive(t *testing.T) {
	srv := newEchoServer(t)
	tr, c := newTransport(t, srv.wsURL())

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.IsAlive())

	require.NoError(t, tr.Send(context.Background(), chat(t, "hello")))
	env := receive(t, c)
	assert.Equal(t, domain.TypeChat, env.Type)

	var msg domain.ChatMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "hello", msg.Text)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := newEchoServer(t)
	tr, c := newTransport(t, srv.wsURL())
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Send(context.Background(), chat(t, "malformed")))
	require.NoError(t, tr.Send(context.Background(), chat(t, "fine")))

	var msg domain.ChatMessage
	require.NoError(t, receive(t, c).Decode(&msg))
	assert.Equal(t, "fine", msg.Text)
	assert.True(t, tr.IsAlive())
}

func TestPeerCloseIsReported(t *testing.T) {
	srv := newEchoServer(t)
	tr, c := newTransport(t, srv.wsURL())
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Send(context.Background(), chat(t, "bye")))

	select {
	case err := <-c.closed:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	case <-time.After(2 * time.Second):
		t.Fatal("close not reported")
	}
	assert.False(t, tr.IsAlive())

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Send(context.Background(), chat(t, "again")))
	receive(t, c)
}

func TestDisconnectIsSilent(t *testing.T) {
	srv := newEchoServer(t)
	tr, c := newTransport(t, srv.wsURL())
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Disconnect())
	assert.False(t, tr.IsAlive())
	assert.ErrorIs(t, tr.Send(context.Background(), chat(t, "x")), domain.ErrNotConnected)

	select {
	case err := <-c.closed:
		t.Fatalf("unexpected close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDialFailure(t *testing.T) {
	srv := newEchoServer(t)
	url := srv.wsURL()
	srv.Close()

	tr, _ := newTransport(t, url)
	assert.Error(t, tr.Connect(context.Background()))
	assert.False(t, tr.IsAlive())
}
