package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
)

const selfJoinMessageID = "system-join-self"

type Publisher interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// Stream is the local, append-only view of a room's chat log. Every message
// id is accepted at most once for the life of the stream.
type Stream struct {
	roomID    string
	userID    string
	username  string
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger

	mu        sync.Mutex
	messages  []domain.ChatMessage
	seen      map[string]struct{}
	unread    int
	lastMs    int64
	onMessage func(domain.ChatMessage)
}

func NewStream(roomID, userID, username string, publisher Publisher, clk clock.Clock, logger *slog.Logger) *Stream {
	if clk == nil {
		clk = clock.New()
	}

	return &Stream{
		roomID:    roomID,
		userID:    userID,
		username:  username,
		publisher: publisher,
		clock:     clk,
		logger:    logger.With("component", "chat", "room_id", roomID),
		seen:      make(map[string]struct{}),
	}
}

func (s *Stream) OnMessage(fn func(domain.ChatMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onMessage = fn
}

// Append adds msg unless its id was already seen. It reports whether the
// message was new.
func (s *Stream) Append(msg domain.ChatMessage) bool {
	s.mu.Lock()
	if _, ok := s.seen[msg.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("duplicate message dropped", "message_id", msg.ID)
		return false
	}

	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	if msg.AuthorID != s.userID && !msg.IsSystem {
		s.unread++
	}
	onMessage := s.onMessage
	s.mu.Unlock()

	if onMessage != nil {
		onMessage(msg)
	}

	return true
}

// Send publishes a new message authored by the local user. The message is not
// appended here; it comes back through the relay like everyone else's.
func (s *Stream) Send(ctx context.Context, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrEmptyMessage
	}

	s.mu.Lock()
	ms := s.clock.Now().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms
	s.mu.Unlock()

	msg := domain.ChatMessage{
		ID:          domain.ChatMessageID(s.userID, ms),
		AuthorID:    s.userID,
		AuthorName:  s.username,
		Text:        text,
		TimestampMs: ms,
	}

	env, err := domain.NewEnvelope(domain.TypeChat, s.roomID, msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	if err := s.publisher.Send(ctx, env); err != nil {
		return msg, fmt.Errorf("failed to send message: %w", err)
	}

	return msg, nil
}

// AddSystem appends a local notice that never leaves this client and never
// counts as unread.
func (s *Stream) AddSystem(id, text string) bool {
	return s.Append(domain.ChatMessage{
		ID:          id,
		AuthorID:    domain.SystemAuthorID,
		AuthorName:  "System",
		Text:        text,
		TimestampMs: s.clock.Now().UnixMilli(),
		IsSystem:    true,
	})
}

// AddSelfJoin records the local user's own arrival.
func (s *Stream) AddSelfJoin(isAdmin bool) bool {
	role := "Guest"
	if isAdmin {
		role = "Admin"
	}
	return s.AddSystem(selfJoinMessageID, "You joined the room as "+role)
}

func (s *Stream) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Stream) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.unread
}

func (s *Stream) ClearUnread() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread = 0
}
