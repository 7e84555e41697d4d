package session

import (
	"errors"
	"strings"
	"time"

	"github.com/sharetube/syncroom/internal/connection"
	"github.com/sharetube/syncroom/internal/domain"
)

// OnEnvelope implements connection.Listener.
func (s *Session) OnEnvelope(env domain.Envelope) {
	s.post(func() { s.dispatch(env) })
}

// OnConnected implements connection.Listener.
func (s *Session) OnConnected() {
	s.post(func() {
		if s.ctx.Err() != nil {
			return
		}

		first := !s.everConnected
		s.everConnected = true
		s.connected.Store(true)

		if err := s.entry.onConnected(s.ctx, s, first); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrRoomNotFound) {
				s.fail(err)
				return
			}
			s.logger.Error("failed to enter room", "error", err)
			s.reportError(err)
			return
		}

		s.setStatus(Status{State: connection.StateConnected})
		if s.cb.OnConnected != nil {
			s.cb.OnConnected()
		}
	})
}

// OnReconnecting implements connection.Listener.
func (s *Session) OnReconnecting(attempt int, delay time.Duration) {
	s.post(func() {
		s.connected.Store(false)
		s.setStatus(Status{State: connection.StateReconnecting, Attempt: attempt, RetryIn: delay})
	})
}

// OnFailed implements connection.Listener.
func (s *Session) OnFailed(err error) {
	s.post(func() {
		s.connected.Store(false)
		s.fail(err)
	})
}

func (s *Session) dispatch(env domain.Envelope) {
	if s.stopped {
		return
	}

	switch {
	case env.Type.IsPlayback():
		var state domain.VideoState
		if !s.decode(env, &state) {
			return
		}
		s.sync.ApplyRemote(state)

	case env.Type == domain.TypeSyncState:
		var state domain.VideoState
		if !s.decode(env, &state) {
			return
		}
		s.applySync(state)

	case env.Type == domain.TypeChat:
		var msg domain.ChatMessage
		if !s.decode(env, &msg) {
			return
		}
		s.chat.Append(msg)

	case env.Type == domain.TypeError:
		var payload domain.ErrorPayload
		if err := env.Decode(&payload); err != nil {
			s.logger.Warn("dropping envelope", "error", err)
			return
		}
		if strings.EqualFold(payload.Message, domain.ErrRoomNotFound.Error()) {
			s.fail(domain.ErrRoomNotFound)
			return
		}
		s.reportError(errors.New(payload.Message))

	case env.Type == domain.TypeRoomCreated:
		s.logger.Info("room created by relay")

	default:
		s.logger.Debug("ignoring envelope", "type", env.Type)
	}
}

// decode unmarshals and validates the payload, logging and dropping it when
// malformed.
func (s *Session) decode(env domain.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		s.logger.Warn("dropping envelope", "type", env.Type, "error", err)
		return false
	}

	if err := s.validate.Check(v); err != nil {
		s.logger.Warn("dropping envelope", "type", env.Type,
			"error", &domain.MalformedPayloadError{Type: env.Type, Err: err})
		return false
	}

	return true
}

func (s *Session) applySync(state domain.VideoState) {
	s.sync.ApplyRemote(state)
	if s.cb.OnSyncState != nil {
		s.cb.OnSyncState(state)
	}
}
