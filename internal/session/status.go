package session

import (
	"time"

	"github.com/sharetube/syncroom/internal/connection"
	"github.com/sharetube/syncroom/internal/domain"
)

type Status struct {
	State   connection.State
	Attempt int
	RetryIn time.Duration
	Err     error
}

// Callbacks run on the session's dispatch goroutine, one at a time. Nil
// callbacks are skipped.
type Callbacks struct {
	// OnVideoStateChange fires for every change of the local view, remote
	// or local.
	OnVideoStateChange func(domain.VideoState)
	OnChatMessage      func(domain.ChatMessage)
	OnSyncState        func(domain.VideoState)
	OnError            func(error)
	OnConnected        func()
	OnStatusChange     func(Status)
}
