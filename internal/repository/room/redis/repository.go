package redis

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc               *redis.Client
	createRoomScript *redis.Script
	expireDuration   time.Duration
	logger           *slog.Logger
}

const defaultExpireDuration = 24 * time.Hour

func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	if expireDuration < time.Second {
		expireDuration = defaultExpireDuration
	}

	return &repo{
		rc: rc,
		// meta and video state are written together or not at all
		createRoomScript: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 1 then
				return 0
			end
			redis.call('HSET', KEYS[1], 'created', 1, 'created_at', ARGV[1])
			redis.call('HSET', KEYS[2], 'playing', ARGV[2], 'time', ARGV[3], 'src', ARGV[4], 'is_youtube', ARGV[5])
			redis.call('EXPIRE', KEYS[1], ARGV[6])
			redis.call('EXPIRE', KEYS[2], ARGV[6])
			return 1
		`),
		expireDuration: expireDuration,
		logger:         logger.With("component", "room_repo"),
	}
}

func (r repo) getMetaKey(roomId string) string {
	return "room:" + roomId + ":meta"
}

func (r repo) getVideoKey(roomId string) string {
	return "room:" + roomId + ":video"
}

func (r repo) getPresenceKey(roomId string) string {
	return "room:" + roomId + ":presence"
}

func (r repo) getMessagesKey(roomId string) string {
	return "room:" + roomId + ":messages"
}

// EventsChannel is the pub/sub channel every envelope of a room is published on.
func EventsChannel(roomId string) string {
	return "room:" + roomId + ":events"
}

func (r repo) roomKeys(roomId string) []string {
	return []string{
		r.getMetaKey(roomId),
		r.getVideoKey(roomId),
		r.getPresenceKey(roomId),
		r.getMessagesKey(roomId),
	}
}
