package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	VariantSocket = "socket"
	VariantRedis  = "redis"
)

var (
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidVariant  = errors.New("variant must be socket or redis")
	ErrMissingRoomID   = errors.New("room id is required")
	ErrMissingUsername = errors.New("username is required")
	ErrMissingRelayURL = errors.New("relay url is required for the socket variant")
)

type RelayConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

func (cfg *RelayConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return ErrInvalidPort
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

func (cfg *RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

type ClientConfig struct {
	Variant       string        `json:"variant"`
	RelayURL      string        `json:"relay_url"`
	RoomID        string        `json:"room_id"`
	Username      string        `json:"username"`
	Admin         bool          `json:"admin"`
	LogLevel      string        `json:"log_level"`
	LogPath       string        `json:"log_path"`
	RedisHost     string        `json:"redis_host"`
	RedisPort     int           `json:"redis_port"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	RoomExpire    time.Duration `json:"room_expire"`
	DriftInterval time.Duration `json:"drift_interval"`
}

func (cfg *ClientConfig) Validate() error {
	switch cfg.Variant {
	case VariantSocket:
		if cfg.RelayURL == "" {
			return ErrMissingRelayURL
		}
	case VariantRedis:
		if cfg.RedisPort < 1 || cfg.RedisPort > 65535 {
			return fmt.Errorf("redis %w", ErrInvalidPort)
		}
	default:
		return ErrInvalidVariant
	}

	if strings.TrimSpace(cfg.RoomID) == "" {
		return ErrMissingRoomID
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return ErrMissingUsername
	}
	if len(cfg.Username) > 64 {
		return fmt.Errorf("username must be at most 64 characters")
	}
	if cfg.RoomExpire < 0 || cfg.DriftInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
