package app

import (
	"io"
	"log/slog"

	"github.com/sharetube/syncroom/pkg/ctxlogger"
)

// NewLogger builds the JSON logger every component receives.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	logLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(h), nil
}
