package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/playback"
	"github.com/sharetube/syncroom/pkg/mediaurl"
)

const titleLookupTimeout = 5 * time.Second

var ErrAdminOnly = errors.New("only the admin can change the video")

const helpText = `commands:
  /play            resume playback
  /pause           pause playback
  /seek <seconds>  jump to a position
  /skip <seconds>  jump relative to the position, negative goes back
  /source <url>    change the video, admin only
  /who             list participants
  /read            show the chat log and mark it read
  /quit            leave the room
anything else is sent as a chat message
`

func parseCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line, false
	}

	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// execute runs one input line. It reports true once the user asked to quit.
func (c *client) execute(ctx context.Context, line string) (bool, error) {
	name, arg, ok := parseCommand(line)
	if !ok {
		if arg == "" {
			return false, nil
		}
		return false, c.session.SendChat(ctx, arg)
	}

	switch name {
	case "quit", "q":
		return true, nil
	case "help":
		c.out.printf("%s", helpText)
	case "play":
		c.player.Play()
		return false, c.playerEvent(ctx, domain.TypePlay)
	case "pause":
		c.player.Pause()
		return false, c.playerEvent(ctx, domain.TypePause)
	case "seek":
		seconds, err := parseSeconds(arg)
		if err != nil {
			return false, err
		}
		if seconds < 0 {
			return false, fmt.Errorf("position must not be negative")
		}
		c.player.Seek(seconds)
		return false, c.playerEvent(ctx, domain.TypeSeek)
	case "skip":
		seconds, err := parseSeconds(arg)
		if err != nil {
			return false, err
		}
		state, err := c.session.Skip(ctx, seconds)
		if err != nil {
			return false, err
		}
		c.player.Seek(state.Time)
	case "source", "src":
		return false, c.setSource(ctx, arg)
	case "who":
		return false, c.who(ctx)
	case "read":
		for _, msg := range c.session.Messages() {
			c.out.printf("%s [%s] %s\n", time.UnixMilli(msg.TimestampMs).Format(time.TimeOnly), msg.AuthorName, msg.Text)
		}
		c.session.ClearUnread()
	default:
		return false, fmt.Errorf("unknown command /%s, type /help", name)
	}

	return false, nil
}

func (c *client) playerEvent(ctx context.Context, kind domain.MessageType) error {
	published, err := c.session.PlayerEvent(ctx, kind)
	if err != nil {
		return err
	}
	if !published {
		c.out.printf("ignored %s while syncing\n", strings.ToLower(string(kind)))
	}
	return nil
}

func (c *client) setSource(ctx context.Context, url string) error {
	if !c.session.IsAdmin() {
		return ErrAdminOnly
	}

	embedded, err := mediaurl.Validate(url)
	if err != nil {
		return err
	}

	if _, err := c.session.UpdateVideoState(ctx, domain.TypeSetVideo, playback.Delta{Source: &url}); err != nil {
		return err
	}
	c.player.Load(url)

	if !embedded {
		return nil
	}

	videoID, _ := mediaurl.VideoID(url)
	lookupCtx, cancel := context.WithTimeout(ctx, titleLookupTimeout)
	defer cancel()

	data, err := c.media.Get(lookupCtx, videoID)
	if err != nil {
		c.logger.Warn("failed to look up video title", "video_id", videoID, "error", err)
		return nil
	}
	c.out.printf("now playing: %s by %s\n", data.Title, data.AuthorName)

	return nil
}

func (c *client) who(ctx context.Context) error {
	members, err := c.session.Members(ctx)
	if errors.Is(err, errors.ErrUnsupported) {
		c.out.printf("the socket relay does not share the participant list\n")
		return nil
	}
	if err != nil {
		return err
	}

	for _, m := range members {
		c.out.printf("%s (since %s)\n", m.Username, time.UnixMilli(m.LastSeenMs).Format(time.TimeOnly))
	}
	return nil
}

func parseSeconds(arg string) (float64, error) {
	seconds, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("expected seconds, got %q", arg)
	}
	return seconds, nil
}
