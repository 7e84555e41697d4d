package mediaurl

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidScheme      = errors.New("url must start with http:// or https://")
	ErrInvalidEmbeddedURL = errors.New("invalid YouTube url")
	ErrUnsupportedURL     = errors.New("use a YouTube link or a direct video url (.mp4, .webm, .ogg, .mov, .m3u8)")
)

var (
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#]+)`),
		regexp.MustCompile(`youtube\.com/embed/([^&\n?#]+)`),
	}
	videoExtensions = []string{".mp4", ".webm", ".ogg", ".mov", ".m3u8"}
)

// IsEmbeddedPlatform reports whether the url points at YouTube.
func IsEmbeddedPlatform(url string) bool {
	return strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be")
}

func VideoID(url string) (string, bool) {
	for _, pattern := range videoIDPatterns {
		if match := pattern.FindStringSubmatch(url); match != nil {
			return match[1], true
		}
	}
	return "", false
}

// Validate checks that url can be used as a video source and reports whether
// it plays on the embedded platform.
func Validate(url string) (bool, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false, ErrInvalidScheme
	}

	if IsEmbeddedPlatform(url) {
		if _, ok := VideoID(url); !ok {
			return true, ErrInvalidEmbeddedURL
		}
		return true, nil
	}

	lower := strings.ToLower(url)
	for _, ext := range videoExtensions {
		if strings.Contains(lower, ext) {
			return false, nil
		}
	}

	return false, ErrUnsupportedURL
}
