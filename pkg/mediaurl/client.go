package mediaurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoNotEmbeddable = errors.New("video is not embeddable")
)

type VideoData struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type Client struct {
	httpClient *http.Client
	oembedURL  string
	pageURL    string
}

const (
	defaultOEmbedURL = "https://www.youtube.com/oembed"
	defaultPageURL   = "https://youtu.be/"
)

type ClientOption func(*Client)

// WithBaseURLs points the client at other oEmbed and page endpoints.
func WithBaseURLs(oembedURL, pageURL string) ClientOption {
	return func(c *Client) {
		c.oembedURL = oembedURL
		c.pageURL = pageURL
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		oembedURL:  defaultOEmbedURL,
		pageURL:    defaultPageURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks the video up through oEmbed and falls back to scraping the watch
// page when the video refuses embedding.
func (c *Client) Get(ctx context.Context, videoId string) (*VideoData, error) {
	videoData, err := c.getWithEmbed(ctx, videoId)
	if err != nil {
		if !errors.Is(err, ErrVideoNotEmbeddable) {
			return nil, fmt.Errorf("failed to get video data with embed: %w", err)
		}

		videoData, err = c.getFromPage(ctx, videoId)
		if err != nil {
			return nil, fmt.Errorf("failed to get video data from page: %w", err)
		}
	}

	return videoData, nil
}

func (c *Client) getWithEmbed(ctx context.Context, videoId string) (*VideoData, error) {
	target := c.oembedURL + "?url=" + url.QueryEscape("https://www.youtube.com/watch?v="+videoId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound:
		return nil, ErrVideoNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrVideoNotEmbeddable
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result VideoData
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode oembed response: %w", err)
	}

	return &result, nil
}
