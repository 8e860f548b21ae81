package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const userAgent = "news-publisher/2 (+https://github.com/aktagon/news-publisher)"

// ContentResult represents the result of fetching content
type ContentResult struct {
	Text string       // Markdown text content (for HTML pages)
	Feed *gofeed.Feed // Parsed feed (for RSS and Atom)
	Data []byte       // Raw body (for JSON APIs)
}

// ContentFetcher handles fetching and processing content from URLs
type ContentFetcher struct {
	handlers []ContentHandler
	client   *http.Client
	retries  uint64
	backoff  time.Duration
	log      zerolog.Logger
}

// NewContentFetcher creates a new content fetcher with default handlers
func NewContentFetcher(timeout time.Duration, log zerolog.Logger) *ContentFetcher {
	f := &ContentFetcher{
		client:  &http.Client{Timeout: timeout},
		retries: 3,
		backoff: time.Second,
		log:     log.With().Str("component", "fetcher").Logger(),
	}

	// Register handlers (most specific first)
	f.AddHandler(&FeedHandler{parser: gofeed.NewParser()})
	f.AddHandler(&JSONHandler{})
	f.AddHandler(&HTMLHandler{converter: md.NewConverter("", true, nil)}) // fallback

	return f
}

// AddHandler adds a content handler to the chain
func (f *ContentFetcher) AddHandler(handler ContentHandler) {
	f.handlers = append(f.handlers, handler)
}

// FetchContent fetches and processes content using handler chain. Rate
// limits and server errors are retried with exponential backoff.
func (f *ContentFetcher) FetchContent(ctx context.Context, url string) (*ContentResult, error) {
	backoff := f.backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var result *ContentResult
	b := retry.WithMaxRetries(f.retries, retry.NewExponential(backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := f.fetch(ctx, url)
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Temporary() {
			f.log.Debug().Int("status", httpErr.StatusCode).Str("url", url).Msg("retrying")
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *ContentFetcher) fetch(ctx context.Context, url string) (*ContentResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	// Find handler based on URL + response headers
	for _, handler := range f.handlers {
		if handler.CanHandle(url, resp) {
			return handler.Handle(url, resp)
		}
	}

	return nil, fmt.Errorf("no handler found for %s", url)
}
