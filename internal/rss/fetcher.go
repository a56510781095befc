// Package rss fetches feeds and schedules ingestion passes over them.
package rss

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"

	"github.com/bryan-buckman/rssmonitor/internal/model"
)

// Fetch defaults.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultRetryBase    = 500 * time.Millisecond
	DefaultUserAgent    = "rssmonitor/1.0"
)

// FetchError reports that a feed could not be fetched or parsed.
// It covers network failures, timeouts, bad HTTP statuses and malformed payloads.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetcherConfig tunes a Fetcher. Zero values pick the defaults.
type FetcherConfig struct {
	// Timeout bounds every single attempt.
	Timeout time.Duration
	// Retries is how many times a transient failure is retried.
	Retries uint64
	// RetryBase is the first Fibonacci backoff step.
	RetryBase time.Duration
	// DomainDelay is the minimum spacing of requests to one host; zero disables it.
	DomainDelay time.Duration
	UserAgent   string
}

// Fetcher downloads and parses RSS/Atom feeds.
type Fetcher struct {
	client        *http.Client
	timeout       time.Duration
	retries       uint64
	retryBase     time.Duration
	userAgent     string
	domainLimiter *domainLimiter
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.DomainDelay < 0 {
		cfg.DomainDelay = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:        &http.Client{Timeout: cfg.Timeout},
		timeout:       cfg.Timeout,
		retries:       cfg.Retries,
		retryBase:     cfg.RetryBase,
		userAgent:     cfg.UserAgent,
		domainLimiter: newDomainLimiter(MaxConcurrencyPerDomain, cfg.DomainDelay),
	}
}

// Fetch returns the feed's current entries in feed order. Any failure is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]model.RawEntry, error) {
	release, err := f.domainLimiter.acquire(ctx, extractDomain(feedURL))
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("rate limit cancelled: %w", err)}
	}
	defer release()

	var parsed *gofeed.Feed
	backoff := retry.WithMaxRetries(f.retries, retry.NewFibonacci(f.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		feed, err := f.parse(ctx, feedURL)
		if err != nil {
			if ctx.Err() == nil && transient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		parsed = feed
		return nil
	})
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}

	entries := make([]model.RawEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, toEntry(item))
	}
	return entries, nil
}

func (f *Fetcher) parse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// gofeed parsers keep state while parsing, so each fetch gets its own.
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = f.userAgent

	return parser.ParseURLWithContext(feedURL, ctx)
}

// transient reports whether a failed attempt is worth retrying.
func transient(err error) bool {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func toEntry(item *gofeed.Item) model.RawEntry {
	content := item.Description
	if strings.TrimSpace(content) == "" {
		content = item.Content
	}

	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}

	return model.RawEntry{
		Title:   sanitize(item.Title),
		Content: sanitize(content),
		Link:    link,
	}
}

var stripPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// Removes all html tags from the string, usually a description, and
// collapses the whitespace left behind.
func sanitize(s string) string {
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
