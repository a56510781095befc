// Package ingest runs ingestion passes: fetch every configured feed, keep the
// new entries that mention a keyword, and store them with their matches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/rssmonitor/internal/logger"
	"github.com/bryan-buckman/rssmonitor/internal/match"
	"github.com/bryan-buckman/rssmonitor/internal/model"
)

// DefaultConcurrency is the number of feeds fetched in parallel.
const DefaultConcurrency = 4

// Repository is the part of the store a pass needs.
type Repository interface {
	LinkChecker
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListKeywords(ctx context.Context) ([]model.Keyword, error)
	// InsertNewsWithMatches stores item and its match rows atomically and
	// returns model.ErrDuplicate if the link is already stored.
	InsertNewsWithMatches(ctx context.Context, item model.NewsItem, keywordIDs []int64) (int64, error)
}

// FeedClient fetches the current entries of one feed.
type FeedClient interface {
	Fetch(ctx context.Context, feedURL string) ([]model.RawEntry, error)
}

// Runner orchestrates ingestion passes. It keeps no state between passes.
//
// RunOnce must not be called concurrently: two overlapping passes could both
// see a link as new. Serialize callers (rss.Poller does).
type Runner struct {
	repo        Repository
	client      FeedClient
	dedup       *Deduplicator
	matcher     *match.Matcher
	concurrency int
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets how many feeds are fetched at once.
// Entries are still stored one at a time.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner.
func NewRunner(repo Repository, client FeedClient, matcher *match.Matcher, opts ...Option) *Runner {
	r := &Runner{
		repo:        repo,
		client:      client,
		dedup:       NewDeduplicator(repo),
		matcher:     matcher,
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type fetched struct {
	feed    model.Feed
	entries []model.RawEntry
	err     error
}

// RunOnce performs one pass over all configured feeds.
//
// Failures of a single feed or entry are recorded in the summary and the pass
// goes on. An error is returned only when the store cannot be read or the
// context is done; the summary then covers the work done so far.
func (r *Runner) RunOnce(ctx context.Context) (model.RunSummary, error) {
	summary := model.RunSummary{
		ID:        uuid.NewString(),
		StartedAt: r.now(),
		Errors:    []model.FeedError{},
	}
	ctx = logger.Ctx(ctx, slog.String("run_id", summary.ID))

	finish := func() model.RunSummary {
		summary.FinishedAt = r.now()
		return summary
	}

	feeds, err := r.repo.ListFeeds(ctx)
	if err != nil {
		return finish(), fmt.Errorf("list feeds: %w", err)
	}
	keywords, err := r.repo.ListKeywords(ctx)
	if err != nil {
		return finish(), fmt.Errorf("list keywords: %w", err)
	}
	slog.InfoContext(ctx, "pass started", "feeds", len(feeds), "keywords", len(keywords))

	if len(feeds) == 0 || len(keywords) == 0 {
		summary.Skipped = true
		slog.WarnContext(ctx, "pass skipped: no feeds or keywords configured")
		return finish(), nil
	}

	results, stop := r.fetchAll(ctx, feeds)
	defer stop()

	for res := range results {
		if ctx.Err() != nil {
			break
		}
		if res.err != nil {
			slog.ErrorContext(ctx, "feed failed", "feed", res.feed.URL, "error", res.err)
			summary.Errors = append(summary.Errors, model.FeedError{FeedURL: res.feed.URL, Err: res.err.Error()})
			continue
		}

		summary.FeedsProcessed++
		slog.InfoContext(ctx, "feed fetched", "feed", res.feed.URL, "entries", len(res.entries))
		if err := r.processFeed(ctx, res.feed, res.entries, keywords, &summary); err != nil {
			return finish(), err
		}
	}

	if err := ctx.Err(); err != nil {
		slog.WarnContext(ctx, "pass abandoned", "error", err, "feeds_processed", summary.FeedsProcessed)
		return finish(), err
	}

	finish()
	slog.InfoContext(ctx, "pass finished",
		"feeds_processed", summary.FeedsProcessed,
		"entries_seen", summary.EntriesSeen,
		"entries_matched", summary.EntriesMatched,
		"errors", len(summary.Errors),
		"duration", summary.Duration(),
	)
	return summary, nil
}

// fetchAll fetches feeds with up to r.concurrency workers and streams the
// results. stop cancels outstanding fetches and waits for the workers.
func (r *Runner) fetchAll(ctx context.Context, feeds []model.Feed) (<-chan fetched, func()) {
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan fetched)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	go func() {
		defer close(results)
		for _, feed := range feeds {
			if gCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				entries, err := r.client.Fetch(gCtx, feed.URL)
				select {
				case results <- fetched{feed: feed, entries: entries, err: err}:
				case <-gCtx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	stop := func() {
		cancel()
		for range results {
		}
	}
	return results, stop
}

// processFeed stores the new, matching entries of one feed.
func (r *Runner) processFeed(ctx context.Context, feed model.Feed, entries []model.RawEntry, keywords []model.Keyword, summary *model.RunSummary) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.EntriesSeen++

		if entry.Link == "" {
			slog.DebugContext(ctx, "entry without link skipped", "feed", feed.URL, "title", entry.Title)
			continue
		}

		// Dedup before matching so seen entries cost no lemmatization.
		isNew, err := r.dedup.IsNew(ctx, entry.Link)
		if err != nil {
			return err
		}
		if !isNew {
			continue
		}

		ids := r.matcher.Match(entry.Title+" "+entry.Content, keywords)
		if len(ids) == 0 {
			continue
		}

		feedID := feed.ID
		item := model.NewsItem{
			FeedID:     &feedID,
			Title:      entry.Title,
			Content:    entry.Content,
			Link:       entry.Link,
			IngestedAt: r.now(),
		}
		if _, err := r.repo.InsertNewsWithMatches(ctx, item, ids); err != nil {
			if errors.Is(err, model.ErrDuplicate) {
				summary.Duplicates++
				slog.DebugContext(ctx, "news already stored", "link", entry.Link)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "saving news failed", "feed", feed.URL, "link", entry.Link, "error", err)
			summary.Errors = append(summary.Errors, model.FeedError{
				FeedURL: feed.URL,
				Err:     fmt.Sprintf("save %s: %v", entry.Link, err),
			})
			continue
		}

		summary.EntriesMatched++
		slog.InfoContext(ctx, "news saved",
			"title", entry.Title,
			"link", entry.Link,
			"keywords", keywordTexts(keywords, ids),
		)
	}
	return nil
}

func keywordTexts(keywords []model.Keyword, ids []int64) []string {
	byID := make(map[int64]string, len(keywords))
	for _, kw := range keywords {
		byID[kw.ID] = kw.Text
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		texts = append(texts, byID[id])
	}
	return texts
}
