package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/rssmonitor/internal/match"
	"github.com/bryan-buckman/rssmonitor/internal/model"
	"github.com/bryan-buckman/rssmonitor/internal/morph"
)

type storedNews struct {
	item       model.NewsItem
	keywordIDs []int64
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu       sync.Mutex
	feeds    []model.Feed
	keywords []model.Keyword
	news     []storedNews
	links    map[string]bool

	existsErr error
	insertErr error
	// raceLinks are reported as new by NewsExistsByLink but rejected on insert.
	raceLinks map[string]bool
}

func newMemRepo(feeds []model.Feed, keywords []model.Keyword) *memRepo {
	return &memRepo{feeds: feeds, keywords: keywords, links: map[string]bool{}}
}

func (r *memRepo) ListFeeds(context.Context) ([]model.Feed, error) {
	return r.feeds, nil
}

func (r *memRepo) ListKeywords(context.Context) ([]model.Keyword, error) {
	return r.keywords, nil
}

func (r *memRepo) NewsExistsByLink(_ context.Context, link string) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[link], nil
}

func (r *memRepo) InsertNewsWithMatches(_ context.Context, item model.NewsItem, keywordIDs []int64) (int64, error) {
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links[item.Link] || r.raceLinks[item.Link] {
		return 0, model.ErrDuplicate
	}
	r.links[item.Link] = true
	item.ID = int64(len(r.news) + 1)
	r.news = append(r.news, storedNews{item: item, keywordIDs: keywordIDs})
	return item.ID, nil
}

func (r *memRepo) stored() []storedNews {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storedNews(nil), r.news...)
}

// fakeClient serves canned entries per feed URL.
type fakeClient struct {
	entries map[string][]model.RawEntry
	errs    map[string]error
	calls   atomic.Int32
	onFetch func(url string)
}

func (c *fakeClient) Fetch(ctx context.Context, url string) ([]model.RawEntry, error) {
	c.calls.Add(1)
	if c.onFetch != nil {
		c.onFetch(url)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.errs[url]; err != nil {
		return nil, err
	}
	return c.entries[url], nil
}

func newTestRunner(t *testing.T, repo Repository, client FeedClient, opts ...Option) *Runner {
	t.Helper()
	l, err := morph.NewRussian(nil, morph.DefaultCacheSize)
	require.NoError(t, err)
	return NewRunner(repo, client, match.New(l), opts...)
}

var (
	feedA = model.Feed{ID: 1, URL: "https://a.example/rss"}
	feedB = model.Feed{ID: 2, URL: "https://b.example/rss"}
	feedC = model.Feed{ID: 3, URL: "https://c.example/rss"}

	kwRun   = model.Keyword{ID: 10, Text: "бежать"}
	kwPlane = model.Keyword{ID: 11, Text: "самолет"}
)

func TestRunOnce_StoresMatchingEntries(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun, kwPlane})
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {
			{Title: "Новость: БЕЖАЛ!", Content: "", Link: "https://a.example/1"},
			{Title: "Погода", Content: "солнечно и тепло", Link: "https://a.example/2"},
			{Title: "Самолёт", Content: "Он бежал к самолёту", Link: "https://a.example/3"},
		},
	}}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Skipped)
	assert.Equal(t, 1, summary.FeedsProcessed)
	assert.Equal(t, 3, summary.EntriesSeen)
	assert.Equal(t, 2, summary.EntriesMatched)
	assert.Empty(t, summary.Errors)
	assert.NotEmpty(t, summary.ID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

	news := repo.stored()
	require.Len(t, news, 2)
	assert.Equal(t, "https://a.example/1", news[0].item.Link)
	assert.Equal(t, []int64{kwRun.ID}, news[0].keywordIDs)
	require.NotNil(t, news[0].item.FeedID)
	assert.Equal(t, feedA.ID, *news[0].item.FeedID)

	assert.Equal(t, "https://a.example/3", news[1].item.Link)
	assert.Equal(t, []int64{kwRun.ID, kwPlane.ID}, news[1].keywordIDs)
}

func TestRunOnce_TimestampsInUTC(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun})
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {{Title: "Он бежал", Link: "https://a.example/1"}},
	}}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.UTC, summary.StartedAt.Location())
	assert.Equal(t, time.UTC, summary.FinishedAt.Location())
	news := repo.stored()
	require.Len(t, news, 1)
	assert.Equal(t, time.UTC, news[0].item.IngestedAt.Location())
}

func TestRunOnce_Idempotent(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun})
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {{Title: "бегу", Link: "https://a.example/1"}},
	}}
	runner := newTestRunner(t, repo, client)

	first, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.EntriesMatched)

	second, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.EntriesMatched)
	assert.Equal(t, 1, second.EntriesSeen)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Len(t, repo.stored(), 1)
}

func TestRunOnce_FeedFailureIsIsolated(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA, feedB, feedC}, []model.Keyword{kwRun})
	client := &fakeClient{
		entries: map[string][]model.RawEntry{
			feedA.URL: {{Title: "бежал", Link: "https://a.example/1"}},
			feedC.URL: {{Title: "бежит", Link: "https://c.example/1"}},
		},
		errs: map[string]error{feedB.URL: errors.New("connection refused")},
	}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.FeedsProcessed)
	assert.Equal(t, 2, summary.EntriesMatched)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, feedB.URL, summary.Errors[0].FeedURL)
	assert.Contains(t, summary.Errors[0].Err, "connection refused")
	assert.Len(t, repo.stored(), 2)
}

func TestRunOnce_SkipsWithoutFeedsOrKeywords(t *testing.T) {
	tests := []struct {
		name     string
		feeds    []model.Feed
		keywords []model.Keyword
	}{
		{name: "no keywords", feeds: []model.Feed{feedA}},
		{name: "no feeds", keywords: []model.Keyword{kwRun}},
		{name: "nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo(tt.feeds, tt.keywords)
			client := &fakeClient{}

			summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, summary.Skipped)
			assert.Zero(t, client.calls.Load())
			assert.Zero(t, summary.EntriesSeen)
		})
	}
}

func TestRunOnce_SameLinkAcrossFeedsStoredOnce(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA, feedB}, []model.Keyword{kwRun})
	shared := model.RawEntry{Title: "бежали", Link: "https://news.example/shared"}
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {shared},
		feedB.URL: {shared},
	}}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.EntriesSeen)
	assert.Equal(t, 1, summary.EntriesMatched)
	assert.Len(t, repo.stored(), 1)
}

func TestRunOnce_DuplicateOnInsertIsNotAnError(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun})
	repo.raceLinks = map[string]bool{"https://a.example/1": true}
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {{Title: "бежал", Link: "https://a.example/1"}},
	}}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 0, summary.EntriesMatched)
	assert.Empty(t, summary.Errors)
}

func TestRunOnce_InsertErrorRecordedAndPassContinues(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun})
	repo.insertErr = errors.New("disk full")
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {
			{Title: "бежал", Link: "https://a.example/1"},
			{Title: "бежит", Link: "https://a.example/2"},
		},
	}}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.EntriesSeen)
	assert.Len(t, summary.Errors, 2)
	assert.Contains(t, summary.Errors[0].Err, "disk full")
}

func TestRunOnce_EntryWithoutLinkSkipped(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun})
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {{Title: "бежал"}},
	}}

	summary, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.EntriesSeen)
	assert.Equal(t, 0, summary.EntriesMatched)
	assert.Empty(t, repo.stored())
}

func TestRunOnce_LinkCheckErrorAbortsPass(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA}, []model.Keyword{kwRun})
	repo.existsErr = errors.New("database is locked")
	client := &fakeClient{entries: map[string][]model.RawEntry{
		feedA.URL: {{Title: "бежал", Link: "https://a.example/1"}},
	}}

	_, err := newTestRunner(t, repo, client).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Empty(t, repo.stored())
}

func TestRunOnce_CancelledMidPass(t *testing.T) {
	repo := newMemRepo([]model.Feed{feedA, feedB, feedC}, []model.Keyword{kwRun})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{
		entries: map[string][]model.RawEntry{
			feedA.URL: {{Title: "бежал", Link: "https://a.example/1"}},
			feedB.URL: {{Title: "бежал", Link: "https://b.example/1"}},
			feedC.URL: {{Title: "бежал", Link: "https://c.example/1"}},
		},
		onFetch: func(url string) {
			if url == feedB.URL {
				cancel()
			}
		},
	}

	summary, err := newTestRunner(t, repo, client, WithConcurrency(1)).RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, summary.FeedsProcessed, 1)
	assert.LessOrEqual(t, len(repo.stored()), 1)
}

func TestRunOnce_ConcurrentFetches(t *testing.T) {
	feeds := make([]model.Feed, 0, 20)
	entries := map[string][]model.RawEntry{}
	for i := range 20 {
		f := model.Feed{ID: int64(i + 1), URL: "https://feed.example/" + string(rune('a'+i))}
		feeds = append(feeds, f)
		entries[f.URL] = []model.RawEntry{{Title: "бежим", Link: f.URL + "/1"}}
	}
	repo := newMemRepo(feeds, []model.Keyword{kwRun})
	client := &fakeClient{entries: entries}

	summary, err := newTestRunner(t, repo, client, WithConcurrency(8)).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, summary.FeedsProcessed)
	assert.Equal(t, 20, summary.EntriesMatched)
	assert.Equal(t, int32(20), client.calls.Load())
}

func TestDeduplicator(t *testing.T) {
	repo := newMemRepo(nil, nil)
	repo.links["https://seen.example"] = true
	d := NewDeduplicator(repo)

	isNew, err := d.IsNew(context.Background(), "https://seen.example")
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = d.IsNew(context.Background(), "https://unseen.example")
	require.NoError(t, err)
	assert.True(t, isNew)

	repo.existsErr = errors.New("boom")
	_, err = d.IsNew(context.Background(), "https://x.example")
	assert.ErrorContains(t, err, "boom")
}
