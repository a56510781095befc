// Package model defines shared data structures.
package model

import "time"

// Feed represents a configured RSS/Atom feed.
type Feed struct {
	ID        int64     `db:"id" json:"id"`
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Keyword is a word the monitor looks for in incoming news.
// Text is stored trimmed and lowercase.
type Keyword struct {
	ID        int64     `db:"id" json:"id"`
	Text      string    `db:"keyword" json:"keyword"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewsItem is a persisted feed entry that matched at least one keyword.
// Link is the natural key.
type NewsItem struct {
	ID         int64     `db:"id" json:"id"`
	FeedID     *int64    `db:"feed_id" json:"feed_id"` // nil once the feed is deleted
	Title      string    `db:"title" json:"title"`
	Content    string    `db:"content" json:"content"`
	Link       string    `db:"link" json:"link"`
	IngestedAt time.Time `db:"ingested_at" json:"ingested_at"`
}

// Match associates a news item with a keyword that triggered it.
type Match struct {
	NewsID    int64 `db:"news_id"`
	KeywordID int64 `db:"keyword_id"`
}

// NewsView is a news item joined with its feed and matched keywords, for rendering.
type NewsView struct {
	NewsItem
	FeedURL  string   `json:"feed_url"`
	Keywords []string `json:"keywords"`
}

// RawEntry is one entry as extracted from a feed, before dedup and matching.
type RawEntry struct {
	Title   string
	Content string
	Link    string
}

// FeedError records why a feed (or an entry of it) failed during a pass.
type FeedError struct {
	FeedURL string `json:"feed_url"`
	Err     string `json:"error"`
}

// RunSummary aggregates the statistics of one ingestion pass.
type RunSummary struct {
	ID             string      `json:"id"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Skipped        bool        `json:"skipped"` // no feeds or no keywords configured
	FeedsProcessed int         `json:"feeds_processed"`
	EntriesSeen    int         `json:"entries_seen"`
	EntriesMatched int         `json:"entries_matched"`
	Duplicates     int         `json:"duplicates"`
	Errors         []FeedError `json:"errors"`
}

// Duration reports how long the pass took.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)
