// Package database provides storage backends for the monitor.
package database

import (
	"context"

	"github.com/bryan-buckman/rssmonitor/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL backends satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Feed operations
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	AddFeed(ctx context.Context, url string) (model.Feed, error)
	DeleteFeed(ctx context.Context, feedID int64) error

	// Keyword operations
	ListKeywords(ctx context.Context) ([]model.Keyword, error)
	AddKeyword(ctx context.Context, text string) (model.Keyword, error)
	DeleteKeyword(ctx context.Context, keywordID int64) error

	// News operations
	NewsExistsByLink(ctx context.Context, link string) (bool, error)
	InsertNewsWithMatches(ctx context.Context, item model.NewsItem, keywordIDs []int64) (int64, error)
	ListNews(ctx context.Context, filter NewsFilter) ([]model.NewsView, error)
	CountNews(ctx context.Context) (int, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetPollingInterval(ctx context.Context) (int, error)
}

// NewsFilter narrows ListNews. Zero values mean "no filter".
type NewsFilter struct {
	KeywordID int64
	FeedID    int64
	Limit     uint64
}

// DefaultNewsLimit caps ListNews when no limit is given.
const DefaultNewsLimit = 100

// DefaultPollingInterval is used when the setting is missing or invalid.
const DefaultPollingInterval = 1

// Open picks the backend: PostgreSQL when databaseURL is set, otherwise
// SQLite at sqlitePath.
func Open(ctx context.Context, sqlitePath, databaseURL string) (*DB, error) {
	if databaseURL != "" {
		return NewPostgres(ctx, databaseURL)
	}
	return NewSQLite(ctx, sqlitePath)
}
