package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/bryan-buckman/rssmonitor/internal/model"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// DB implements Store on top of sqlx. Queries are built with squirrel so
// the same code serves both dialects; only placeholders differ.
type DB struct {
	db      *sqlx.DB
	sb      sq.StatementBuilderType
	dialect string
	now     func() time.Time
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

func newDB(dbx *sqlx.DB, dialect string) *DB {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == dialectPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &DB{
		db:      dbx,
		sb:      sb,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	if db.dialect == dialectPostgres {
		return "PostgreSQL"
	}
	return "SQLite"
}

// --- Feed Methods ---

// ListFeeds returns all feeds in insertion order.
func (db *DB) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	q, args, err := db.sb.Select("id", "url", "created_at").From("feeds").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feeds query: %w", err)
	}
	feeds := []model.Feed{}
	if err := db.db.SelectContext(ctx, &feeds, q, args...); err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// AddFeed registers a feed URL. It returns model.ErrDuplicate if the URL
// is already registered.
func (db *DB) AddFeed(ctx context.Context, url string) (model.Feed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return model.Feed{}, errors.New("feed url is empty")
	}

	q, args, err := db.sb.Insert("feeds").
		Columns("url", "created_at").
		Values(url, db.now()).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id, url, created_at").
		ToSql()
	if err != nil {
		return model.Feed{}, fmt.Errorf("build feed insert: %w", err)
	}

	var feed model.Feed
	err = db.db.QueryRowxContext(ctx, q, args...).StructScan(&feed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Feed{}, fmt.Errorf("feed %q: %w", url, model.ErrDuplicate)
	}
	if err != nil {
		return model.Feed{}, fmt.Errorf("insert feed: %w", err)
	}
	return feed, nil
}

// DeleteFeed removes a feed. News ingested from it are kept.
func (db *DB) DeleteFeed(ctx context.Context, feedID int64) error {
	return db.deleteByID(ctx, "feeds", feedID)
}

// --- Keyword Methods ---

// ListKeywords returns all keywords in insertion order.
func (db *DB) ListKeywords(ctx context.Context) ([]model.Keyword, error) {
	q, args, err := db.sb.Select("id", "keyword", "created_at").From("keywords").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build keywords query: %w", err)
	}
	keywords := []model.Keyword{}
	if err := db.db.SelectContext(ctx, &keywords, q, args...); err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return keywords, nil
}

// AddKeyword stores a keyword trimmed and lowercased. It returns
// model.ErrDuplicate if the normalized text already exists.
func (db *DB) AddKeyword(ctx context.Context, text string) (model.Keyword, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return model.Keyword{}, errors.New("keyword is empty")
	}

	q, args, err := db.sb.Insert("keywords").
		Columns("keyword", "created_at").
		Values(text, db.now()).
		Suffix("ON CONFLICT (keyword) DO NOTHING RETURNING id, keyword, created_at").
		ToSql()
	if err != nil {
		return model.Keyword{}, fmt.Errorf("build keyword insert: %w", err)
	}

	var kw model.Keyword
	err = db.db.QueryRowxContext(ctx, q, args...).StructScan(&kw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Keyword{}, fmt.Errorf("keyword %q: %w", text, model.ErrDuplicate)
	}
	if err != nil {
		return model.Keyword{}, fmt.Errorf("insert keyword: %w", err)
	}
	return kw, nil
}

// DeleteKeyword removes a keyword and its match rows.
func (db *DB) DeleteKeyword(ctx context.Context, keywordID int64) error {
	return db.deleteByID(ctx, "keywords", keywordID)
}

func (db *DB) deleteByID(ctx context.Context, table string, id int64) error {
	q, args, err := db.sb.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build %s delete: %w", table, err)
	}
	res, err := db.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, model.ErrNotFound)
	}
	return nil
}

// --- Settings Methods ---

// GetSetting retrieves a setting value, or model.ErrNotFound.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	q, args, err := db.sb.Select("value").From("settings").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build setting query: %w", err)
	}
	var val string
	err = db.db.GetContext(ctx, &val, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return val, nil
}

// SetSetting saves a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	q, args, err := db.sb.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build setting upsert: %w", err)
	}
	if _, err := db.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetPollingInterval returns the polling interval in minutes, with a minimum of 1.
// A missing or malformed setting yields the default.
func (db *DB) GetPollingInterval(ctx context.Context) (int, error) {
	val, err := db.GetSetting(ctx, model.SettingPollingInterval)
	if errors.Is(err, model.ErrNotFound) {
		return DefaultPollingInterval, nil
	}
	if err != nil {
		return DefaultPollingInterval, err
	}
	mins, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return DefaultPollingInterval, nil
	}
	if mins < 1 {
		mins = 1
	}
	return mins, nil
}
