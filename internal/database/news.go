package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/bryan-buckman/rssmonitor/internal/model"
)

// NewsExistsByLink reports whether a news item with this link is stored.
func (db *DB) NewsExistsByLink(ctx context.Context, link string) (bool, error) {
	q, args, err := db.sb.Select("1").From("news").Where(sq.Eq{"link": link}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build link query: %w", err)
	}
	var one int
	err = db.db.GetContext(ctx, &one, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check news link: %w", err)
	}
	return true, nil
}

// InsertNewsWithMatches stores a news item and one match row per keyword in
// a single transaction. If the link is already stored nothing is written
// and model.ErrDuplicate is returned.
func (db *DB) InsertNewsWithMatches(ctx context.Context, item model.NewsItem, keywordIDs []int64) (int64, error) {
	if len(keywordIDs) == 0 {
		return 0, errors.New("news item without matched keywords")
	}
	if item.IngestedAt.IsZero() {
		item.IngestedAt = db.now()
	}

	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q, args, err := db.sb.Insert("news").
		Columns("feed_id", "title", "content", "link", "ingested_at").
		Values(item.FeedID, item.Title, item.Content, item.Link, item.IngestedAt).
		Suffix("ON CONFLICT (link) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build news insert: %w", err)
	}

	var id int64
	err = tx.QueryRowxContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("news %q: %w", item.Link, model.ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("insert news: %w", err)
	}

	ins := db.sb.Insert("news_keywords").Columns("news_id", "keyword_id")
	seen := make(map[int64]bool, len(keywordIDs))
	for _, kwID := range keywordIDs {
		if seen[kwID] {
			continue
		}
		seen[kwID] = true
		ins = ins.Values(id, kwID)
	}
	q, args, err = ins.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build match insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return 0, fmt.Errorf("insert matches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit news: %w", err)
	}
	return id, nil
}

type newsRow struct {
	model.NewsItem
	FeedURL sql.NullString `db:"feed_url"`
}

type newsKeywordRow struct {
	NewsID  int64  `db:"news_id"`
	Keyword string `db:"keyword"`
}

// ListNews returns stored news, newest first, each with its feed URL and
// matched keyword texts.
func (db *DB) ListNews(ctx context.Context, filter NewsFilter) ([]model.NewsView, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = DefaultNewsLimit
	}

	sel := db.sb.Select(
		"n.id AS id",
		"n.feed_id AS feed_id",
		"n.title AS title",
		"n.content AS content",
		"n.link AS link",
		"n.ingested_at AS ingested_at",
		"f.url AS feed_url",
	).
		From("news n").
		LeftJoin("feeds f ON f.id = n.feed_id").
		OrderBy("n.ingested_at DESC", "n.id DESC").
		Limit(limit)
	if filter.FeedID != 0 {
		sel = sel.Where(sq.Eq{"n.feed_id": filter.FeedID})
	}
	if filter.KeywordID != 0 {
		sel = sel.Where(sq.Expr("n.id IN (SELECT news_id FROM news_keywords WHERE keyword_id = ?)", filter.KeywordID))
	}

	q, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build news query: %w", err)
	}
	var rows []newsRow
	if err := db.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}

	views := make([]model.NewsView, 0, len(rows))
	if len(rows) == 0 {
		return views, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	keywords, err := db.keywordsForNews(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		views = append(views, model.NewsView{
			NewsItem: r.NewsItem,
			FeedURL:  r.FeedURL.String,
			Keywords: keywords[r.ID],
		})
	}
	return views, nil
}

func (db *DB) keywordsForNews(ctx context.Context, newsIDs []int64) (map[int64][]string, error) {
	q, args, err := db.sb.Select("nk.news_id AS news_id", "k.keyword AS keyword").
		From("news_keywords nk").
		Join("keywords k ON k.id = nk.keyword_id").
		Where(sq.Eq{"nk.news_id": newsIDs}).
		OrderBy("k.keyword").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build news keywords query: %w", err)
	}
	var rows []newsKeywordRow
	if err := db.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list news keywords: %w", err)
	}

	byNews := make(map[int64][]string, len(newsIDs))
	for _, r := range rows {
		byNews[r.NewsID] = append(byNews[r.NewsID], r.Keyword)
	}
	return byNews, nil
}

// CountNews returns the number of stored news items.
func (db *DB) CountNews(ctx context.Context) (int, error) {
	q, args, err := db.sb.Select("COUNT(*)").From("news").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int
	if err := db.db.GetContext(ctx, &n, q, args...); err != nil {
		return 0, fmt.Errorf("count news: %w", err)
	}
	return n, nil
}
