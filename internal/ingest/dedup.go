package ingest

import (
	"context"
	"fmt"
)

// LinkChecker reports whether a news item with the given link is already stored.
type LinkChecker interface {
	NewsExistsByLink(ctx context.Context, link string) (bool, error)
}

// Deduplicator decides whether an entry has been ingested before, by link.
// Only stored (matched) items count as seen.
type Deduplicator struct {
	store LinkChecker
}

// NewDeduplicator creates a Deduplicator over the given store.
func NewDeduplicator(store LinkChecker) *Deduplicator {
	return &Deduplicator{store: store}
}

// IsNew reports whether no news item with this link exists yet.
func (d *Deduplicator) IsNew(ctx context.Context, link string) (bool, error) {
	exists, err := d.store.NewsExistsByLink(ctx, link)
	if err != nil {
		return false, fmt.Errorf("check link %q: %w", link, err)
	}
	return !exists, nil
}
