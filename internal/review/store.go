package review

import (
	"context"
	"time"
)

// Store is the relational store of record. Save applies the record mutation,
// the changelog entry and the optional comment in one transaction; a failure
// of any part aborts all of it. Concurrent writers to the same key are
// serialized by the store.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Save(ctx context.Context, rec Record, entry *ChangelogEntry, comment *Comment) error

	Changelog(ctx context.Context, recordKey string) ([]ChangelogEntry, error)

	Comments(ctx context.Context, recordKey string) ([]Comment, error)
	GetComment(ctx context.Context, key string) (Comment, error)
	SaveComment(ctx context.Context, c Comment) error
	DeleteComment(ctx context.Context, key string) error

	// FindByProjectSince returns every record of the branch whose update date
	// is at or after since, including CLOSED ones. Pull sync must surface
	// closures, unlike show/search.
	FindByProjectSince(ctx context.Context, projectUUID, branchUUID string, since time.Time) ([]Record, error)
}

// Indexer receives whole-document refreshes after store commits. The index is
// a disposable projection: refresh failures are logged, never surfaced, and
// repaired by the next indexing pass or a rebuild.
type Indexer interface {
	Refresh(ctx context.Context, rec Record) error
	Delete(ctx context.Context, key string) error
}

// Notifier publishes change events to connected listeners. Delivery is
// best-effort and non-blocking; it runs outside the store transaction.
type Notifier interface {
	Publish(evt ChangeEvent)
}
