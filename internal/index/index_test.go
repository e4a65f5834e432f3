package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/review"
	"reviewhub.org/internal/store/mem"
)

var indexTestTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubProjects map[string]auth.Project

func (s stubProjects) ProjectByUUID(ctx context.Context, uuid string) (auth.Project, error) {
	p, ok := s[uuid]
	if !ok {
		return auth.Project{}, auth.ErrNotFound
	}
	return p, nil
}

func testProjects() stubProjects {
	return stubProjects{
		"p1": {UUID: "p1", Key: "open"},
		"p2": {UUID: "p2", Key: "locked", Private: true},
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New(testProjects(), 0)
	require.NoError(t, err)
	return ix
}

func record(key string, mutate ...func(*review.Record)) review.Record {
	rec := review.Record{
		Key:          key,
		Kind:         review.KindHotspot,
		ProjectUUID:  "p1",
		BranchUUID:   "b1",
		BranchType:   review.BranchTypeBranch,
		Status:       review.StatusToReview,
		Score:        0.5,
		CreationDate: indexTestTime.Add(-time.Hour),
		UpdateDate:   indexTestTime.Add(-time.Hour),
	}
	for _, m := range mutate {
		m(&rec)
	}
	return rec
}

// load pushes records through the queue and waits for the indexing pass to
// drain it.
func load(t *testing.T, ix *Index, recs ...review.Record) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ix.Run(ctx)

	for _, rec := range recs {
		require.NoError(t, ix.Refresh(ctx, rec))
	}
	require.Eventually(t, func() bool { return !ix.SyncInProgress() }, time.Second, time.Millisecond)
}

func TestQueryOrdering(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("k-low", func(r *review.Record) { r.Score = 0.1; r.ComponentPath = "a.go"; r.Line = 5 }),
		record("k-high", func(r *review.Record) { r.Score = 0.9; r.ComponentPath = "z.go"; r.Line = 100 }),
		record("k-mid-b", func(r *review.Record) { r.Score = 0.5; r.ComponentPath = "b.go"; r.Line = 10 }),
		record("k-mid-a-noline", func(r *review.Record) { r.Score = 0.5; r.ComponentPath = "a.go"; r.Line = 0 }),
		record("k-mid-a", func(r *review.Record) { r.Score = 0.5; r.ComponentPath = "a.go"; r.Line = 3 }),
	)

	docs, total := ix.Query(Filter{ProjectUUIDs: []string{"p1"}}, 1, 10)
	require.Equal(t, 5, total)

	var keys []string
	for _, d := range docs {
		keys = append(keys, d.RecordKey)
	}
	// Score descending, then path, then line with missing lines last.
	require.Equal(t, []string{"k-high", "k-mid-a", "k-mid-a-noline", "k-mid-b", "k-low"}, keys)
}

func TestQueryExcludesClosed(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("open"),
		record("closed", func(r *review.Record) {
			r.Status = review.StatusClosed
			r.Resolution = review.ResolutionFixed
		}),
	)

	docs, total := ix.Query(Filter{}, 1, 10)
	require.Equal(t, 1, total)
	require.Equal(t, "open", docs[0].RecordKey)
}

func TestQueryHidesPrivateFromUnscopedQueries(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("public"),
		record("locked", func(r *review.Record) {
			r.ProjectUUID = "p2"
			r.BranchUUID = "b2"
		}),
	)

	docs, total := ix.Query(Filter{}, 1, 10)
	require.Equal(t, 1, total)
	require.Equal(t, "public", docs[0].RecordKey)

	// A project scope is only ever set after the facade verified browse
	// permission, so a scoped query still returns the private document.
	docs, total = ix.Query(Filter{ProjectUUIDs: []string{"p2"}}, 1, 10)
	require.Equal(t, 1, total)
	require.Equal(t, "locked", docs[0].RecordKey)
}

func TestQueryFilters(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("h1", func(r *review.Record) {
			r.AssigneeUUID = "u1"
			r.SecurityStandards = []string{"owasp:a1", "cwe:79"}
			r.ComponentPath = "web/login.go"
		}),
		record("h2", func(r *review.Record) { r.BranchUUID = "b2" }),
		record("i1", func(r *review.Record) {
			r.Kind = review.KindIssue
			r.Status = review.StatusOpen
		}),
	)

	_, total := ix.Query(Filter{Kind: review.KindIssue}, 1, 10)
	require.Equal(t, 1, total)

	_, total = ix.Query(Filter{BranchUUIDs: []string{"b2"}}, 1, 10)
	require.Equal(t, 1, total)

	_, total = ix.Query(Filter{AssigneeUUID: "u1"}, 1, 10)
	require.Equal(t, 1, total)

	// Standards match case-insensitively on any overlap.
	docs, total := ix.Query(Filter{SecurityStandards: []string{"OWASP:A1"}}, 1, 10)
	require.Equal(t, 1, total)
	require.Equal(t, "h1", docs[0].RecordKey)

	_, total = ix.Query(Filter{Files: []string{"web/login.go"}}, 1, 10)
	require.Equal(t, 1, total)

	_, total = ix.Query(Filter{Statuses: []review.Status{review.StatusReviewed}}, 1, 10)
	require.Equal(t, 0, total)
}

func TestQueryPaging(t *testing.T) {
	ix := newTestIndex(t)
	var recs []review.Record
	for i := 0; i < 7; i++ {
		recs = append(recs, record(string(rune('a'+i))))
	}
	load(t, ix, recs...)

	docs, total := ix.Query(Filter{}, 1, 3)
	require.Equal(t, 7, total)
	require.Len(t, docs, 3)

	docs, _ = ix.Query(Filter{}, 3, 3)
	require.Len(t, docs, 1)

	// Past the last page: empty slice, total preserved.
	docs, total = ix.Query(Filter{}, 4, 3)
	require.Empty(t, docs)
	require.Equal(t, 7, total)

	// Zero page size falls back to the default.
	docs, _ = ix.Query(Filter{}, 1, 0)
	require.Len(t, docs, 7)
}

func TestNewCodeFilterTimestamp(t *testing.T) {
	ix := newTestIndex(t)
	ref := indexTestTime.Add(-30 * time.Minute)
	load(t, ix,
		record("old", func(r *review.Record) { r.CreationDate = ref.Add(-time.Minute) }),
		record("boundary", func(r *review.Record) { r.CreationDate = ref }),
		record("fresh", func(r *review.Record) { r.CreationDate = ref.Add(time.Minute) }),
	)

	f := Filter{
		OnlyNewCode: true,
		NewCode:     NewCodePeriod{Mode: NewCodeModeTimestamp, Reference: ref},
	}
	docs, total := ix.Query(f, 1, 10)
	require.Equal(t, 2, total)
	for _, d := range docs {
		require.NotEqual(t, "old", d.RecordKey)
	}
}

func TestNewCodeFilterReferenceBranch(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("marked", func(r *review.Record) {
			r.NewCodeReference = true
			r.CreationDate = indexTestTime.Add(-100 * time.Hour)
		}),
		record("unmarked"),
	)

	// Marker mode ignores timestamps entirely.
	f := Filter{
		OnlyNewCode: true,
		NewCode:     NewCodePeriod{Mode: NewCodeModeReferenceBranch},
	}
	docs, total := ix.Query(f, 1, 10)
	require.Equal(t, 1, total)
	require.Equal(t, "marked", docs[0].RecordKey)
}

func TestNewCodeFilterSkipsPullRequests(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("pr-old", func(r *review.Record) {
			r.BranchType = review.BranchTypePullRequest
			r.CreationDate = indexTestTime.Add(-100 * time.Hour)
		}),
	)

	f := Filter{
		OnlyNewCode: true,
		NewCode:     NewCodePeriod{Mode: NewCodeModeTimestamp, Reference: indexTestTime},
	}
	_, total := ix.Query(f, 1, 10)
	require.Equal(t, 1, total)
}

func TestDelete(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix, record("gone"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ix.Run(ctx)
	require.NoError(t, ix.Delete(ctx, "gone"))
	require.Eventually(t, func() bool { return !ix.SyncInProgress() }, time.Second, time.Millisecond)

	_, total := ix.Query(Filter{}, 1, 10)
	require.Equal(t, 0, total)
}

func TestRebuildAll(t *testing.T) {
	store := mem.New()
	store.Put(record("r1"))
	store.Put(record("r2", func(r *review.Record) { r.Score = 0.9 }))

	ix := newTestIndex(t)
	require.NoError(t, ix.RebuildAll(context.Background(), store, "p1", "b1"))

	docs, total := ix.Query(Filter{ProjectUUIDs: []string{"p1"}}, 1, 10)
	require.Equal(t, 2, total)
	require.Equal(t, "r2", docs[0].RecordKey)
}

func TestDocumentCarriesPermissionTag(t *testing.T) {
	ix := newTestIndex(t)
	load(t, ix,
		record("private-doc", func(r *review.Record) { r.ProjectUUID = "p2"; r.BranchUUID = "b3" }),
	)

	docs, _ := ix.Query(Filter{ProjectUUIDs: []string{"p2"}}, 1, 10)
	require.Len(t, docs, 1)
	require.True(t, docs[0].ProjectPrivate)
}
