// Package index maintains the secondary, eventually-consistent search
// projection of review records. It is a disposable cache: rebuildable from
// the store of record at any time, refreshed by whole-document replace after
// each commit, with the staleness window exposed to read paths.
package index

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/obs"
	"reviewhub.org/internal/review"
)

// Page sizes for list queries; scans are always bounded.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// ProjectResolver supplies the authorization metadata denormalized into each
// document.
type ProjectResolver interface {
	ProjectByUUID(ctx context.Context, uuid string) (auth.Project, error)
}

type job struct {
	delete   bool
	key      string
	rec      review.Record
	queuedAt time.Time
}

// Index is the in-process search projection. Refreshes are queued and
// applied by Run out-of-band of the store transaction; pending work is
// reported through SyncInProgress so callers see the lag instead of silently
// stale results.
type Index struct {
	projects ProjectResolver

	mu   sync.RWMutex
	docs map[string]Document

	queue   chan job
	pending atomic.Int64
	limiter *rate.Limiter
}

var _ review.Indexer = (*Index)(nil)

// New creates an empty index. refreshPerSecond bounds how fast the indexing
// pass drains its queue; zero means unlimited.
func New(projects ProjectResolver, refreshPerSecond float64) (*Index, error) {
	if projects == nil {
		return nil, errors.New("project resolver is required")
	}
	limit := rate.Inf
	if refreshPerSecond > 0 {
		limit = rate.Limit(refreshPerSecond)
	}
	return &Index{
		projects: projects,
		docs:     make(map[string]Document),
		queue:    make(chan job, 1024),
		limiter:  rate.NewLimiter(limit, 1),
	}, nil
}

// Refresh queues a whole-document replace for the record. When the queue is
// full the refresh is applied inline rather than dropped.
func (ix *Index) Refresh(ctx context.Context, rec review.Record) error {
	j := job{rec: rec, key: rec.Key, queuedAt: time.Now()}
	ix.pending.Add(1)
	obs.SetIndexQueueDepth(int(ix.pending.Load()))
	select {
	case ix.queue <- j:
		return nil
	default:
		return ix.apply(ctx, j)
	}
}

// Delete queues removal of a purged record's document.
func (ix *Index) Delete(ctx context.Context, key string) error {
	j := job{delete: true, key: key, queuedAt: time.Now()}
	ix.pending.Add(1)
	obs.SetIndexQueueDepth(int(ix.pending.Load()))
	select {
	case ix.queue <- j:
		return nil
	default:
		return ix.apply(ctx, j)
	}
}

// Run drains the refresh queue until the context ends. It is the indexing
// pass: the staleness bound of every list query.
func (ix *Index) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ix.queue:
			if err := ix.limiter.Wait(ctx); err != nil {
				return
			}
			if err := ix.apply(ctx, j); err != nil {
				obs.LogEvent(map[string]any{
					"level":  "warn",
					"msg":    "index apply failed",
					"record": j.key,
					"error":  err.Error(),
				})
			}
		}
	}
}

// SyncInProgress reports whether queued refreshes have not yet been applied.
// Read paths consult it before trusting result completeness.
func (ix *Index) SyncInProgress() bool {
	return ix.pending.Load() > 0
}

// RebuildAll re-projects a whole branch from the store of record. The index
// is idempotently rebuildable; divergence is repaired by replaying documents,
// not by patching.
func (ix *Index) RebuildAll(ctx context.Context, store review.Store, projectUUID, branchUUID string) error {
	records, err := store.FindByProjectSince(ctx, projectUUID, branchUUID, time.Time{})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := ix.apply(ctx, job{rec: rec, key: rec.Key, queuedAt: time.Now()}); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) apply(ctx context.Context, j job) error {
	defer func() {
		ix.pending.Add(-1)
		obs.SetIndexQueueDepth(int(ix.pending.Load()))
		obs.ObserveIndexLag(time.Since(j.queuedAt))
	}()

	if j.delete {
		ix.mu.Lock()
		delete(ix.docs, j.key)
		ix.mu.Unlock()
		return nil
	}

	project, err := ix.projects.ProjectByUUID(ctx, j.rec.ProjectUUID)
	if err != nil {
		return err
	}
	doc := newDocument(j.rec, project.Private, time.Now())
	ix.mu.Lock()
	ix.docs[doc.RecordKey] = doc
	ix.mu.Unlock()
	return nil
}

// Filter selects documents for a list query. ProjectUUIDs must already be
// permission-scoped by the caller: the facade checks browse before the index
// is consulted.
type Filter struct {
	ProjectUUIDs      []string
	BranchUUIDs       []string
	Kind              review.Kind
	Statuses          []review.Status
	Resolutions       []review.Resolution
	AssigneeUUID      string
	SecurityStandards []string
	Files             []string

	// OnlyNewCode restricts to the new code period. Period selection is the
	// caller's responsibility (pluggable per project); pull requests skip the
	// filter entirely.
	OnlyNewCode bool
	NewCode     NewCodePeriod
}

// Query returns one page of matching documents plus the total match count.
// CLOSED records are excluded unconditionally; ordering is total so
// pagination is stable across pages.
func (ix *Index) Query(f Filter, pageIndex, pageSize int) ([]Document, int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if pageIndex <= 0 {
		pageIndex = 1
	}

	ix.mu.RLock()
	var matches []Document
	for _, doc := range ix.docs {
		if matchesFilter(doc, f) {
			matches = append(matches, doc)
		}
	}
	ix.mu.RUnlock()

	sortDocuments(matches)
	total := len(matches)

	start := (pageIndex - 1) * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matches[start:end], total
}

func matchesFilter(doc Document, f Filter) bool {
	// Closed records never surface in list queries, for any caller.
	if doc.Status == review.StatusClosed {
		return false
	}
	if !eligibleStatus(doc.Kind, doc.Status) {
		return false
	}
	// Private documents only surface in project-scoped queries. The facade
	// checks browse permission before scoping, so an unscoped query has no
	// proven right to see them.
	if doc.ProjectPrivate && len(f.ProjectUUIDs) == 0 {
		return false
	}
	if len(f.ProjectUUIDs) > 0 && !containsString(f.ProjectUUIDs, doc.ProjectUUID) {
		return false
	}
	if len(f.BranchUUIDs) > 0 && !containsString(f.BranchUUIDs, doc.BranchUUID) {
		return false
	}
	if f.Kind != "" && doc.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, doc.Status) {
		return false
	}
	if len(f.Resolutions) > 0 && !containsResolution(f.Resolutions, doc.Resolution) {
		return false
	}
	if f.AssigneeUUID != "" && doc.AssigneeUUID != f.AssigneeUUID {
		return false
	}
	if len(f.SecurityStandards) > 0 && !intersects(doc.SecurityStandards, f.SecurityStandards) {
		return false
	}
	if len(f.Files) > 0 && !containsString(f.Files, doc.ComponentPath) {
		return false
	}
	if f.OnlyNewCode && !doc.PullRequest && !inNewCodePeriod(doc, f.NewCode) {
		return false
	}
	return true
}

// eligibleStatus limits list queries to reviewable statuses: TO_REVIEW and
// REVIEWED for hotspots, the open statuses plus RESOLVED for issues.
func eligibleStatus(kind review.Kind, status review.Status) bool {
	if kind == review.KindHotspot {
		return status == review.StatusToReview || status == review.StatusReviewed
	}
	switch status {
	case review.StatusOpen, review.StatusReopened, review.StatusConfirmed, review.StatusResolved:
		return true
	}
	return false
}

// sortDocuments applies the total result order: score descending, then
// security category, file path, line (no line sorts last within a file),
// and finally record key as the tie breaker.
func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SecurityCategory != b.SecurityCategory {
			return a.SecurityCategory < b.SecurityCategory
		}
		if a.ComponentPath != b.ComponentPath {
			return a.ComponentPath < b.ComponentPath
		}
		if a.Line != b.Line {
			if a.Line == 0 {
				return false
			}
			if b.Line == 0 {
				return true
			}
			return a.Line < b.Line
		}
		return a.RecordKey < b.RecordKey
	})
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(list []review.Status, s review.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsResolution(list []review.Resolution, r review.Resolution) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

func intersects(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
