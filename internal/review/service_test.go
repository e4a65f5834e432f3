package review_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/review"
	"reviewhub.org/internal/store/mem"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type captureIndexer struct {
	refreshed []review.Record
}

func (c *captureIndexer) Refresh(ctx context.Context, rec review.Record) error {
	c.refreshed = append(c.refreshed, rec)
	return nil
}

func (c *captureIndexer) Delete(ctx context.Context, key string) error { return nil }

type captureNotifier struct {
	events []review.ChangeEvent
}

func (c *captureNotifier) Publish(evt review.ChangeEvent) {
	c.events = append(c.events, evt)
}

type fixture struct {
	svc      *review.Service
	store    *mem.Store
	grants   *auth.MemGrants
	dir      *auth.MemDirectory
	indexer  *captureIndexer
	notifier *captureNotifier

	admin auth.Principal
	guest auth.Principal
}

// newFixture wires a service over the in-memory store with one public and
// one private project, each with a main branch, plus a pull request under
// the public one.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	grants := auth.NewMemGrants()
	grants.AddProject(auth.Project{UUID: "p1", Key: "public-project"})
	grants.AddBranch("p1", auth.Branch{UUID: "b1", Name: "main"})
	grants.AddBranch("p1", auth.Branch{UUID: "pr1", Name: "42", PullRequest: true})
	grants.AddProject(auth.Project{UUID: "p2", Key: "private-project", Private: true})
	grants.AddBranch("p2", auth.Branch{UUID: "b2", Name: "main"})

	grants.Grant("u-admin", "p1", auth.CapHotspotAdmin)
	grants.Grant("u-admin", "p1", auth.CapIssueAdmin)
	grants.Grant("u-admin", "p2", auth.CapBrowse)
	grants.Grant("u-admin", "p2", auth.CapHotspotAdmin)
	grants.Grant("u-admin", "p2", auth.CapIssueAdmin)

	dir := auth.NewMemDirectory()
	dir.Add(auth.User{UUID: "u-admin", Login: "admin", Active: true})
	dir.Add(auth.User{UUID: "u-guest", Login: "guest", Active: true})
	dir.Add(auth.User{UUID: "u-gone", Login: "ghost", Active: false})

	oracle, err := auth.NewOracle(grants)
	if err != nil {
		t.Fatalf("NewOracle: %v", err)
	}

	store := mem.New()
	indexer := &captureIndexer{}
	notifier := &captureNotifier{}
	svc, err := review.NewService(store, oracle, dir, indexer, notifier, review.FixedClock{Instant: testTime})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return &fixture{
		svc:      svc,
		store:    store,
		grants:   grants,
		dir:      dir,
		indexer:  indexer,
		notifier: notifier,
		admin:    auth.NewPrincipal("u-admin", "admin"),
		guest:    auth.NewPrincipal("u-guest", "guest"),
	}
}

func (f *fixture) putHotspot(key string) review.Record {
	rec := review.Record{
		Key:          key,
		Kind:         review.KindHotspot,
		ProjectUUID:  "p1",
		BranchUUID:   "b1",
		BranchType:   review.BranchTypeBranch,
		Status:       review.StatusToReview,
		CreationDate: testTime.Add(-24 * time.Hour),
		UpdateDate:   testTime.Add(-24 * time.Hour),
	}
	f.store.Put(rec)
	return rec
}

func (f *fixture) putIssue(key string) review.Record {
	rec := review.Record{
		Key:          key,
		Kind:         review.KindIssue,
		ProjectUUID:  "p1",
		BranchUUID:   "b1",
		BranchType:   review.BranchTypeBranch,
		Status:       review.StatusOpen,
		CreationDate: testTime.Add(-24 * time.Hour),
		UpdateDate:   testTime.Add(-24 * time.Hour),
	}
	f.store.Put(rec)
	return rec
}

func TestChangeStatusHotspot(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	rec, err := f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusReviewed, review.ResolutionAcknowledged, "looked at it")
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if rec.Status != review.StatusReviewed || rec.Resolution != review.ResolutionAcknowledged {
		t.Fatalf("unexpected state: %s/%s", rec.Status, rec.Resolution)
	}
	if !rec.UpdateDate.Equal(testTime) {
		t.Fatalf("update date not set: %v", rec.UpdateDate)
	}

	entries, err := f.store.Changelog(ctx, "h1")
	if err != nil {
		t.Fatalf("Changelog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 changelog entry, got %d", len(entries))
	}
	if entries[0].AuthorUUID != "u-admin" {
		t.Fatalf("unexpected changelog author: %s", entries[0].AuthorUUID)
	}
	if len(entries[0].Diffs) != 2 {
		t.Fatalf("expected status and resolution diffs, got %v", entries[0].Diffs)
	}

	comments, err := f.store.Comments(ctx, "h1")
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Markdown != "looked at it" {
		t.Fatalf("comment not persisted with the transition: %v", comments)
	}

	if len(f.indexer.refreshed) != 1 {
		t.Fatalf("expected one index refresh, got %d", len(f.indexer.refreshed))
	}
	if len(f.notifier.events) != 1 {
		t.Fatalf("expected one change event, got %d", len(f.notifier.events))
	}
	if f.notifier.events[0].RecordKey != "h1" || f.notifier.events[0].BranchUUID != "b1" {
		t.Fatalf("unexpected event: %+v", f.notifier.events[0])
	}
}

func TestChangeStatusIdempotent(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	if _, err := f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusReviewed, review.ResolutionSafe, ""); err != nil {
		t.Fatalf("first change: %v", err)
	}
	// Same target again: succeeds, but leaves no trace.
	if _, err := f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusReviewed, review.ResolutionSafe, "ignored"); err != nil {
		t.Fatalf("repeat change: %v", err)
	}

	entries, _ := f.store.Changelog(ctx, "h1")
	if len(entries) != 1 {
		t.Fatalf("no-op must not add changelog entries, got %d", len(entries))
	}
	comments, _ := f.store.Comments(ctx, "h1")
	if len(comments) != 0 {
		t.Fatalf("no-op must not persist the comment, got %v", comments)
	}
	if len(f.notifier.events) != 1 {
		t.Fatalf("no-op must not notify, got %d events", len(f.notifier.events))
	}
}

func TestChangeStatusIllegalTransition(t *testing.T) {
	f := newFixture(t)
	f.putIssue("i1")
	ctx := context.Background()

	// RESOLVED/FIXED -> RESOLVED/WONT_FIX is not an edge for issues.
	if _, err := f.svc.ChangeStatus(ctx, f.admin, "i1", review.StatusResolved, review.ResolutionFixed, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err := f.svc.ChangeStatus(ctx, f.admin, "i1", review.StatusResolved, review.ResolutionWontFix, "")
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestChangeStatusValidatesTarget(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	f.putIssue("i1")
	ctx := context.Background()

	// Issue statuses are rejected for hotspots before any transition lookup.
	_, err := f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusConfirmed, review.ResolutionNone, "")
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	// Open statuses must not carry a resolution.
	_, err = f.svc.ChangeStatus(ctx, f.admin, "i1", review.StatusConfirmed, review.ResolutionFixed, "")
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestChangeStatusAuth(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	_, err := f.svc.ChangeStatus(ctx, auth.Anonymous(), "h1", review.StatusReviewed, review.ResolutionSafe, "")
	if !errors.Is(err, review.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}

	// Authenticated but without the hotspot capability.
	_, err = f.svc.ChangeStatus(ctx, f.guest, "h1", review.StatusReviewed, review.ResolutionSafe, "")
	if !errors.Is(err, review.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestChangeStatusClosedIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.putHotspot("h1")
	rec.Status = review.StatusClosed
	rec.Resolution = review.ResolutionFixed
	f.store.Put(rec)
	ctx := context.Background()

	_, err := f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusToReview, review.ResolutionNone, "")
	if !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for closed record, got %v", err)
	}
}

func TestChangeStatusUnknownKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ChangeStatus(ctx, f.admin, "nope", review.StatusReviewed, review.ResolutionSafe, "")
	if !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = f.svc.ChangeStatus(ctx, f.admin, "  ", review.StatusReviewed, review.ResolutionSafe, "")
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank key, got %v", err)
	}
}

func TestPullRequestMutationsDoNotNotify(t *testing.T) {
	f := newFixture(t)
	rec := f.putHotspot("h-pr")
	rec.BranchUUID = "pr1"
	rec.BranchType = review.BranchTypePullRequest
	f.store.Put(rec)
	ctx := context.Background()

	if _, err := f.svc.ChangeStatus(ctx, f.admin, "h-pr", review.StatusReviewed, review.ResolutionSafe, ""); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("pull request change must not publish events, got %d", len(f.notifier.events))
	}
	if len(f.indexer.refreshed) != 1 {
		t.Fatalf("pull request change must still refresh the index")
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.putIssue("i1")
	ctx := context.Background()

	rec, err := f.svc.Close(ctx, "i1", review.ResolutionRemoved)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rec.Status != review.StatusClosed || rec.Resolution != review.ResolutionRemoved {
		t.Fatalf("unexpected state: %s/%s", rec.Status, rec.Resolution)
	}
	if !rec.CloseDate.Equal(testTime) {
		t.Fatalf("close date not set: %v", rec.CloseDate)
	}

	entries, _ := f.store.Changelog(ctx, "i1")
	if len(entries) != 1 || entries[0].AuthorUUID != "" {
		t.Fatalf("close must log a system changelog entry, got %v", entries)
	}

	// Closing again is a no-op returning the record as is.
	again, err := f.svc.Close(ctx, "i1", review.ResolutionFixed)
	if err != nil {
		t.Fatalf("repeat close: %v", err)
	}
	if again.Resolution != review.ResolutionRemoved {
		t.Fatalf("repeat close must not alter the terminal resolution, got %s", again.Resolution)
	}
	if entries, _ := f.store.Changelog(ctx, "i1"); len(entries) != 1 {
		t.Fatalf("repeat close must not add changelog entries")
	}
}

func TestCloseRejectsPublicResolutions(t *testing.T) {
	f := newFixture(t)
	f.putIssue("i1")

	_, err := f.svc.Close(context.Background(), "i1", review.ResolutionWontFix)
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCommentValidation(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	_, err := f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusReviewed, review.ResolutionSafe, "   ")
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank comment, got %v", err)
	}
	long := strings.Repeat("x", review.MaxCommentLength+1)
	_, err = f.svc.ChangeStatus(ctx, f.admin, "h1", review.StatusReviewed, review.ResolutionSafe, long)
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for oversized comment, got %v", err)
	}
}
