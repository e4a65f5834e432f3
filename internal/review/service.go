package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reviewhub.org/internal/audit"
	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/ids"
	"reviewhub.org/internal/obs"
)

// MaxCommentLength bounds comment text; longer input is rejected, not
// truncated.
const MaxCommentLength = 1000

// Service applies workflow mutations: status transitions, assignments and
// comments. Every mutation re-validates permissions, runs in one store
// transaction and fires side effects in a fixed order.
type Service struct {
	store     Store
	oracle    *auth.Oracle
	directory auth.Directory
	indexer   Indexer
	notifier  Notifier
	clock     Clock
}

// NewService wires the workflow service.
func NewService(store Store, oracle *auth.Oracle, directory auth.Directory, indexer Indexer, notifier Notifier, clock Clock) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if oracle == nil {
		return nil, errors.New("permission oracle is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{
		store:     store,
		oracle:    oracle,
		directory: directory,
		indexer:   indexer,
		notifier:  notifier,
		clock:     clock,
	}, nil
}

// ChangeStatus moves a record through the workflow. Requesting the state the
// record is already in is a no-op: no changelog, no comment, no notification.
func (s *Service) ChangeStatus(ctx context.Context, p auth.Principal, key string, status Status, resolution Resolution, comment string) (Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, fmt.Errorf("%w: the 'key' parameter is missing", ErrInvalidArgument)
	}
	if err := validateComment(comment, true); err != nil {
		return Record{}, err
	}
	if !p.Authenticated {
		return Record{}, ErrAuthenticationRequired
	}

	rec, err := s.loadOpen(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if err := s.validateTarget(rec.Kind, status, resolution); err != nil {
		return Record{}, err
	}

	capability := auth.CapIssueAdmin
	if rec.Kind == KindHotspot {
		capability = auth.CapHotspotAdmin
	}
	if err := s.checkCapability(ctx, p, rec, capability); err != nil {
		return Record{}, err
	}

	if rec.Status == status && rec.Resolution == resolution {
		obs.CountNoop("change_status")
		return rec, nil
	}

	transition, ok := LookupTransition(rec.Kind, rec.Status, rec.Resolution, status, resolution)
	if !ok {
		return Record{}, fmt.Errorf("%w: transition from state %s/%s to %s/%s does not exist",
			ErrInvalidArgument, rec.Status, orNone(rec.Resolution), status, orNone(resolution))
	}

	now := s.clock.Now()
	entry := ChangelogEntry{
		Key:        ids.New(),
		RecordKey:  rec.Key,
		AuthorUUID: p.UUID,
		CreatedAt:  now,
		Diffs: []FieldDiff{
			{Field: "status", OldValue: string(rec.Status), NewValue: string(status)},
			{Field: "resolution", OldValue: string(rec.Resolution), NewValue: string(resolution)},
		},
	}
	rec.Status = status
	rec.Resolution = resolution
	rec.UpdateDate = now

	var cmt *Comment
	if comment != "" {
		cmt = &Comment{
			Key:        ids.New(),
			RecordKey:  rec.Key,
			AuthorUUID: p.UUID,
			Markdown:   comment,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := s.store.Save(ctx, rec, &entry, cmt); err != nil {
		return Record{}, err
	}
	obs.CountTransition(transition.Name)
	_ = audit.LogEvent(ctx, "review.change_status", map[string]any{
		"record":     rec.Key,
		"transition": transition.Name,
		"status":     string(rec.Status),
		"resolution": string(rec.Resolution),
	})
	s.refreshIndex(ctx, rec)
	s.notify(rec)
	return rec, nil
}

// Close applies an internal terminal transition. It is reachable only by
// housekeeping (component removal, analysis re-tracking), never through
// ChangeStatus. The terminal resolution must be FIXED or REMOVED.
func (s *Service) Close(ctx context.Context, key string, terminal Resolution) (Record, error) {
	if terminal != ResolutionFixed && terminal != ResolutionRemoved {
		return Record{}, fmt.Errorf("%w: terminal resolution must be one of: [FIXED, REMOVED]", ErrInvalidArgument)
	}
	rec, err := s.store.Get(ctx, strings.TrimSpace(key))
	if err != nil {
		return Record{}, err
	}
	if rec.Closed() {
		return rec, nil
	}
	transition, ok := LookupCloseTransition(rec.Kind, rec.Status, rec.Resolution, terminal)
	if !ok {
		return Record{}, fmt.Errorf("%w: transition from state %s/%s to CLOSED/%s does not exist",
			ErrInvalidArgument, rec.Status, orNone(rec.Resolution), terminal)
	}

	now := s.clock.Now()
	entry := ChangelogEntry{
		Key:       ids.New(),
		RecordKey: rec.Key,
		CreatedAt: now, // no author: system change
		Diffs: []FieldDiff{
			{Field: "status", OldValue: string(rec.Status), NewValue: string(StatusClosed)},
			{Field: "resolution", OldValue: string(rec.Resolution), NewValue: string(terminal)},
		},
	}
	rec.Status = StatusClosed
	rec.Resolution = terminal
	rec.UpdateDate = now
	if rec.CloseDate.IsZero() {
		rec.CloseDate = now
	}

	if err := s.store.Save(ctx, rec, &entry, nil); err != nil {
		return Record{}, err
	}
	obs.CountTransition(transition.Name)
	s.refreshIndex(ctx, rec)
	s.notify(rec)
	return rec, nil
}

// loadOpen fetches a record and treats CLOSED as absent: closed records are
// invisible to the workflow API for every caller.
func (s *Service) loadOpen(ctx context.Context, key string) (Record, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if rec.Closed() {
		return Record{}, fmt.Errorf("%w: record '%s' does not exist", ErrNotFound, key)
	}
	return rec, nil
}

func (s *Service) validateTarget(kind Kind, status Status, resolution Resolution) error {
	statuses := PublicStatuses(kind)
	if !containsStatus(statuses, status) {
		return fmt.Errorf("%w: value of parameter 'status' (%s) must be one of: %v", ErrInvalidArgument, status, statuses)
	}
	open := status == StatusToReview || status == StatusOpen || status == StatusConfirmed || status == StatusReopened
	if open {
		if resolution != ResolutionNone {
			return fmt.Errorf("%w: parameter 'resolution' must not be specified when status is %s", ErrInvalidArgument, status)
		}
		return nil
	}
	resolutions := PublicResolutions(kind)
	if !containsResolution(resolutions, resolution) {
		return fmt.Errorf("%w: value of parameter 'resolution' (%s) must be one of: %v", ErrInvalidArgument, orNone(resolution), resolutions)
	}
	return nil
}

func (s *Service) checkCapability(ctx context.Context, p auth.Principal, rec Record, capability string) error {
	scope, err := s.scopeOf(ctx, rec)
	if err != nil {
		return err
	}
	ok, err := s.oracle.HasCapability(ctx, p, scope, capability)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *Service) checkBrowse(ctx context.Context, p auth.Principal, rec Record) error {
	scope, err := s.scopeOf(ctx, rec)
	if err != nil {
		return err
	}
	ok, err := s.oracle.CanBrowse(ctx, p, scope)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !p.Authenticated {
		return ErrAuthenticationRequired
	}
	return ErrForbidden
}

func (s *Service) scopeOf(ctx context.Context, rec Record) (auth.Scope, error) {
	project, err := s.oracle.ProjectByUUID(ctx, rec.ProjectUUID)
	if err != nil {
		return auth.Scope{}, err
	}
	return auth.Scope{
		Project: project,
		Branch:  auth.Branch{UUID: rec.BranchUUID, PullRequest: !rec.OnBranch()},
	}, nil
}

// refreshIndex pushes the whole document to the search projection. The index
// lags the store of record; a failed refresh is logged and repaired by the
// next pass.
func (s *Service) refreshIndex(ctx context.Context, rec Record) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Refresh(ctx, rec); err != nil {
		obs.LogEvent(map[string]any{
			"level":  "warn",
			"msg":    "search index refresh failed",
			"record": rec.Key,
			"error":  err.Error(),
		})
	}
}

// notify fires the change event for branch-scoped records. Pull-request
// mutations never notify. Runs after commit; failures never reach the caller.
func (s *Service) notify(rec Record) {
	if s.notifier == nil || !rec.OnBranch() {
		return
	}
	s.notifier.Publish(ChangeEvent{
		ProjectUUID: rec.ProjectUUID,
		BranchUUID:  rec.BranchUUID,
		RecordKey:   rec.Key,
		Kind:        rec.Kind,
		Status:      rec.Status,
		Resolution:  rec.Resolution,
		UpdateDate:  rec.UpdateDate,
	})
	obs.CountNotification()
}

func validateComment(text string, optional bool) error {
	if text == "" && optional {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: comment must not be blank", ErrInvalidArgument)
	}
	if len(text) > MaxCommentLength {
		return fmt.Errorf("%w: comment must not exceed %d characters", ErrInvalidArgument, MaxCommentLength)
	}
	return nil
}

func orNone(r Resolution) string {
	if r == ResolutionNone {
		return "<none>"
	}
	return string(r)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsResolution(list []Resolution, r Resolution) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}
