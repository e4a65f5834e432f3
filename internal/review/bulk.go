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

// BulkMaxRecords bounds the number of keys a single bulk change may carry.
const BulkMaxRecords = 500

// BulkChangeRequest applies the same set of actions across many records at
// once. At least one action (a transition target or an assignment) must be
// present; a comment alone is not an action. Records the caller cannot
// browse, unknown keys and CLOSED records are silently excluded.
type BulkChangeRequest struct {
	Keys []string `json:"keys"`

	// Transition target, applied to every record with a matching legal
	// transition. Records already in the target state or with no such
	// transition are ignored, not failed.
	Status     Status     `json:"status,omitempty"`
	Resolution Resolution `json:"resolution,omitempty"`

	// Assignment. AssignLogin hands the records to that user; ClearAssignee
	// drops the current assignee instead. The login is resolved once for the
	// whole request.
	AssignLogin   string `json:"assign,omitempty"`
	ClearAssignee bool   `json:"clear_assignee,omitempty"`

	// Comment is attached only to records an action actually changed.
	Comment string `json:"comment,omitempty"`

	// SendNotifications emits one change event per touched branch after the
	// run. Off by default; bulk runs over thousands of records should not
	// storm every listener per record.
	SendNotifications bool `json:"send_notifications,omitempty"`
}

func (r BulkChangeRequest) transitionRequested() bool {
	return r.Status != "" || r.Resolution != ResolutionNone
}

func (r BulkChangeRequest) assignRequested() bool {
	return r.AssignLogin != "" || r.ClearAssignee
}

// BulkChangeResult accounts for every record the caller was allowed to see:
// Total = Success + Ignored + Failures. Keys excluded up front (unknown,
// CLOSED, not browsable) are not counted at all.
type BulkChangeResult struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	Ignored  int `json:"ignored"`
	Failures int `json:"failures"`
}

// BulkChange runs the requested actions over each record in turn. A record
// where no action applies is ignored, a store failure on one record never
// aborts the rest. Notifications, when requested, are grouped to one event
// per branch; pull-request records never notify.
func (s *Service) BulkChange(ctx context.Context, p auth.Principal, req BulkChangeRequest) (BulkChangeResult, error) {
	if !p.Authenticated {
		return BulkChangeResult{}, ErrAuthenticationRequired
	}

	keys := dedupeKeys(req.Keys)
	if len(keys) == 0 {
		return BulkChangeResult{}, fmt.Errorf("%w: the 'keys' parameter is missing", ErrInvalidArgument)
	}
	if len(keys) > BulkMaxRecords {
		return BulkChangeResult{}, fmt.Errorf("%w: number of records is limited to %d", ErrInvalidArgument, BulkMaxRecords)
	}
	if !req.transitionRequested() && !req.assignRequested() {
		return BulkChangeResult{}, fmt.Errorf("%w: at least one action must be provided", ErrInvalidArgument)
	}
	if err := validateComment(req.Comment, true); err != nil {
		return BulkChangeResult{}, err
	}

	// The assignee is resolved once for the whole request. An unknown login
	// fails the call rather than silently ignoring every record.
	var assignee auth.User
	if login := strings.TrimSpace(req.AssignLogin); login != "" {
		var err error
		assignee, err = s.directory.ResolveLogin(ctx, login)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return BulkChangeResult{}, fmt.Errorf("%w: unknown user: %s", ErrNotFound, login)
			}
			return BulkChangeResult{}, err
		}
	}

	now := s.clock.Now()
	var result BulkChangeResult
	type branchRef struct{ project, branch string }
	touched := make(map[branchRef]struct{})

	for _, key := range keys {
		rec, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			result.Total++
			result.Failures++
			continue
		}
		if rec.Closed() {
			continue
		}
		if err := s.checkBrowse(ctx, p, rec); err != nil {
			if errors.Is(err, ErrForbidden) || errors.Is(err, ErrAuthenticationRequired) {
				continue
			}
			result.Total++
			result.Failures++
			continue
		}
		result.Total++

		var diffs []FieldDiff
		var transitionName string
		if req.transitionRequested() {
			transitionName = s.bulkTransition(ctx, p, &rec, req.Status, req.Resolution, &diffs)
		}
		if req.assignRequested() {
			if err := s.bulkAssign(ctx, &rec, assignee, &diffs); err != nil {
				result.Failures++
				continue
			}
		}
		if len(diffs) == 0 {
			result.Ignored++
			continue
		}

		entry := ChangelogEntry{
			Key:        ids.New(),
			RecordKey:  rec.Key,
			AuthorUUID: p.UUID,
			CreatedAt:  now,
			Diffs:      diffs,
		}
		rec.UpdateDate = now

		var cmt *Comment
		if req.Comment != "" {
			cmt = &Comment{
				Key:        ids.New(),
				RecordKey:  rec.Key,
				AuthorUUID: p.UUID,
				Markdown:   req.Comment,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
		}

		if err := s.store.Save(ctx, rec, &entry, cmt); err != nil {
			obs.LogEvent(map[string]any{
				"level":  "warn",
				"msg":    "bulk change save failed",
				"record": rec.Key,
				"error":  err.Error(),
			})
			result.Failures++
			continue
		}
		result.Success++
		if transitionName != "" {
			obs.CountTransition(transitionName)
		}
		s.refreshIndex(ctx, rec)
		if req.SendNotifications && rec.OnBranch() {
			touched[branchRef{rec.ProjectUUID, rec.BranchUUID}] = struct{}{}
		}
	}

	if s.notifier != nil {
		for ref := range touched {
			s.notifier.Publish(ChangeEvent{
				ProjectUUID: ref.project,
				BranchUUID:  ref.branch,
				UpdateDate:  now,
			})
			obs.CountNotification()
		}
	}

	_ = audit.LogEvent(ctx, "review.bulk_change", map[string]any{
		"total":    result.Total,
		"success":  result.Success,
		"ignored":  result.Ignored,
		"failures": result.Failures,
	})
	return result, nil
}

// bulkTransition applies the target state to one record when a legal
// transition exists and the caller holds the admin capability for its kind.
// Anything else leaves the record untouched; bulk runs mix kinds and states,
// so a non-matching record is expected, not an error.
func (s *Service) bulkTransition(ctx context.Context, p auth.Principal, rec *Record, status Status, resolution Resolution, diffs *[]FieldDiff) string {
	if s.validateTarget(rec.Kind, status, resolution) != nil {
		return ""
	}
	if rec.Status == status && rec.Resolution == resolution {
		return ""
	}
	capability := auth.CapIssueAdmin
	if rec.Kind == KindHotspot {
		capability = auth.CapHotspotAdmin
	}
	if s.checkCapability(ctx, p, *rec, capability) != nil {
		return ""
	}
	transition, ok := LookupTransition(rec.Kind, rec.Status, rec.Resolution, status, resolution)
	if !ok {
		return ""
	}
	*diffs = append(*diffs,
		FieldDiff{Field: "status", OldValue: string(rec.Status), NewValue: string(status)},
		FieldDiff{Field: "resolution", OldValue: string(rec.Resolution), NewValue: string(resolution)},
	)
	rec.Status = status
	rec.Resolution = resolution
	return transition.Name
}

// bulkAssign mirrors Assign's rules per record: no assignment in terminal
// states, no handing a private-project record to a user who cannot browse it.
// Rule violations ignore the record; a returned error is an oracle failure
// and counts against Failures.
func (s *Service) bulkAssign(ctx context.Context, rec *Record, assignee auth.User, diffs *[]FieldDiff) error {
	if !CanAssign(rec.Kind, rec.Status, rec.Resolution) {
		return nil
	}
	if rec.AssigneeUUID == assignee.UUID {
		return nil
	}
	if assignee.UUID != "" {
		project, err := s.oracle.ProjectByUUID(ctx, rec.ProjectUUID)
		if err != nil {
			return err
		}
		if project.Private {
			ok, err := s.oracle.UserCanBrowse(ctx, assignee.UUID, project)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
	}
	*diffs = append(*diffs, FieldDiff{Field: "assignee", OldValue: rec.AssigneeUUID, NewValue: assignee.UUID})
	rec.AssigneeUUID = assignee.UUID
	return nil
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
