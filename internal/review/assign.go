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

// Assign changes the record's assignee. An empty login clears the
// assignment. Assigning the user who already holds the record is a no-op:
// no changelog, no comment, no notification.
func (s *Service) Assign(ctx context.Context, p auth.Principal, key, login, comment string) (Record, error) {
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
	if err := s.checkBrowse(ctx, p, rec); err != nil {
		return Record{}, err
	}

	var assignee auth.User
	login = strings.TrimSpace(login)
	if login != "" {
		assignee, err = s.directory.ResolveLogin(ctx, login)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return Record{}, fmt.Errorf("%w: unknown user: %s", ErrNotFound, login)
			}
			return Record{}, err
		}
		project, err := s.oracle.ProjectByUUID(ctx, rec.ProjectUUID)
		if err != nil {
			return Record{}, err
		}
		if project.Private {
			ok, err := s.oracle.UserCanBrowse(ctx, assignee.UUID, project)
			if err != nil {
				return Record{}, err
			}
			if !ok {
				return Record{}, fmt.Errorf("%w: user %s does not have 'Browse' permission on project %s",
					ErrInvalidArgument, login, project.Key)
			}
		}
	}

	if !CanAssign(rec.Kind, rec.Status, rec.Resolution) {
		return Record{}, fmt.Errorf("%w: cannot change the assignee of this record given its current status and resolution",
			ErrInvalidArgument)
	}

	if rec.AssigneeUUID == assignee.UUID {
		obs.CountNoop("assign")
		return rec, nil
	}

	now := s.clock.Now()
	entry := ChangelogEntry{
		Key:        ids.New(),
		RecordKey:  rec.Key,
		AuthorUUID: p.UUID,
		CreatedAt:  now,
		Diffs: []FieldDiff{
			{Field: "assignee", OldValue: rec.AssigneeUUID, NewValue: assignee.UUID},
		},
	}
	rec.AssigneeUUID = assignee.UUID
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
	_ = audit.LogEvent(ctx, "review.assign", map[string]any{
		"record":   rec.Key,
		"assignee": assignee.UUID,
	})
	s.refreshIndex(ctx, rec)
	s.notify(rec)
	return rec, nil
}
