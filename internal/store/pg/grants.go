package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reviewhub.org/internal/auth"
)

var _ auth.GrantStore = (*Store)(nil)

func (s *Store) ProjectByKey(ctx context.Context, key string) (auth.Project, error) {
	return s.projectBy(ctx, `kee`, key)
}

func (s *Store) ProjectByUUID(ctx context.Context, uuid string) (auth.Project, error) {
	return s.projectBy(ctx, `uuid`, uuid)
}

func (s *Store) projectBy(ctx context.Context, column, value string) (auth.Project, error) {
	var p auth.Project
	err := s.db.QueryRowContext(ctx, `
		select uuid, kee, private, application from projects where `+column+`=$1
	`, value).Scan(&p.UUID, &p.Key, &p.Private, &p.Application)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Project{}, fmt.Errorf("%w: project %q", auth.ErrNotFound, value)
	}
	if err != nil {
		return auth.Project{}, err
	}
	return p, nil
}

func (s *Store) BranchOf(ctx context.Context, projectUUID, branchName, pullRequest string) (auth.Branch, error) {
	var b auth.Branch
	var err error
	switch {
	case pullRequest != "":
		err = s.db.QueryRowContext(ctx, `
			select uuid, name, pull_request from branches
			where project_uuid=$1 and name=$2 and pull_request
		`, projectUUID, pullRequest).Scan(&b.UUID, &b.Name, &b.PullRequest)
	case branchName != "":
		err = s.db.QueryRowContext(ctx, `
			select uuid, name, pull_request from branches
			where project_uuid=$1 and name=$2 and not pull_request
		`, projectUUID, branchName).Scan(&b.UUID, &b.Name, &b.PullRequest)
	default:
		err = s.db.QueryRowContext(ctx, `
			select uuid, name, pull_request from branches
			where project_uuid=$1 and is_main
		`, projectUUID).Scan(&b.UUID, &b.Name, &b.PullRequest)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Branch{}, fmt.Errorf("%w: branch %q", auth.ErrNotFound, branchName+pullRequest)
	}
	if err != nil {
		return auth.Branch{}, err
	}
	return b, nil
}

func (s *Store) MemberProjects(ctx context.Context, applicationUUID string) ([]auth.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.uuid, p.kee, p.private, p.application
		from application_projects ap
		join projects p on p.uuid = ap.project_uuid
		where ap.application_uuid=$1
		order by p.kee
	`, applicationUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Project
	for rows.Next() {
		var p auth.Project
		if err := rows.Scan(&p.UUID, &p.Key, &p.Private, &p.Application); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) HasGrant(ctx context.Context, userUUID, projectUUID, capability string) (bool, error) {
	var dummy int
	err := s.db.QueryRowContext(ctx, `
		select 1 from grants where user_uuid=$1 and project_uuid=$2 and capability=$3
	`, userUUID, projectUUID, capability).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
