package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Capabilities gate workflow operations per project.
const (
	CapBrowse       = "browse"
	CapHotspotAdmin = "hotspot_admin"
	CapIssueAdmin   = "issue_admin"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// Project is the authorization-relevant view of a project or application.
type Project struct {
	UUID        string
	Key         string
	Private     bool
	Application bool
}

// Branch identifies a branch or pull request under a project. Branch and pull
// request are mutually exclusive scopings of a component tree.
type Branch struct {
	UUID        string
	Name        string
	PullRequest bool
}

// Scope is the resolved target of one operation: a project (or application)
// at a specific branch or pull request. Applications additionally carry their
// member projects so that read paths can take the union of accessible records.
type Scope struct {
	Project Project
	Branch  Branch
	Members []Project
}

// GrantStore is the persistence interface behind the oracle.
type GrantStore interface {
	ProjectByKey(ctx context.Context, key string) (Project, error)
	ProjectByUUID(ctx context.Context, uuid string) (Project, error)
	BranchOf(ctx context.Context, projectUUID, branchName, pullRequest string) (Branch, error)
	MemberProjects(ctx context.Context, applicationUUID string) ([]Project, error)
	HasGrant(ctx context.Context, userUUID, projectUUID, capability string) (bool, error)
}

// Oracle answers "can principal P perform action A on this scope". It is the
// single authorization entry point; every operation resolves its scope once
// and asks the oracle once.
type Oracle struct {
	store GrantStore
}

// NewOracle constructs an Oracle.
func NewOracle(store GrantStore) (*Oracle, error) {
	if store == nil {
		return nil, errors.New("grant store is required")
	}
	return &Oracle{store: store}, nil
}

// ResolveScope collapses the project/application and branch/pull-request
// fan-out into one descriptor. Unknown projects and branches surface as
// ErrNotFound regardless of the caller's permissions: existence of a project
// key is not considered secret, only its contents are.
func (o *Oracle) ResolveScope(ctx context.Context, projectKey, branchName, pullRequest string) (Scope, error) {
	projectKey = strings.TrimSpace(projectKey)
	if projectKey == "" {
		return Scope{}, fmt.Errorf("%w: project key is required", ErrInvalidInput)
	}
	if branchName != "" && pullRequest != "" {
		return Scope{}, fmt.Errorf("%w: branch and pull request are mutually exclusive", ErrInvalidInput)
	}
	project, err := o.store.ProjectByKey(ctx, projectKey)
	if err != nil {
		return Scope{}, err
	}
	branch, err := o.store.BranchOf(ctx, project.UUID, branchName, pullRequest)
	if err != nil {
		return Scope{}, err
	}
	scope := Scope{Project: project, Branch: branch}
	if project.Application {
		members, err := o.store.MemberProjects(ctx, project.UUID)
		if err != nil {
			return Scope{}, err
		}
		scope.Members = members
	}
	return scope, nil
}

// ProjectByUUID resolves a project from a record's scoping identifier.
func (o *Oracle) ProjectByUUID(ctx context.Context, uuid string) (Project, error) {
	return o.store.ProjectByUUID(ctx, uuid)
}

// BranchOf resolves a branch or pull request under a project. An empty branch
// name and pull request select the main branch. Read paths use this to map an
// application branch onto each member project's branch of the same name.
func (o *Oracle) BranchOf(ctx context.Context, projectUUID, branchName, pullRequest string) (Branch, error) {
	return o.store.BranchOf(ctx, projectUUID, branchName, pullRequest)
}

// CanBrowse reports whether the principal may read records in the scope.
// Public projects are browsable by everyone including anonymous callers.
func (o *Oracle) CanBrowse(ctx context.Context, p Principal, scope Scope) (bool, error) {
	return o.userCanBrowse(ctx, p.UUID, p.Authenticated, scope.Project)
}

// CanBrowseProject answers browse for a single project, used when expanding an
// application scope into its member projects.
func (o *Oracle) CanBrowseProject(ctx context.Context, p Principal, project Project) (bool, error) {
	return o.userCanBrowse(ctx, p.UUID, p.Authenticated, project)
}

// UserCanBrowse answers browse for an arbitrary known user, independent of the
// current request principal. The assignment rules need this to validate that
// an assignee can see a private project.
func (o *Oracle) UserCanBrowse(ctx context.Context, userUUID string, project Project) (bool, error) {
	return o.userCanBrowse(ctx, userUUID, true, project)
}

// HasCapability reports whether the principal holds the capability on the
// scope's project. Capabilities are never granted to anonymous callers.
func (o *Oracle) HasCapability(ctx context.Context, p Principal, scope Scope, capability string) (bool, error) {
	if !p.Authenticated {
		return false, nil
	}
	return o.store.HasGrant(ctx, p.UUID, scope.Project.UUID, capability)
}

func (o *Oracle) userCanBrowse(ctx context.Context, userUUID string, authenticated bool, project Project) (bool, error) {
	if !project.Private {
		return true, nil
	}
	if !authenticated || userUUID == "" {
		return false, nil
	}
	return o.store.HasGrant(ctx, userUUID, project.UUID, CapBrowse)
}
