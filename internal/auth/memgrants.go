package auth

import (
	"context"
	"fmt"
	"sync"
)

// MemGrants is an in-process GrantStore. It backs tests and single-node
// deployments that keep project topology in configuration rather than the
// database.
type MemGrants struct {
	mu       sync.RWMutex
	projects map[string]Project            // key -> project
	branches map[string]map[string]Branch  // project uuid -> branch name -> branch
	pulls    map[string]map[string]Branch  // project uuid -> pull request id -> branch
	members  map[string][]string           // application uuid -> project uuids
	grants   map[string]map[string]bool    // user uuid -> project uuid + "/" + capability
	main     map[string]string             // project uuid -> main branch name
}

// NewMemGrants creates an empty grant store.
func NewMemGrants() *MemGrants {
	return &MemGrants{
		projects: make(map[string]Project),
		branches: make(map[string]map[string]Branch),
		pulls:    make(map[string]map[string]Branch),
		members:  make(map[string][]string),
		grants:   make(map[string]map[string]bool),
		main:     make(map[string]string),
	}
}

// AddProject registers a project or application.
func (m *MemGrants) AddProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.Key] = p
}

// AddBranch registers a branch under the project. The first branch added
// becomes the project's main branch.
func (m *MemGrants) AddBranch(projectUUID string, b Branch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.PullRequest {
		if m.pulls[projectUUID] == nil {
			m.pulls[projectUUID] = make(map[string]Branch)
		}
		m.pulls[projectUUID][b.Name] = b
		return
	}
	if m.branches[projectUUID] == nil {
		m.branches[projectUUID] = make(map[string]Branch)
	}
	m.branches[projectUUID][b.Name] = b
	if _, ok := m.main[projectUUID]; !ok {
		m.main[projectUUID] = b.Name
	}
}

// AddMember links a project into an application.
func (m *MemGrants) AddMember(applicationUUID, projectUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[applicationUUID] = append(m.members[applicationUUID], projectUUID)
}

// Grant gives the user a capability on the project.
func (m *MemGrants) Grant(userUUID, projectUUID, capability string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants[userUUID] == nil {
		m.grants[userUUID] = make(map[string]bool)
	}
	m.grants[userUUID][projectUUID+"/"+capability] = true
}

func (m *MemGrants) ProjectByKey(ctx context.Context, key string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[key]
	if !ok {
		return Project{}, fmt.Errorf("%w: project %q", ErrNotFound, key)
	}
	return p, nil
}

func (m *MemGrants) ProjectByUUID(ctx context.Context, uuid string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.UUID == uuid {
			return p, nil
		}
	}
	return Project{}, fmt.Errorf("%w: project %q", ErrNotFound, uuid)
}

func (m *MemGrants) BranchOf(ctx context.Context, projectUUID, branchName, pullRequest string) (Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pullRequest != "" {
		b, ok := m.pulls[projectUUID][pullRequest]
		if !ok {
			return Branch{}, fmt.Errorf("%w: pull request %q", ErrNotFound, pullRequest)
		}
		return b, nil
	}
	if branchName == "" {
		branchName = m.main[projectUUID]
	}
	b, ok := m.branches[projectUUID][branchName]
	if !ok {
		return Branch{}, fmt.Errorf("%w: branch %q", ErrNotFound, branchName)
	}
	return b, nil
}

func (m *MemGrants) MemberProjects(ctx context.Context, applicationUUID string) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Project
	for _, uuid := range m.members[applicationUUID] {
		for _, p := range m.projects {
			if p.UUID == uuid {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (m *MemGrants) HasGrant(ctx context.Context, userUUID, projectUUID, capability string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[userUUID][projectUUID+"/"+capability], nil
}

var _ GrantStore = (*MemGrants)(nil)
