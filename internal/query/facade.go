// Package query is the read facade over the store of record and the search
// index. Show reads the store directly and is always strongly consistent;
// Search goes through the index and declares its staleness; Pull streams a
// branch snapshot for incremental client sync.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/index"
	"reviewhub.org/internal/review"
)

// Facade bundles the read paths. All of them resolve scope and check browse
// through the oracle before touching any data source.
type Facade struct {
	store   review.Store
	index   *index.Index
	oracle  *auth.Oracle
	periods index.NewCodeResolver
	clock   review.Clock
}

// NewFacade wires the read facade.
func NewFacade(store review.Store, idx *index.Index, oracle *auth.Oracle, periods index.NewCodeResolver, clock review.Clock) (*Facade, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if idx == nil {
		return nil, errors.New("index is required")
	}
	if oracle == nil {
		return nil, errors.New("permission oracle is required")
	}
	if clock == nil {
		clock = review.SystemClock{}
	}
	return &Facade{
		store:   store,
		index:   idx,
		oracle:  oracle,
		periods: periods,
		clock:   clock,
	}, nil
}

// RenderedComment pairs a comment with its HTML rendering.
type RenderedComment struct {
	Comment review.Comment `json:"comment"`
	HTML    string         `json:"html"`
}

// ShowResult is the full detail view of one record.
type ShowResult struct {
	Record    review.Record           `json:"record"`
	Changelog []review.ChangelogEntry `json:"changelog"`
	Comments  []RenderedComment       `json:"comments"`
}

// Show loads one record with its changelog and comments, straight from the
// store of record. Closed records and records the caller may not browse are
// reported as absent.
func (f *Facade) Show(ctx context.Context, p auth.Principal, key string) (ShowResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ShowResult{}, fmt.Errorf("%w: the 'key' parameter is missing", review.ErrInvalidArgument)
	}

	rec, err := f.store.Get(ctx, key)
	if err != nil {
		return ShowResult{}, err
	}
	if rec.Closed() {
		return ShowResult{}, review.ErrNotFound
	}
	if err := f.checkBrowse(ctx, p, rec.ProjectUUID); err != nil {
		return ShowResult{}, err
	}

	changelog, err := f.store.Changelog(ctx, rec.Key)
	if err != nil {
		return ShowResult{}, err
	}
	comments, err := f.store.Comments(ctx, rec.Key)
	if err != nil {
		return ShowResult{}, err
	}
	rendered := make([]RenderedComment, 0, len(comments))
	for _, c := range comments {
		rendered = append(rendered, RenderedComment{Comment: c, HTML: review.RenderHTML(c.Markdown)})
	}
	return ShowResult{Record: rec, Changelog: changelog, Comments: rendered}, nil
}

// SearchRequest selects records for a list view. ProjectKey is required;
// Branch and PullRequest are mutually exclusive and default to the main
// branch.
type SearchRequest struct {
	ProjectKey  string
	Branch      string
	PullRequest string

	Kind              review.Kind
	Statuses          []review.Status
	Resolutions       []review.Resolution
	AssigneeUUID      string
	SecurityStandards []string
	Files             []string
	OnlyNewCode       bool

	Page     int
	PageSize int
}

// SearchResponse is one page of matches. SyncInProgress reports that index
// refreshes were still pending when the query ran, so the page may lag the
// store of record.
type SearchResponse struct {
	Documents      []index.Document `json:"documents"`
	Total          int              `json:"total"`
	Page           int              `json:"page"`
	PageSize       int              `json:"page_size"`
	SyncInProgress bool             `json:"sync_in_progress"`
}

// Search runs a permission-scoped list query against the index. Application
// scopes expand to the union of member projects the caller can browse; a
// member missing the requested branch is silently skipped.
func (f *Facade) Search(ctx context.Context, p auth.Principal, req SearchRequest) (SearchResponse, error) {
	scope, err := f.oracle.ResolveScope(ctx, req.ProjectKey, req.Branch, req.PullRequest)
	if err != nil {
		return SearchResponse{}, mapAuthErr(err)
	}
	if err := f.requireBrowse(ctx, p, scope.Project); err != nil {
		return SearchResponse{}, err
	}

	filter := index.Filter{
		Kind:              req.Kind,
		Statuses:          req.Statuses,
		Resolutions:       req.Resolutions,
		AssigneeUUID:      req.AssigneeUUID,
		SecurityStandards: req.SecurityStandards,
		Files:             req.Files,
	}
	if scope.Project.Application {
		projects, branches, err := f.expandApplication(ctx, p, scope, req.Branch)
		if err != nil {
			return SearchResponse{}, err
		}
		if len(projects) == 0 {
			return SearchResponse{Page: normalizePage(req.Page), PageSize: normalizePageSize(req.PageSize), SyncInProgress: f.index.SyncInProgress()}, nil
		}
		filter.ProjectUUIDs = projects
		filter.BranchUUIDs = branches
		if req.OnlyNewCode {
			// Member projects carry their own periods, so application
			// scopes classify new code by the per-record marker.
			filter.OnlyNewCode = true
			filter.NewCode = index.NewCodePeriod{Mode: index.NewCodeModeReferenceBranch}
		}
	} else {
		filter.ProjectUUIDs = []string{scope.Project.UUID}
		filter.BranchUUIDs = []string{scope.Branch.UUID}
		if req.OnlyNewCode && !scope.Branch.PullRequest && f.periods != nil {
			period, ok, err := f.periods.PeriodFor(ctx, scope.Project.UUID, scope.Branch.UUID)
			if err != nil {
				return SearchResponse{}, err
			}
			if ok {
				filter.OnlyNewCode = true
				filter.NewCode = period
			}
		}
	}

	docs, total := f.index.Query(filter, req.Page, req.PageSize)
	return SearchResponse{
		Documents:      docs,
		Total:          total,
		Page:           normalizePage(req.Page),
		PageSize:       normalizePageSize(req.PageSize),
		SyncInProgress: f.index.SyncInProgress(),
	}, nil
}

// Pull streams every record of a branch updated at or after since, including
// closed ones, and returns the cursor for the next pull. The cursor is
// captured before the scan so records committed during the scan are recovered
// by the next pull instead of being skipped.
func (f *Facade) Pull(ctx context.Context, p auth.Principal, projectKey, branchName string, since time.Time, w io.Writer) (time.Time, error) {
	scope, err := f.oracle.ResolveScope(ctx, projectKey, branchName, "")
	if err != nil {
		return time.Time{}, mapAuthErr(err)
	}
	if scope.Project.Application {
		return time.Time{}, fmt.Errorf("%w: pull is not supported for applications", review.ErrInvalidArgument)
	}
	if err := f.requireBrowse(ctx, p, scope.Project); err != nil {
		return time.Time{}, err
	}

	cursor := f.clock.Now()
	records, err := f.store.FindByProjectSince(ctx, scope.Project.UUID, scope.Branch.UUID, since)
	if err != nil {
		return time.Time{}, err
	}
	if err := WritePullStream(w, cursor, records); err != nil {
		return time.Time{}, err
	}
	return cursor, nil
}

// ResolveForStream authorizes a change-notification subscription on a
// project. Events are project scoped, so only the project key is resolved.
func (f *Facade) ResolveForStream(ctx context.Context, p auth.Principal, projectKey string) (auth.Scope, error) {
	scope, err := f.oracle.ResolveScope(ctx, projectKey, "", "")
	if err != nil {
		return auth.Scope{}, mapAuthErr(err)
	}
	if err := f.requireBrowse(ctx, p, scope.Project); err != nil {
		return auth.Scope{}, err
	}
	return scope, nil
}

// expandApplication maps an application scope onto the member projects the
// principal can browse and their branches matching the requested name.
func (f *Facade) expandApplication(ctx context.Context, p auth.Principal, scope auth.Scope, branchName string) ([]string, []string, error) {
	var projects, branches []string
	for _, member := range scope.Members {
		ok, err := f.oracle.CanBrowseProject(ctx, p, member)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		branch, err := f.oracle.BranchOf(ctx, member.UUID, branchName, "")
		if errors.Is(err, auth.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		projects = append(projects, member.UUID)
		branches = append(branches, branch.UUID)
	}
	return projects, branches, nil
}

func (f *Facade) checkBrowse(ctx context.Context, p auth.Principal, projectUUID string) error {
	project, err := f.oracle.ProjectByUUID(ctx, projectUUID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return review.ErrNotFound
		}
		return err
	}
	return f.requireBrowse(ctx, p, project)
}

func (f *Facade) requireBrowse(ctx context.Context, p auth.Principal, project auth.Project) error {
	ok, err := f.oracle.CanBrowseProject(ctx, p, project)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !p.Authenticated {
		return review.ErrAuthenticationRequired
	}
	return review.ErrForbidden
}

func mapAuthErr(err error) error {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return review.ErrNotFound
	case errors.Is(err, auth.ErrInvalidInput):
		return fmt.Errorf("%w: %s", review.ErrInvalidArgument, strings.TrimPrefix(err.Error(), "auth: invalid input: "))
	default:
		return err
	}
}

func normalizePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}

func normalizePageSize(size int) int {
	if size <= 0 {
		return index.DefaultPageSize
	}
	if size > index.MaxPageSize {
		return index.MaxPageSize
	}
	return size
}
