package review

import "time"

// Kind distinguishes generic issues from security hotspots. Both share the
// same record shape and workflow machinery but use different transition
// tables and resolutions.
type Kind string

const (
	KindIssue   Kind = "ISSUE"
	KindHotspot Kind = "HOTSPOT"
)

// Status of a record in the review workflow.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusToReview  Status = "TO_REVIEW"
	StatusReviewed  Status = "REVIEWED"
	StatusConfirmed Status = "CONFIRMED"
	StatusResolved  Status = "RESOLVED"
	StatusReopened  Status = "REOPENED"
	StatusClosed    Status = "CLOSED"
)

// Resolution qualifies a non-open status. The empty value means "no
// resolution" and is only legal together with an open status.
type Resolution string

const (
	ResolutionNone          Resolution = ""
	ResolutionFixed         Resolution = "FIXED"
	ResolutionSafe          Resolution = "SAFE"
	ResolutionAcknowledged  Resolution = "ACKNOWLEDGED"
	ResolutionFalsePositive Resolution = "FALSE_POSITIVE"
	ResolutionWontFix       Resolution = "WONT_FIX"
	ResolutionRemoved       Resolution = "REMOVED"
)

// BranchType scopes a record to either a regular branch or a pull request.
// Pull requests never produce change notifications and never filter by new
// code period.
type BranchType string

const (
	BranchTypeBranch      BranchType = "BRANCH"
	BranchTypePullRequest BranchType = "PULL_REQUEST"
)

// Record is an issue or hotspot raised against analyzed source code. Records
// are created by analysis ingestion and mutated only through the workflow
// managers; they are never hard-deleted here.
type Record struct {
	Key           string     `json:"key"`
	Kind          Kind       `json:"kind"`
	ProjectUUID   string     `json:"project_uuid"`
	BranchUUID    string     `json:"branch_uuid"`
	BranchType    BranchType `json:"branch_type"`
	ComponentUUID string     `json:"component_uuid"`
	ComponentPath string     `json:"component_path"`

	Status     Status     `json:"status"`
	Resolution Resolution `json:"resolution,omitempty"`

	AssigneeUUID string `json:"assignee_uuid,omitempty"` // weak reference, may dangle
	AuthorLogin  string `json:"author_login,omitempty"`

	Message string `json:"message"`
	Line    int    `json:"line,omitempty"` // 0 means no line

	// Score orders list results (vulnerability probability for hotspots,
	// severity weight for issues). Higher sorts first.
	Score             float64  `json:"score"`
	SecurityCategory  string   `json:"security_category"`
	SecurityStandards []string `json:"security_standards,omitempty"`

	// NewCodeReference marks records inside the new code period when the
	// project uses reference-branch mode, independent of timestamps.
	NewCodeReference bool `json:"new_code_reference,omitempty"`

	CreationDate time.Time `json:"creation_date"`
	UpdateDate   time.Time `json:"update_date"`
	CloseDate    time.Time `json:"close_date,omitzero"` // zero until status becomes CLOSED, then set once
}

// Closed reports whether the record reached the terminal state. Closed
// records are invisible to the workflow API.
func (r Record) Closed() bool {
	return r.Status == StatusClosed
}

// OnBranch reports whether the record lives on a regular branch (as opposed
// to a pull request).
func (r Record) OnBranch() bool {
	return r.BranchType == BranchTypeBranch
}

// FieldDiff is one field-level change inside a changelog entry.
type FieldDiff struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// ChangelogEntry is an immutable, append-only audit record of one mutating
// operation. AuthorUUID is empty for system-initiated changes.
type ChangelogEntry struct {
	Key        string      `json:"key"`
	RecordKey  string      `json:"record_key"`
	AuthorUUID string      `json:"author_uuid,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Diffs      []FieldDiff `json:"diffs"`
}

// Comment is free text attached to a record. Only its author may edit or
// delete it.
type Comment struct {
	Key        string    `json:"key"`
	RecordKey  string    `json:"record_key"`
	AuthorUUID string    `json:"author_uuid"`
	Markdown   string    `json:"markdown"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChangeEvent is the payload published to real-time listeners after a
// branch-scoped record changed. It carries enough identity for a listener to
// invalidate its own cache. Bulk changes publish one event per branch with
// no record key; listeners treat that as "resync the branch".
type ChangeEvent struct {
	ProjectUUID string     `json:"project_uuid"`
	BranchUUID  string     `json:"branch_uuid"`
	RecordKey   string     `json:"record_key"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Resolution  Resolution `json:"resolution,omitempty"`
	UpdateDate  time.Time  `json:"update_date"`
}
