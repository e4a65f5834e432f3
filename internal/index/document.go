package index

import (
	"time"

	"reviewhub.org/internal/review"
)

// Document is the denormalized search projection of one record plus the
// permission tags read paths filter on. It is replaced whole on every
// refresh; there are no partial updates to diverge from the store of record.
type Document struct {
	RecordKey   string      `json:"record_key"`
	Kind        review.Kind `json:"kind"`
	ProjectUUID string      `json:"project_uuid"`
	BranchUUID  string      `json:"branch_uuid"`
	PullRequest bool        `json:"pull_request,omitempty"`

	// ProjectPrivate is the permission tag: Query drops private documents
	// from any query that is not scoped to explicit projects. The facade
	// proves browse permission before adding a project scope.
	ProjectPrivate bool `json:"-"`

	Status     review.Status     `json:"status"`
	Resolution review.Resolution `json:"resolution,omitempty"`

	AssigneeUUID      string   `json:"assignee_uuid,omitempty"`
	ComponentPath     string   `json:"component_path"`
	Line              int      `json:"line,omitempty"`
	Score             float64  `json:"score"`
	SecurityCategory  string   `json:"security_category"`
	SecurityStandards []string `json:"security_standards,omitempty"`
	NewCodeReference  bool     `json:"new_code_reference,omitempty"`

	CreationDate time.Time `json:"creation_date"`
	UpdateDate   time.Time `json:"update_date"`
	IndexedAt    time.Time `json:"indexed_at"`
}

func newDocument(rec review.Record, private bool, indexedAt time.Time) Document {
	return Document{
		RecordKey:         rec.Key,
		Kind:              rec.Kind,
		ProjectUUID:       rec.ProjectUUID,
		BranchUUID:        rec.BranchUUID,
		PullRequest:       !rec.OnBranch(),
		ProjectPrivate:    private,
		Status:            rec.Status,
		Resolution:        rec.Resolution,
		AssigneeUUID:      rec.AssigneeUUID,
		ComponentPath:     rec.ComponentPath,
		Line:              rec.Line,
		Score:             rec.Score,
		SecurityCategory:  rec.SecurityCategory,
		SecurityStandards: append([]string(nil), rec.SecurityStandards...),
		NewCodeReference:  rec.NewCodeReference,
		CreationDate:      rec.CreationDate,
		UpdateDate:        rec.UpdateDate,
		IndexedAt:         indexedAt,
	}
}
