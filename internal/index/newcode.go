package index

import (
	"context"
	"sync"
	"time"
)

// NewCodeMode selects how a project classifies records as "new". The mode is
// pluggable per project: timestamp comparison against a reference instant, or
// an explicit marker carried by the record when the project compares against
// a reference branch.
type NewCodeMode string

const (
	NewCodeModeTimestamp       NewCodeMode = "TIMESTAMP"
	NewCodeModeReferenceBranch NewCodeMode = "REFERENCE_BRANCH"
)

// NewCodePeriod is a project's configured reference point for new-code
// classification.
type NewCodePeriod struct {
	Mode      NewCodeMode
	Reference time.Time
}

// NewCodeResolver returns the period configured for a branch, if any.
type NewCodeResolver interface {
	PeriodFor(ctx context.Context, projectUUID, branchUUID string) (NewCodePeriod, bool, error)
}

// inNewCodePeriod classifies one document. A record is new when it was
// created after the reference instant or exactly at it; in reference-branch
// mode the marker decides alone and timestamps are ignored.
func inNewCodePeriod(doc Document, period NewCodePeriod) bool {
	if period.Mode == NewCodeModeReferenceBranch {
		return doc.NewCodeReference
	}
	return !doc.CreationDate.Before(period.Reference)
}

// MemPeriods is an in-process NewCodeResolver.
type MemPeriods struct {
	mu      sync.RWMutex
	periods map[string]NewCodePeriod // projectUUID + "/" + branchUUID
}

// NewMemPeriods creates an empty resolver.
func NewMemPeriods() *MemPeriods {
	return &MemPeriods{periods: make(map[string]NewCodePeriod)}
}

// Set configures the period for a branch.
func (m *MemPeriods) Set(projectUUID, branchUUID string, p NewCodePeriod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[projectUUID+"/"+branchUUID] = p
}

func (m *MemPeriods) PeriodFor(ctx context.Context, projectUUID, branchUUID string) (NewCodePeriod, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[projectUUID+"/"+branchUUID]
	return p, ok, nil
}

var _ NewCodeResolver = (*MemPeriods)(nil)
