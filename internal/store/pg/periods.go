package pg

import (
	"context"
	"database/sql"
	"errors"

	"reviewhub.org/internal/index"
)

// Periods reads per-branch new code period configuration.
type Periods struct {
	db *sql.DB
}

var _ index.NewCodeResolver = (*Periods)(nil)

func NewPeriods(db *sql.DB) *Periods { return &Periods{db: db} }

func (p *Periods) PeriodFor(ctx context.Context, projectUUID, branchUUID string) (index.NewCodePeriod, bool, error) {
	var mode string
	var reference sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		select mode, reference_date from new_code_periods
		where project_uuid=$1 and branch_uuid=$2
	`, projectUUID, branchUUID).Scan(&mode, &reference)
	if errors.Is(err, sql.ErrNoRows) {
		return index.NewCodePeriod{}, false, nil
	}
	if err != nil {
		return index.NewCodePeriod{}, false, err
	}
	period := index.NewCodePeriod{Mode: index.NewCodeMode(mode)}
	if reference.Valid {
		period.Reference = reference.Time.UTC()
	}
	return period, true, nil
}
