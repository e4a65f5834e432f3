package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"reviewhub.org/internal/review"
)

// Store is the relational store of record backed by PostgreSQL. Workflow
// mutations run in a single transaction with a row lock on the record, so
// concurrent writers to the same key are serialized by the database.
type Store struct {
	db *sql.DB
}

var _ review.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const recordColumns = `
	key, kind, project_uuid, branch_uuid, branch_type, component_uuid, component_path,
	status, coalesce(resolution,''), coalesce(assignee_uuid,''), coalesce(author_login,''),
	message, coalesce(line,0), score, security_category, security_standards,
	new_code_reference, creation_date, update_date, close_date`

func (s *Store) Get(ctx context.Context, key string) (review.Record, error) {
	row := s.db.QueryRowContext(ctx, `select `+recordColumns+` from records where key=$1`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return review.Record{}, fmt.Errorf("%w: record '%s' does not exist", review.ErrNotFound, key)
	}
	if err != nil {
		return review.Record{}, err
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec review.Record, entry *review.ChangelogEntry, comment *review.Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the record row; serializes concurrent workflow writers on the key.
	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from records where key=$1 for update`, rec.Key).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: record '%s' does not exist", review.ErrNotFound, rec.Key)
		}
		return err
	}

	standards, err := json.Marshal(rec.SecurityStandards)
	if err != nil {
		return fmt.Errorf("marshal security standards: %w", err)
	}
	var closeDate sql.NullTime
	if !rec.CloseDate.IsZero() {
		closeDate = sql.NullTime{Time: rec.CloseDate, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		update records set
			status=$2, resolution=nullif($3,''), assignee_uuid=nullif($4,''),
			component_uuid=$5, component_path=$6, security_standards=$7,
			new_code_reference=$8, update_date=$9, close_date=$10
		where key=$1
	`, rec.Key, rec.Status, string(rec.Resolution), rec.AssigneeUUID,
		rec.ComponentUUID, rec.ComponentPath, standards,
		rec.NewCodeReference, rec.UpdateDate, closeDate); err != nil {
		return err
	}

	if entry != nil {
		diffs, err := json.Marshal(entry.Diffs)
		if err != nil {
			return fmt.Errorf("marshal changelog diffs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into changelog(key, record_key, author_uuid, created_at, diffs)
			values ($1,$2,nullif($3,''),$4,$5)
		`, entry.Key, entry.RecordKey, entry.AuthorUUID, entry.CreatedAt, diffs); err != nil {
			return err
		}
	}

	if comment != nil {
		if err := insertComment(ctx, tx, *comment); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) Changelog(ctx context.Context, recordKey string) ([]review.ChangelogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, record_key, coalesce(author_uuid,''), created_at, diffs
		from changelog where record_key=$1 order by key
	`, recordKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []review.ChangelogEntry
	for rows.Next() {
		var entry review.ChangelogEntry
		var diffs []byte
		if err := rows.Scan(&entry.Key, &entry.RecordKey, &entry.AuthorUUID, &entry.CreatedAt, &diffs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(diffs, &entry.Diffs); err != nil {
			return nil, fmt.Errorf("decode changelog diffs: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) Comments(ctx context.Context, recordKey string) ([]review.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, record_key, author_uuid, markdown, created_at, updated_at
		from comments where record_key=$1 order by key
	`, recordKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []review.Comment
	for rows.Next() {
		var c review.Comment
		if err := rows.Scan(&c.Key, &c.RecordKey, &c.AuthorUUID, &c.Markdown, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetComment(ctx context.Context, key string) (review.Comment, error) {
	var c review.Comment
	err := s.db.QueryRowContext(ctx, `
		select key, record_key, author_uuid, markdown, created_at, updated_at
		from comments where key=$1
	`, key).Scan(&c.Key, &c.RecordKey, &c.AuthorUUID, &c.Markdown, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return review.Comment{}, fmt.Errorf("%w: comment '%s' does not exist", review.ErrNotFound, key)
	}
	if err != nil {
		return review.Comment{}, err
	}
	return c, nil
}

func (s *Store) SaveComment(ctx context.Context, c review.Comment) error {
	return insertComment(ctx, s.db, c)
}

func (s *Store) DeleteComment(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `delete from comments where key=$1`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: comment '%s' does not exist", review.ErrNotFound, key)
	}
	return nil
}

func (s *Store) FindByProjectSince(ctx context.Context, projectUUID, branchUUID string, since time.Time) ([]review.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+recordColumns+`
		from records
		where project_uuid=$1 and branch_uuid=$2 and update_date >= $3
		order by update_date asc, key asc
	`, projectUUID, branchUUID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []review.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (review.Record, error) {
	var rec review.Record
	var standards []byte
	var closeDate sql.NullTime
	if err := row.Scan(
		&rec.Key, &rec.Kind, &rec.ProjectUUID, &rec.BranchUUID, &rec.BranchType,
		&rec.ComponentUUID, &rec.ComponentPath,
		&rec.Status, &rec.Resolution, &rec.AssigneeUUID, &rec.AuthorLogin,
		&rec.Message, &rec.Line, &rec.Score, &rec.SecurityCategory, &standards,
		&rec.NewCodeReference, &rec.CreationDate, &rec.UpdateDate, &closeDate,
	); err != nil {
		return review.Record{}, err
	}
	if len(standards) > 0 {
		if err := json.Unmarshal(standards, &rec.SecurityStandards); err != nil {
			return review.Record{}, fmt.Errorf("decode security standards: %w", err)
		}
	}
	if closeDate.Valid {
		rec.CloseDate = closeDate.Time
	}
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertComment(ctx context.Context, db execer, c review.Comment) error {
	_, err := db.ExecContext(ctx, `
		insert into comments(key, record_key, author_uuid, markdown, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (key) do update set markdown=excluded.markdown, updated_at=excluded.updated_at
	`, c.Key, c.RecordKey, c.AuthorUUID, c.Markdown, c.CreatedAt, c.UpdatedAt)
	return err
}
