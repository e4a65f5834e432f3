package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"reviewhub.org/internal/review"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"key", "kind", "project_uuid", "branch_uuid", "branch_type",
		"component_uuid", "component_path", "status", "resolution",
		"assignee_uuid", "author_login", "message", "line", "score",
		"security_category", "security_standards", "new_code_reference",
		"creation_date", "update_date", "close_date",
	})
}

func TestGet(t *testing.T) {
	store, mock := newMock(t)

	rows := recordRows().AddRow(
		"h1", "HOTSPOT", "p1", "b1", "BRANCH",
		"c1", "src/main.go", "TO_REVIEW", "",
		"", "dev", "weak hash", 12, 0.5,
		"weak-cryptography", []byte(`["owaspTop10:a2"]`), false,
		testTime, testTime, nil,
	)
	mock.ExpectQuery("select(.|\n)*from records where key=\\$1").WithArgs("h1").WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Key != "h1" || rec.Status != review.StatusToReview || rec.Line != 12 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Kind != review.KindHotspot {
		t.Fatalf("kind = %q, want %q", rec.Kind, review.KindHotspot)
	}
	if len(rec.SecurityStandards) != 1 || rec.SecurityStandards[0] != "owaspTop10:a2" {
		t.Fatalf("standards not decoded: %v", rec.SecurityStandards)
	}
	if !rec.CloseDate.IsZero() {
		t.Fatalf("expected zero close date, got %v", rec.CloseDate)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUnknownKey(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select(.|\n)*from records").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLocksAndWritesEverything(t *testing.T) {
	store, mock := newMock(t)

	rec := review.Record{
		Key:               "h1",
		Status:            review.StatusReviewed,
		Resolution:        review.ResolutionSafe,
		SecurityStandards: []string{"cwe:327"},
		UpdateDate:        testTime,
	}
	entry := &review.ChangelogEntry{
		Key:        "cl1",
		RecordKey:  "h1",
		AuthorUUID: "u1",
		CreatedAt:  testTime,
		Diffs: []review.FieldDiff{
			{Field: "status", OldValue: "TO_REVIEW", NewValue: "REVIEWED"},
		},
	}
	comment := &review.Comment{
		Key: "cm1", RecordKey: "h1", AuthorUUID: "u1",
		Markdown: "looks safe", CreatedAt: testTime, UpdatedAt: testTime,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from records where key=\\$1 for update").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("update records set").
		WithArgs("h1", "REVIEWED", "SAFE", "", "", "", []byte(`["cwe:327"]`), false, testTime, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into changelog").
		WithArgs("cl1", "h1", "u1", testTime, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into comments").
		WithArgs("cm1", "h1", "u1", "looks safe", testTime, testTime).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), rec, entry, comment); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveUnknownKeyRollsBack(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from records where key=\\$1 for update").
		WithArgs("gone").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Save(context.Background(), review.Record{Key: "gone"}, nil, nil)
	if !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChangelogDecodesDiffs(t *testing.T) {
	store, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"key", "record_key", "author_uuid", "created_at", "diffs"}).
		AddRow("cl1", "h1", "u1", testTime, []byte(`[{"field":"status","old_value":"TO_REVIEW","new_value":"REVIEWED"}]`))
	mock.ExpectQuery("select(.|\n)*from changelog where record_key=\\$1").WithArgs("h1").WillReturnRows(rows)

	entries, err := store.Changelog(context.Background(), "h1")
	if err != nil {
		t.Fatalf("Changelog: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Diffs) != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if d := entries[0].Diffs[0]; d.Field != "status" || d.NewValue != "REVIEWED" {
		t.Fatalf("unexpected diff: %+v", d)
	}
}

func TestDeleteComment(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("delete from comments where key=\\$1").
		WithArgs("cm1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.DeleteComment(context.Background(), "cm1"); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}

	mock.ExpectExec("delete from comments where key=\\$1").
		WithArgs("cm1").WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.DeleteComment(context.Background(), "cm1")
	if !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFindByProjectSince(t *testing.T) {
	store, mock := newMock(t)

	closeAt := testTime.Add(time.Minute)
	rows := recordRows().
		AddRow("h1", "HOTSPOT", "p1", "b1", "BRANCH",
			"c1", "a.go", "TO_REVIEW", "", "", "", "m", 0, 0.1,
			"dos", []byte(`[]`), false, testTime, testTime, nil).
		AddRow("h2", "HOTSPOT", "p1", "b1", "BRANCH",
			"c1", "b.go", "CLOSED", "REMOVED", "", "", "m", 0, 0.1,
			"dos", []byte(`[]`), false, testTime, closeAt, closeAt)
	mock.ExpectQuery("select(.|\n)*from records(.|\n)*update_date >= \\$3").
		WithArgs("p1", "b1", testTime).WillReturnRows(rows)

	records, err := store.FindByProjectSince(context.Background(), "p1", "b1", testTime)
	if err != nil {
		t.Fatalf("FindByProjectSince: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Status != review.StatusClosed || !records[1].CloseDate.Equal(closeAt) {
		t.Fatalf("closed record not surfaced: %+v", records[1])
	}
}
