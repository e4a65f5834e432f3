package review_test

import (
	"context"
	"errors"
	"testing"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/review"
)

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	res, err := f.svc.AddComment(ctx, f.guest, "h1", "is this *really* exploitable?")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if res.Comment.AuthorUUID != "u-guest" {
		t.Fatalf("unexpected author: %s", res.Comment.AuthorUUID)
	}
	if res.HTML == "" {
		t.Fatal("expected rendered HTML")
	}

	comments, _ := f.store.Comments(ctx, "h1")
	if len(comments) != 1 {
		t.Fatalf("comment not persisted")
	}
}

func TestAddCommentAuth(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	rec := f.putHotspot("h2")
	rec.ProjectUUID = "p2"
	rec.BranchUUID = "b2"
	f.store.Put(rec)
	ctx := context.Background()

	_, err := f.svc.AddComment(ctx, auth.Anonymous(), "h1", "hello")
	if !errors.Is(err, review.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	// Browse on the private project is required to comment.
	_, err = f.svc.AddComment(ctx, f.guest, "h2", "hello")
	if !errors.Is(err, review.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestEditCommentOwnership(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	res, err := f.svc.AddComment(ctx, f.guest, "h1", "original")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	// Another user cannot edit, regardless of privileges.
	_, err = f.svc.EditComment(ctx, f.admin, res.Comment.Key, "hijacked")
	if !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	edited, err := f.svc.EditComment(ctx, f.guest, res.Comment.Key, "clarified")
	if err != nil {
		t.Fatalf("EditComment: %v", err)
	}
	if edited.Comment.Markdown != "clarified" {
		t.Fatalf("text not replaced: %q", edited.Comment.Markdown)
	}
	if !edited.Comment.CreatedAt.Equal(res.Comment.CreatedAt) {
		t.Fatalf("creation date must not change on edit")
	}
}

func TestDeleteCommentOwnership(t *testing.T) {
	f := newFixture(t)
	f.putHotspot("h1")
	ctx := context.Background()

	res, err := f.svc.AddComment(ctx, f.guest, "h1", "to be removed")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	if err := f.svc.DeleteComment(ctx, f.admin, res.Comment.Key); !errors.Is(err, review.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := f.svc.DeleteComment(ctx, f.guest, res.Comment.Key); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	if err := f.svc.DeleteComment(ctx, f.guest, res.Comment.Key); !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRenderHTML(t *testing.T) {
	got := review.RenderHTML("use **params** & `escape`\nalways")
	if got != "use <strong>params</strong> &amp; <code>escape</code><br/>always" {
		t.Fatalf("unexpected rendering: %q", got)
	}
}
