package review

import (
	"context"
	"fmt"
	"strings"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/ids"
)

// CommentResult carries the raw text alongside its rendered form.
type CommentResult struct {
	Comment Comment
	HTML    string
}

// AddComment attaches a comment to a record. Requires browse permission on
// the record's project.
func (s *Service) AddComment(ctx context.Context, p auth.Principal, key, text string) (CommentResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return CommentResult{}, fmt.Errorf("%w: the 'key' parameter is missing", ErrInvalidArgument)
	}
	if err := validateComment(text, false); err != nil {
		return CommentResult{}, err
	}
	if !p.Authenticated {
		return CommentResult{}, ErrAuthenticationRequired
	}

	rec, err := s.loadOpen(ctx, key)
	if err != nil {
		return CommentResult{}, err
	}
	if err := s.checkBrowse(ctx, p, rec); err != nil {
		return CommentResult{}, err
	}

	now := s.clock.Now()
	cmt := Comment{
		Key:        ids.New(),
		RecordKey:  rec.Key,
		AuthorUUID: p.UUID,
		Markdown:   text,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveComment(ctx, cmt); err != nil {
		return CommentResult{}, err
	}
	return CommentResult{Comment: cmt, HTML: RenderHTML(text)}, nil
}

// EditComment replaces the text of an existing comment. Only the author may
// edit; ownership is a business rule, not an access-control boundary, so a
// violation is InvalidArgument rather than Forbidden.
func (s *Service) EditComment(ctx context.Context, p auth.Principal, commentKey, text string) (CommentResult, error) {
	if err := validateComment(text, false); err != nil {
		return CommentResult{}, err
	}
	if !p.Authenticated {
		return CommentResult{}, ErrAuthenticationRequired
	}

	cmt, err := s.store.GetComment(ctx, strings.TrimSpace(commentKey))
	if err != nil {
		return CommentResult{}, err
	}
	if cmt.AuthorUUID != p.UUID {
		return CommentResult{}, fmt.Errorf("%w: you can only edit your own comments", ErrInvalidArgument)
	}

	cmt.Markdown = text
	cmt.UpdatedAt = s.clock.Now()
	if err := s.store.SaveComment(ctx, cmt); err != nil {
		return CommentResult{}, err
	}
	return CommentResult{Comment: cmt, HTML: RenderHTML(text)}, nil
}

// DeleteComment removes a comment. Only the author may delete.
func (s *Service) DeleteComment(ctx context.Context, p auth.Principal, commentKey string) error {
	if !p.Authenticated {
		return ErrAuthenticationRequired
	}
	cmt, err := s.store.GetComment(ctx, strings.TrimSpace(commentKey))
	if err != nil {
		return err
	}
	if cmt.AuthorUUID != p.UUID {
		return fmt.Errorf("%w: you can only delete your own comments", ErrInvalidArgument)
	}
	return s.store.DeleteComment(ctx, cmt.Key)
}
