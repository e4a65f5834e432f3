// Package mem provides an in-process review.Store. It backs the workflow
// tests and mirrors the transactional contract of the relational store:
// Save applies record, changelog and comment together or not at all.
package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reviewhub.org/internal/review"
)

type Store struct {
	mu        sync.RWMutex
	records   map[string]review.Record
	changelog map[string][]review.ChangelogEntry // record key -> entries
	comments  map[string]review.Comment          // comment key -> comment
}

var _ review.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		records:   make(map[string]review.Record),
		changelog: make(map[string][]review.ChangelogEntry),
		comments:  make(map[string]review.Comment),
	}
}

// Put inserts or replaces a record directly, bypassing the changelog. Test
// fixture for records created by analysis ingestion.
func (s *Store) Put(rec review.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
}

func (s *Store) Get(ctx context.Context, key string) (review.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return review.Record{}, fmt.Errorf("%w: record '%s' does not exist", review.ErrNotFound, key)
	}
	return copyRecord(rec), nil
}

func (s *Store) Save(ctx context.Context, rec review.Record, entry *review.ChangelogEntry, comment *review.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Key]; !ok {
		return fmt.Errorf("%w: record '%s' does not exist", review.ErrNotFound, rec.Key)
	}
	s.records[rec.Key] = copyRecord(rec)
	if entry != nil {
		s.changelog[rec.Key] = append(s.changelog[rec.Key], *entry)
	}
	if comment != nil {
		s.comments[comment.Key] = *comment
	}
	return nil
}

func (s *Store) Changelog(ctx context.Context, recordKey string) ([]review.ChangelogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.changelog[recordKey]
	out := make([]review.ChangelogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) Comments(ctx context.Context, recordKey string) ([]review.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []review.Comment
	for _, c := range s.comments {
		if c.RecordKey == recordKey {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) GetComment(ctx context.Context, key string) (review.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[key]
	if !ok {
		return review.Comment{}, fmt.Errorf("%w: comment '%s' does not exist", review.ErrNotFound, key)
	}
	return c, nil
}

func (s *Store) SaveComment(ctx context.Context, c review.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.Key] = c
	return nil
}

func (s *Store) DeleteComment(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[key]; !ok {
		return fmt.Errorf("%w: comment '%s' does not exist", review.ErrNotFound, key)
	}
	delete(s.comments, key)
	return nil
}

func (s *Store) FindByProjectSince(ctx context.Context, projectUUID, branchUUID string, since time.Time) ([]review.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []review.Record
	for _, rec := range s.records {
		if rec.ProjectUUID != projectUUID || rec.BranchUUID != branchUUID {
			continue
		}
		if rec.UpdateDate.Before(since) {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdateDate.Equal(out[j].UpdateDate) {
			return out[i].UpdateDate.Before(out[j].UpdateDate)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func copyRecord(rec review.Record) review.Record {
	out := rec
	out.SecurityStandards = append([]string(nil), rec.SecurityStandards...)
	return out
}
