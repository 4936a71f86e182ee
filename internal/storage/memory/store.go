// Package memory keeps invocation records in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

// DefaultCapacity bounds the records kept by New.
const DefaultCapacity = 10000

// Store is an in-memory implementation of ports.InvocationStore. When full
// it evicts the oldest record.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*domain.InvocationRecord
	order    []string
	capacity int
}

var _ ports.InvocationStore = (*Store)(nil)

// New creates a new in-memory store holding at most DefaultCapacity records.
func New() *Store {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a store holding at most capacity records.
func NewWithCapacity(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records:  make(map[string]*domain.InvocationRecord),
		capacity: capacity,
	}
}

func (s *Store) SaveInvocation(ctx context.Context, rec *domain.InvocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = &cp

	for len(s.order) > s.capacity {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *Store) GetInvocation(ctx context.Context, id string) (*domain.InvocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("invocation %s: %w", id, ports.ErrInvocationNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) ListInvocations(ctx context.Context, opts ports.InvocationListOptions) ([]*domain.InvocationRecord, error) {
	s.mu.RLock()
	var matched []*domain.InvocationRecord
	for _, rec := range s.records {
		if opts.Mount != "" && rec.Mount != opts.Mount {
			continue
		}
		if opts.Mode != "" && rec.Mode != opts.Mode {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if !opts.Since.IsZero() && rec.CreatedAt.Before(opts.Since) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) Close() error {
	return nil
}
