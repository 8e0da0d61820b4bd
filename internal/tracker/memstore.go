package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory DurableStore for tests and ephemeral
// single-process deployments. It applies the same transition rules as the
// sqlite store.
type MemStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]Record)}
}

func (s *MemStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("duplicate record id %s", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemStore) Transition(_ context.Context, id uuid.UUID, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != from {
		return fmt.Errorf("%w: record %s is %s, not %s", ErrInvalidTransition, id, rec.Status, from)
	}
	rec.Status = to
	s.records[id] = rec
	return nil
}

func (s *MemStore) UpdateTerminal(_ context.Context, id uuid.UUID, update TerminalUpdate) error {
	if !update.Status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, update.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: record %s is already %s", ErrInvalidTransition, id, rec.Status)
	}

	rec.Status = update.Status
	rec.OutputData = update.OutputData
	rec.ErrorMessage = update.ErrorMessage
	completedAt := update.CompletedAt
	rec.CompletedAt = &completedAt
	duration := update.DurationMS
	rec.DurationMS = &duration
	s.records[id] = rec
	return nil
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemStore) GetLatestByCorrelation(_ context.Context, correlationID uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest Record
		found  bool
	)
	for _, rec := range s.records {
		if rec.CorrelationID != correlationID {
			continue
		}
		if !found || rec.StartedAt.After(latest.StartedAt) {
			latest = rec
			found = true
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return latest, nil
}

func (s *MemStore) ListByProject(_ context.Context, projectID uuid.UUID, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []Record
	for _, rec := range s.records {
		if rec.ProjectID == projectID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemStore) FailStaleRunning(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var reaped int64
	for id, rec := range s.records {
		if rec.Status != StatusRunning || !rec.StartedAt.Before(cutoff) {
			continue
		}
		rec.Status = StatusFailed
		rec.ErrorMessage = reason
		completedAt := now
		rec.CompletedAt = &completedAt
		duration := now.Sub(rec.StartedAt).Milliseconds()
		rec.DurationMS = &duration
		s.records[id] = rec
		reaped++
	}
	return reaped, nil
}
