package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

// HistoryStore provides an in-memory indicator history for development/testing.
type HistoryStore struct {
	mu        sync.RWMutex
	snapshots []drought.Snapshot
	ids       map[string]struct{}
}

// NewHistoryStore constructs a HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{ids: make(map[string]struct{})}
}

// SaveSnapshot appends a snapshot. IDs must be unique.
func (s *HistoryStore) SaveSnapshot(_ context.Context, snap drought.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[snap.ID]; exists {
		return fmt.Errorf("snapshot %s already exists", snap.ID)
	}
	s.ids[snap.ID] = struct{}{}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// ListSnapshots returns the most recent snapshots first. A limit <= 0 returns all.
func (s *HistoryStore) ListSnapshots(_ context.Context, limit int) ([]drought.Snapshot, error) {
	s.mu.RLock()
	out := make([]drought.Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TakenAt.After(out[j].TakenAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
