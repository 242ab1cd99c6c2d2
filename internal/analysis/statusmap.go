package analysis

import (
	"sync"

	"github.com/finradar/radar/pkg/models"
)

// StatusMap is the per-session associative container of analysis statuses,
// keyed by article id. All writes go through Merge, which guarantees
// last-write-wins per key and forward-only transitions: a terminal status
// never regresses to pending. Merging is idempotent, so out-of-order poll
// responses cannot corrupt the map.
type StatusMap struct {
	mu       sync.RWMutex
	statuses map[string]models.AnalysisStatus
}

// NewStatusMap creates an empty status map.
func NewStatusMap() *StatusMap {
	return &StatusMap{statuses: make(map[string]models.AnalysisStatus)}
}

// Merge applies one status. It reports whether the map changed.
func (m *StatusMap) Merge(st models.AnalysisStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.statuses[st.ArticleID]
	if ok && existing.Terminal() && st.Status == models.StatusPending {
		return false
	}
	if ok && existing == st {
		return false
	}
	m.statuses[st.ArticleID] = st
	return true
}

// MergeAll applies a batch of statuses and reports how many changed the map.
func (m *StatusMap) MergeAll(statuses []models.AnalysisStatus) int {
	changed := 0
	for _, st := range statuses {
		if m.Merge(st) {
			changed++
		}
	}
	return changed
}

// Remove deletes the entries for the given article ids. A forced re-enqueue
// removes the prior results before merging the fresh pending statuses;
// without that the forward-only guard would reject the pending transition.
func (m *StatusMap) Remove(articleIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range articleIDs {
		delete(m.statuses, id)
	}
}

// Get returns the status for an article id.
func (m *StatusMap) Get(articleID string) (models.AnalysisStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[articleID]
	return st, ok
}

// All returns a copy of the map.
func (m *StatusMap) All() map[string]models.AnalysisStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.AnalysisStatus, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// Pending returns the number of non-terminal statuses.
func (m *StatusMap) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.statuses {
		if st.Status == models.StatusPending {
			n++
		}
	}
	return n
}

// Len returns the number of tracked articles.
func (m *StatusMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}
