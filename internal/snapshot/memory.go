package snapshot

import (
	"context"
	"sync"

	"TopSignals/internal/model"
)

// MemoryStore keeps history in process. It is used when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string][]model.ScalarObservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]model.ScalarObservation)}
}

func (m *MemoryStore) Latest(_ context.Context, metric string) (*model.ScalarObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[metric]
	if len(rows) == 0 {
		return nil, nil
	}
	obs := rows[len(rows)-1]
	return &obs, nil
}

func (m *MemoryStore) LatestDifferent(_ context.Context, metric string, excluding *float64) (*model.ScalarObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[metric]
	for i := len(rows) - 1; i >= 0; i-- {
		if !model.SameValue(rows[i].Value, excluding) {
			obs := rows[i]
			return &obs, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Insert(_ context.Context, obs model.ScalarObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[obs.Metric]
	if int64(len(rows))+1 != obs.Seq {
		return ErrConflict
	}
	m.rows[obs.Metric] = append(rows, obs)
	return nil
}

// History returns a copy of the stored rows for metric, oldest first.
func (m *MemoryStore) History(metric string) []model.ScalarObservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ScalarObservation(nil), m.rows[metric]...)
}

func (m *MemoryStore) Close() error { return nil }
