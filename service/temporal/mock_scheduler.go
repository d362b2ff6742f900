package temporal

import (
	"context"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	upserts   int
	deletes   int
	interval  time.Duration
	minAge    time.Duration
	maxAge    time.Duration
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new mock scheduler for testing.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// UpsertReconcileSchedule records the call and returns any configured error.
func (m *MockScheduler) UpsertReconcileSchedule(_ context.Context, interval, minAge, maxAge time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.interval = interval
	m.minAge = minAge
	m.maxAge = maxAge
	return nil
}

// DeleteReconcileSchedule records the call and returns any configured error.
func (m *MockScheduler) DeleteReconcileSchedule(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletes++
	return nil
}

// UpsertCount returns how many upserts were recorded.
func (m *MockScheduler) UpsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// LastInterval returns the interval from the most recent upsert.
func (m *MockScheduler) LastInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetUpsertError configures the mock to fail upserts.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}
