package gradebook

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// mockLedger is a configurable Gradebook for middleware tests.
type mockLedger struct {
	mu sync.Mutex

	Err              error
	FailUntilAttempt int
	Delay            time.Duration

	CallCount int
	Pushes    []float64
	Deadlines []bool
}

func (m *mockLedger) PushGradebookScore(ctx context.Context, _ domain.ParticipantID, rawScore float64) error {
	m.mu.Lock()
	m.CallCount++
	attempt := m.CallCount
	_, hasDeadline := ctx.Deadline()
	m.Deadlines = append(m.Deadlines, hasDeadline)
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if attempt <= m.FailUntilAttempt {
		return errTransient
	}
	m.Pushes = append(m.Pushes, rawScore)
	return nil
}

func (m *mockLedger) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
