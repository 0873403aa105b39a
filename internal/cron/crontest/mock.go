// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/nutsub/internal/cron"
)

// MockJob counts its runs and optionally delegates to Fn.
type MockJob struct {
	JobName string
	Fn      func(ctx context.Context) error

	mu   sync.Mutex
	runs int
	ran  chan struct{} // closed when the next run starts
	errs []error
}

var _ cron.Job = (*MockJob)(nil)

func (m *MockJob) Name() string { return m.JobName }

func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runs++
	ran := m.signalLocked()
	m.ran = nil
	m.mu.Unlock()
	close(ran)

	if m.Fn == nil {
		return nil
	}
	err := m.Fn(ctx)
	if err != nil {
		m.mu.Lock()
		m.errs = append(m.errs, err)
		m.mu.Unlock()
	}
	return err
}

// CallCount returns how many runs have started.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// Errors returns the errors returned by Fn so far.
func (m *MockJob) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

// WaitCalls reports whether n runs started within timeout.
func (m *MockJob) WaitCalls(n int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		m.mu.Lock()
		runs, ran := m.runs, m.signalLocked()
		m.mu.Unlock()
		if runs >= n {
			return true
		}
		select {
		case <-ran:
		case <-timer.C:
			return m.CallCount() >= n
		}
	}
}

func (m *MockJob) signalLocked() chan struct{} {
	if m.ran == nil {
		m.ran = make(chan struct{})
	}
	return m.ran
}
