package gateway

import (
	"sync"
	"testing"
)

func TestMetrics_Snapshot(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	m.RecordSubscribe()
	m.RecordCancel(3)
	m.RecordDelete()
	m.RecordTrigger()
	m.RecordTrigger()
	m.RecordMessage()
	m.RecordError()

	want := MetricsSnapshot{Subscribed: 1, Cancelled: 3, Deleted: 1, Triggers: 2, Messages: 1, Errors: 1}
	if got := m.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			m.RecordTrigger()
			m.RecordCancel(i % 2)
		})
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Triggers != 100 || snap.Cancelled != 50 {
		t.Errorf("snapshot = %+v, want 100 triggers and 50 cancellations", snap)
	}
}
