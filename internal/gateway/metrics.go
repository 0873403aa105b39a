package gateway

import (
	"sync/atomic"
)

// Metrics tracks admin actions served by the gateway since start. The
// Prometheus collectors in internal/metrics cover request rates; these
// counters back the /status snapshot.
type Metrics struct {
	subscribed atomic.Int64
	cancelled  atomic.Int64
	deleted    atomic.Int64
	triggers   atomic.Int64
	messages   atomic.Int64
	errors     atomic.Int64
}

// RecordSubscribe records a subscription funded through the API.
func (m *Metrics) RecordSubscribe() { m.subscribed.Add(1) }

// RecordCancel records n subscriptions cancelled through the API.
func (m *Metrics) RecordCancel(n int) { m.cancelled.Add(int64(n)) }

// RecordDelete records a deleted subscription.
func (m *Metrics) RecordDelete() { m.deleted.Add(1) }

// RecordTrigger records a manual redemption trigger.
func (m *Metrics) RecordTrigger() { m.triggers.Add(1) }

// RecordMessage records an inbound webhook message.
func (m *Metrics) RecordMessage() { m.messages.Add(1) }

// RecordError records a failed request.
func (m *Metrics) RecordError() { m.errors.Add(1) }

// Snapshot returns a point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Subscribed: m.subscribed.Load(),
		Cancelled:  m.cancelled.Load(),
		Deleted:    m.deleted.Load(),
		Triggers:   m.triggers.Load(),
		Messages:   m.messages.Load(),
		Errors:     m.errors.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Subscribed int64 `json:"subscribed"`
	Cancelled  int64 `json:"cancelled"`
	Deleted    int64 `json:"deleted"`
	Triggers   int64 `json:"triggers"`
	Messages   int64 `json:"messages"`
	Errors     int64 `json:"errors"`
}
