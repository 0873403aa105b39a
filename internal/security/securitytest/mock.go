// Package securitytest provides test doubles for the security package.
package securitytest

import (
	"slices"
	"sync"

	"github.com/flemzord/nutsub/internal/security"
)

// NewTestAuditLogger returns an AuditLogger that keeps events in memory
// and a function returning a snapshot of them.
func NewTestAuditLogger() (*security.AuditLogger, func() []security.AuditEvent) {
	var (
		mu     sync.Mutex
		events []security.AuditEvent
	)
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		},
	})
	return logger, func() []security.AuditEvent {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(events)
	}
}
