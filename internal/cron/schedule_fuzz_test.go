package cron

import (
	"testing"
)

func FuzzParseSchedule(f *testing.F) {
	f.Add("*/5 * * * *")
	f.Add("0 0 * * *")
	f.Add("@every 1m")
	f.Add("60s")
	f.Add("invalid")
	f.Add("")
	f.Add("60 * * * *")
	f.Add("-5m")

	f.Fuzz(func(t *testing.T, expr string) {
		// Must not panic; errors are expected and acceptable.
		sched, err := ParseSchedule(expr)
		if err == nil && sched == nil {
			t.Fatalf("nil schedule without error for %q", expr)
		}
	})
}
