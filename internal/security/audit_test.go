package security

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeTrail(t *testing.T, buf *bytes.Buffer) []AuditEvent {
	t.Helper()
	var out []AuditEvent
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestAuditLogger_Trail(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	var seen []EventType
	logger := NewAuditLogger(AuditLoggerConfig{
		Writer:  &buf,
		Now:     func() time.Time { return at },
		OnEvent: func(e AuditEvent) { seen = append(seen, e.Type) },
	})

	logger.Log(AuditEvent{Type: EventSubscriptionCancel, Actor: "admin", CreatorNpub: "npub1creator", SubscriptionID: "sub-1"})
	logger.Log(AuditEvent{Type: EventTokenClaimed, TokenID: "tok-7", SubscriptionID: "sub-1"})

	trail := decodeTrail(t, &buf)
	if len(trail) != 2 {
		t.Fatalf("trail has %d lines, want 2", len(trail))
	}
	if trail[0].Type != EventSubscriptionCancel || trail[0].CreatorNpub != "npub1creator" || !trail[0].Timestamp.Equal(at) {
		t.Errorf("first entry = %+v", trail[0])
	}
	if trail[1].TokenID != "tok-7" {
		t.Errorf("second entry = %+v", trail[1])
	}
	if len(seen) != 2 || seen[1] != EventTokenClaimed {
		t.Errorf("OnEvent saw %v", seen)
	}
	if logger.WriteErrors() != 0 {
		t.Errorf("WriteErrors = %d", logger.WriteErrors())
	}
}

func TestAuditLogger_Redacts(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.AddLiteral("0f1e2d3c4b5a")
	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf, Redactor: r})

	meta := map[string]string{"token": "cashuBo2FteBtodHRwczovL21pbnQuZXhhbXBsZS5jb20"}
	logger.Log(AuditEvent{Type: EventTokenClaimed, Detail: "signed with 0f1e2d3c4b5a", Metadata: meta})

	out := buf.String()
	if strings.Contains(out, "0f1e2d3c4b5a") || strings.Contains(out, "cashuB") {
		t.Errorf("secret in audit trail: %s", out)
	}
	if !strings.Contains(out, RedactPlaceholder) {
		t.Errorf("no placeholder in audit trail: %s", out)
	}
	if !strings.HasPrefix(meta["token"], "cashuB") {
		t.Error("caller metadata was modified")
	}
}

func TestAuditLogger_ConcurrentLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf})

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() { logger.Log(AuditEvent{Type: EventRedeemTrigger, Detail: "manual"}) })
	}
	wg.Wait()

	if got := len(decodeTrail(t, &buf)); got != 50 {
		t.Fatalf("trail has %d lines, want 50", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAuditLogger_WriteErrors(t *testing.T) {
	t.Parallel()

	logger := NewAuditLogger(AuditLoggerConfig{Writer: failingWriter{}})
	logger.Log(AuditEvent{Type: EventConfigReload})
	logger.Log(AuditEvent{Type: EventConfigReload})
	if got := logger.WriteErrors(); got != 2 {
		t.Errorf("WriteErrors = %d, want 2", got)
	}
}

func TestAuditLogger_Nil(t *testing.T) {
	t.Parallel()

	var logger *AuditLogger
	logger.Log(AuditEvent{Type: EventAuthFailure})
	if logger.WriteErrors() != 0 {
		t.Error("nil logger reported failures")
	}
}
