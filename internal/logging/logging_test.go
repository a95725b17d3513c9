package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestAllowlistOrdersAndDropsUnknownKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	Allowlist(logger, map[string]string{
		"session_id": "s-1",
		"event":      "session_ended",
		"pin":        "123456",
		"reason":     "host ended",
	})

	line := strings.TrimSpace(buf.String())
	if line != "event=session_ended session_id=s-1 reason=host_ended" {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestAllowlistSkipsEmptyLines(t *testing.T) {
	var buf bytes.Buffer
	Allowlist(log.New(&buf, "", 0), map[string]string{"clipboard": "secret"})
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged, got %q", buf.String())
	}
	Allowlist(nil, map[string]string{"event": "x"})
}
