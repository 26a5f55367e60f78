package xferlog

import (
	"strings"
	"testing"
	"time"
)

func TestFormatLineIncoming(t *testing.T) {
	line := formatLine(Entry{
		RemoteHost: "127.0.0.1",
		Bytes:      1024,
		Filename:   "/REL/file.rar",
		Direction:  Incoming,
		User:       "alice",
		Duration:   2 * time.Second,
		Completed:  true,
	})

	fields := strings.Fields(line)
	if len(fields) < 14 {
		t.Fatalf("expected 14 whitespace-separated fields, got %d: %q", len(fields), line)
	}
	if fields[len(fields)-1] != "c" {
		t.Errorf("got completion status %q, want c", fields[len(fields)-1])
	}
	if !strings.Contains(line, "alice") {
		t.Errorf("expected username in line: %q", line)
	}
	if !strings.Contains(line, " i ") {
		t.Errorf("expected incoming direction marker: %q", line)
	}
}

func TestFormatLineIncompleteOutgoing(t *testing.T) {
	line := formatLine(Entry{
		RemoteHost: "10.0.0.1",
		Bytes:      0,
		Filename:   "/x",
		Direction:  Outgoing,
		User:       "bob",
		Completed:  false,
	})
	fields := strings.Fields(line)
	if fields[len(fields)-1] != "i" {
		t.Errorf("got completion status %q, want i", fields[len(fields)-1])
	}
}
