package debug

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMutex_TracesAcquireAndRelease(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	SetEnabled(true)
	defer SetEnabled(false)

	m := NewMutex("test")
	m.Lock()
	m.Unlock()

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 trace lines, got %d", len(entries))
	}
	if entries[0].Message != "acquire" || entries[1].Message != "release" {
		t.Fatalf("unexpected messages %q, %q", entries[0].Message, entries[1].Message)
	}
	fields := entries[0].ContextMap()
	if fields["name"] != "test" {
		t.Fatalf("lock name %v, want test", fields["name"])
	}
	if at, _ := fields["at"].(string); !strings.HasPrefix(at, "debug/locktrace_test.go:") {
		t.Fatalf("caller %q does not point at the test", at)
	}
}

func TestMutex_Disabled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	SetEnabled(false)

	var m Mutex
	m.Lock()
	m.Unlock()

	var rw RWMutex
	rw.RLock()
	rw.RUnlock()

	if n := logs.Len(); n != 0 {
		t.Fatalf("expected no trace output, got %d lines", n)
	}
}
