package watchdog

import (
	"testing"
	"time"
)

func TestReconnectRequiredAfterWatchPeriod(t *testing.T) {
	w := New(10*time.Millisecond, "")
	fake := time.Now()
	w.now = func() time.Time { return fake }
	w.Reset()

	if w.ReconnectRequired() {
		t.Fatal("should not need reconnect right after reset")
	}
	fake = fake.Add(20 * time.Millisecond)
	w.Inspect(false)
	if !w.ReconnectRequired() {
		t.Fatal("expected reconnect required after watch period elapsed")
	}
}

func TestInspectSuccessResets(t *testing.T) {
	w := New(5*time.Millisecond, "")
	fake := time.Now()
	w.now = func() time.Time { return fake }
	w.Reset()
	fake = fake.Add(10 * time.Millisecond)
	w.Inspect(true)
	if w.ReconnectRequired() {
		t.Fatal("successful command should reset watchdog, no reconnect needed")
	}
}

func TestDeviceRemovedForcesReconnect(t *testing.T) {
	w := New(time.Hour, "/nonexistent/path/for/test")
	fake := time.Now()
	w.now = func() time.Time { return fake }
	w.Reset()
	w.Inspect(false)
	if !w.DeviceRemoved() {
		t.Fatal("expected device removal detected for nonexistent path")
	}
	if !w.ReconnectRequired() {
		t.Fatal("device removal should force reconnect regardless of watch period")
	}
}
