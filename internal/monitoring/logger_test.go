package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Prefixed("tracking")
	logf("state %s -> %s", "idle", "tracking")

	// replacing the logger after Prefixed was built must still be honoured
	var late []string
	SetLogger(func(format string, v ...interface{}) {
		late = append(late, fmt.Sprintf(format, v...))
	})
	logf("stopped")

	if len(lines) != 1 || lines[0] != "tracking: state idle -> tracking" {
		t.Errorf("lines = %q", lines)
	}
	if len(late) != 1 || late[0] != "tracking: stopped" {
		t.Errorf("late = %q", late)
	}
}
