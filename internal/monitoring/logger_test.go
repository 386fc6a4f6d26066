package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("bic k=%d", 2)
	if got != "bic k=2" {
		t.Errorf("expected custom logger output %q, got %q", "bic k=2", got)
	}

	got = ""
	SetLogger(nil)
	Logf("ignored")
	if got != "" {
		t.Errorf("no-op logger should not have triggered callback, got %q", got)
	}
}

func TestQuiet_RestoresPrevious(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	restore := Quiet()
	Logf("muted")
	if calls != 0 {
		t.Fatalf("expected muted logger, got %d calls", calls)
	}

	restore()
	Logf("audible")
	if calls != 1 {
		t.Errorf("expected restored logger to be called once, got %d", calls)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}
