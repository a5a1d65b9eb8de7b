package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/report-viewer/internal/models"
)

const ctrPack = `
rules:
  - id: ctr
    keywords: ["ctr"]
    text: "CTR slipped."
    primary: "Audit titles"
`

func TestRuleSetReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(ctrPack), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rs, err := NewRuleSet(path, nil)
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}
	anomaly := models.Anomaly{Metric: "CTR"}
	if got := rs.Current().SuggestActions(anomaly).Primary; got != "Audit titles" {
		t.Fatalf("expected rule pack action, got %q", got)
	}

	if err := os.WriteFile(path, []byte("rules: ["), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if err := rs.Reload(); err == nil {
		t.Fatalf("expected reload error for invalid yaml")
	}
	if got := rs.Current().SuggestActions(anomaly).Primary; got != "Audit titles" {
		t.Fatalf("failed reload must keep previous rules, got %q", got)
	}
}

func TestRuleSetWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rs, err := NewRuleSet(path, nil)
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rs.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	}()

	anomaly := models.Anomaly{Metric: "CTR"}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// rewrite until the watcher is registered and sees the change
		if err := os.WriteFile(path, []byte(ctrPack), 0o600); err != nil {
			t.Fatalf("write rules: %v", err)
		}
		if rs.Current().SuggestActions(anomaly).Primary == "Audit titles" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("rule pack change was not picked up")
}

func TestInterpreterIsItsOwnSource(t *testing.T) {
	var nilInterp *Interpreter
	if nilInterp.Current() == nil {
		t.Fatalf("nil interpreter should fall back to the built-in table")
	}
	interp := DefaultInterpreter()
	if interp.Current() != interp {
		t.Fatalf("Current should return the receiver")
	}
}
