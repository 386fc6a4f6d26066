package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/downtime.report/internal/db"
	"github.com/banshee-data/downtime.report/internal/monitoring"
)

func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("listen default = %q, want :8080", *listen)
	}
	if *timeout != 5*time.Minute {
		t.Errorf("timeout default = %s, want 5m", *timeout)
	}
	if *maxConcurrent != 1 {
		t.Errorf("max-concurrent default = %d, want 1", *maxConcurrent)
	}
	if *maxBody != 64<<20 {
		t.Errorf("max-body default = %d, want %d", *maxBody, 64<<20)
	}
	if *showVersion {
		t.Error("version default = true, want false")
	}
}

func TestLoadConfig(t *testing.T) {
	// No explicit path and no defaults file in the package directory.
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetCalls() != 30 {
		t.Errorf("GetCalls() = %d, want 30", cfg.GetCalls())
	}

	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"calls": 12, "initial_points": 3}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(%s): %v", path, err)
	}
	if cfg.GetCalls() != 12 {
		t.Errorf("GetCalls() = %d, want 12", cfg.GetCalls())
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestPruneJournal(t *testing.T) {
	defer monitoring.Quiet()()
	journal, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer journal.Close()

	ctx := context.Background()
	old := &db.Run{Kind: db.KindPredict, Status: "OK", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &db.Run{Kind: db.KindPredict, Status: "OK"}
	for _, r := range []*db.Run{old, fresh} {
		if err := journal.InsertRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pruneJournal(cctx, journal, 24*time.Hour, time.Hour)
		close(done)
	}()
	// The first prune runs immediately.
	deadline := time.Now().Add(5 * time.Second)
	for {
		runs, err := journal.ListRuns(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(runs) == 1 {
			if runs[0].ID != fresh.ID {
				t.Errorf("kept run %s, want %s", runs[0].ID, fresh.ID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("old run was not pruned, %d runs remain", len(runs))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
