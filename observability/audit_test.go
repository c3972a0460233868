package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/probelab/scrutiny/dbopen"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	trail := NewTrail(db, 16, nil)
	t.Cleanup(func() { trail.Close() })
	return trail
}

func TestRecordAndQueryByRun(t *testing.T) {
	trail := newTestTrail(t)

	trail.Record("run-1", "orchestrator", "plan_created",
		map[string]int{"iteration": 1}, map[string]int{"tool_calls": 2}, nil, 40*time.Millisecond)
	trail.Record("run-1", "broker", "job_terminal",
		map[string]string{"job_id": "j1"}, nil, errors.New("timeout"), time.Second)
	trail.Record("run-2", "orchestrator", "plan_created", nil, nil, nil, 0)

	trail.Close()

	entries, err := trail.ByRun(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("ByRun: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Operation != "plan_created" {
		t.Errorf("got first operation %q, want plan_created", entries[0].Operation)
	}
	if entries[0].Status != "success" {
		t.Errorf("got status %q, want success", entries[0].Status)
	}
	if entries[1].Status != "error" || entries[1].ErrorMsg != "timeout" {
		t.Errorf("error entry not recorded: %+v", entries[1])
	}
	if entries[1].DurationMs != 1000 {
		t.Errorf("got duration %d, want 1000", entries[1].DurationMs)
	}
}

func TestCleanup(t *testing.T) {
	trail := newTestTrail(t)

	trail.Record("run-old", "orchestrator", "run_complete", nil, nil, nil, 0)
	trail.Close()

	// nothing is old enough yet
	n, err := trail.Cleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d deleted, want 0", n)
	}

	n, err = trail.Cleanup(context.Background(), -time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d deleted, want 1", n)
	}
}
