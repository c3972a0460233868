// Package observability persists the business-event audit trail of a
// research run: every plan the planner produced, every job reaching a
// terminal state, and every run-level transition. Entries are buffered and
// flushed in batches so the hot path never blocks on SQLite.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/probelab/scrutiny/idgen"
)

// Schema is the audit trail DDL, applied through dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_trail (
	entry_id   TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	component  TEXT NOT NULL,
	operation  TEXT NOT NULL,
	params     TEXT NOT NULL DEFAULT '',
	result     TEXT NOT NULL DEFAULT '',
	error_msg  TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_trail(run_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_component ON audit_trail(component, ts);
`

// Entry is one recorded business event.
type Entry struct {
	EntryID    string
	Timestamp  time.Time
	RunID      string
	Component  string // "orchestrator", "broker", "planner"
	Operation  string // "plan_created", "job_terminal", "run_complete", ...
	Params     string // JSON
	Result     string // JSON
	ErrorMsg   string
	DurationMs int64
	Status     string // "success" or "error"
}

// Trail is the audit logger. Safe for concurrent use.
type Trail struct {
	db    *sql.DB
	newID idgen.Generator
	log   *slog.Logger
	ch    chan *Entry
	stop  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// NewTrail starts the flush goroutine. bufferSize 256 is plenty for a
// single-run process.
func NewTrail(db *sql.DB, bufferSize int, logger *slog.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Trail{
		db:    db,
		newID: idgen.Prefixed("audit_", idgen.Default),
		log:   logger,
		ch:    make(chan *Entry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go t.flushLoop()
	return t
}

// Record builds an entry from an operation's params, result, and error and
// queues it. Falls back to a synchronous insert when the buffer is full.
func (t *Trail) Record(runID, component, operation string, params, result any, opErr error, duration time.Duration) {
	e := &Entry{
		EntryID:    t.newID(),
		Timestamp:  time.Now(),
		RunID:      runID,
		Component:  component,
		Operation:  operation,
		DurationMs: duration.Milliseconds(),
		Status:     "success",
	}
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			e.Params = string(b)
		}
	}
	if opErr != nil {
		e.Status = "error"
		e.ErrorMsg = opErr.Error()
	} else if result != nil {
		if b, err := json.Marshal(result); err == nil {
			e.Result = string(b)
		}
	}

	select {
	case t.ch <- e:
	default:
		t.log.Warn("observability: audit buffer full, sync insert", "component", component)
		if err := t.insert(context.Background(), e); err != nil {
			t.log.Error("observability: sync insert failed", "error", err)
		}
	}
}

// ByRun returns a run's entries oldest first.
func (t *Trail) ByRun(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT entry_id, ts, run_id, component, operation, params, result, error_msg, duration_ms, status
		FROM audit_trail WHERE run_id = ? ORDER BY ts ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.EntryID, &ts, &e.RunID, &e.Component, &e.Operation,
			&e.Params, &e.Result, &e.ErrorMsg, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retention.
func (t *Trail) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := t.db.ExecContext(ctx, "DELETE FROM audit_trail WHERE ts < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit trail: %w", err)
	}
	return res.RowsAffected()
}

// Close drains pending entries and stops the flush goroutine. Safe to call
// more than once.
func (t *Trail) Close() error {
	t.closeOnce.Do(func() { close(t.stop) })
	<-t.done
	return nil
}

func (t *Trail) flushLoop() {
	defer close(t.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			t.log.Error("observability: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := insertTx(ctx, tx, e); err != nil {
				t.log.Error("observability: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			t.log.Error("observability: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-t.stop:
			for {
				select {
				case e := <-t.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-t.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertStmt = `INSERT INTO audit_trail
	(entry_id, ts, run_id, component, operation, params, result, error_msg, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?)`

func (t *Trail) insert(ctx context.Context, e *Entry) error {
	_, err := t.db.ExecContext(ctx, insertStmt,
		e.EntryID, e.Timestamp.UnixMilli(), e.RunID, e.Component, e.Operation,
		e.Params, e.Result, e.ErrorMsg, e.DurationMs, e.Status)
	return err
}

func insertTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, insertStmt,
		e.EntryID, e.Timestamp.UnixMilli(), e.RunID, e.Component, e.Operation,
		e.Params, e.Result, e.ErrorMsg, e.DurationMs, e.Status)
	return err
}
