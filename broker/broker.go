package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/probelab/scrutiny/dbopen"
	"github.com/probelab/scrutiny/idgen"
)

// Schema holds the queue and status tables, idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS broker_queue (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	deliveries  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_broker_queue_visible ON broker_queue (queue, visible_at);

CREATE TABLE IF NOT EXISTS broker_jobs (
	id          TEXT PRIMARY KEY,
	jtype       TEXT NOT NULL,
	target      TEXT NOT NULL,
	purpose     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	attempt     INTEGER NOT NULL DEFAULT 1,
	progress    INTEGER NOT NULL DEFAULT 0,
	config      TEXT NOT NULL DEFAULT '{}',
	result      TEXT,
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
`

// Worker executes one claimed job and returns its result. A returned error
// (or panic) marks the job failed; it never propagates past the pool.
type Worker interface {
	Work(ctx context.Context, job *Job) (result any, err error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, job *Job) (any, error)

func (f WorkerFunc) Work(ctx context.Context, job *Job) (any, error) { return f(ctx, job) }

// Options configures broker behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts per pool. Default: 500ms.
	PollInterval time.Duration
	// MaxDeliveries caps queue redeliveries of one row (crash recovery)
	// before the job is failed. Default: 3.
	MaxDeliveries int
	// IDs generates job ids. Default: idgen.Default.
	IDs idgen.Generator
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 3
	}
	if o.IDs == nil {
		o.IDs = idgen.Default
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type pool struct {
	worker      Worker
	concurrency int
}

// Broker owns the job queue, the status table, and the per-type worker pools.
type Broker struct {
	db    *sql.DB
	opts  Options
	log   *slog.Logger
	pools map[JobType]pool
}

// New creates a Broker and ensures its tables exist.
func New(db *sql.DB, opts Options) (*Broker, error) {
	opts.defaults()
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("broker: schema: %w", err)
	}
	return &Broker{
		db:    db,
		opts:  opts,
		log:   opts.Logger,
		pools: map[JobType]pool{},
	}, nil
}

// Register attaches a worker pool to a job type. Must be called before Run.
func (b *Broker) Register(t JobType, concurrency int, w Worker) {
	if concurrency <= 0 {
		concurrency = 1
	}
	b.pools[t] = pool{worker: w, concurrency: concurrency}
}

// Submit queues a new job and returns its id. Delivery is FIFO per type;
// a full pool simply leaves the job queued.
func (b *Broker) Submit(ctx context.Context, t JobType, target, purpose string, config any) (string, error) {
	return b.submit(ctx, t, target, purpose, config, 1)
}

// Resubmit queues a fresh job carrying attempt+1 from a failed one. The
// original job record is never mutated.
func (b *Broker) Resubmit(ctx context.Context, failed *Job) (string, error) {
	if failed.Status != StatusFailed {
		return "", fmt.Errorf("broker: resubmit of %s job %s", failed.Status, failed.ID)
	}
	return b.submit(ctx, failed.Type, failed.Target, failed.Purpose, failed.Config, failed.Attempt+1)
}

func (b *Broker) submit(ctx context.Context, t JobType, target, purpose string, config any, attempt int) (string, error) {
	cfg, err := marshalConfig(config)
	if err != nil {
		return "", fmt.Errorf("broker: config: %w", err)
	}

	id := b.opts.IDs()
	now := time.Now().UnixMilli()

	err = dbopen.RunTx(ctx, b.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO broker_jobs (id, jtype, target, purpose, status, attempt, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'queued', ?, ?, ?, ?)`,
			id, string(t), target, purpose, attempt, cfg, now, now); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return b.publish(ctx, tx, id, t)
	})
	if err != nil {
		return "", err
	}

	b.log.Debug("broker: job submitted", "id", id, "type", t, "target", target, "attempt", attempt)
	return id, nil
}

func marshalConfig(config any) (string, error) {
	if config == nil {
		return "{}", nil
	}
	if raw, ok := config.(json.RawMessage); ok {
		if len(raw) == 0 {
			return "{}", nil
		}
		return string(raw), nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Get loads a job by id.
func (b *Broker) Get(ctx context.Context, id string) (*Job, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, jtype, target, purpose, status, attempt, progress, config, result, error, created_at, updated_at
		FROM broker_jobs WHERE id = ?`, id)

	var j Job
	var jtype, status, cfg string
	var result sql.NullString
	var creAt, updAt int64
	err := row.Scan(&j.ID, &jtype, &j.Target, &j.Purpose, &status, &j.Attempt,
		&j.Progress, &cfg, &result, &j.Error, &creAt, &updAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("broker: get: %w", err)
	}
	j.Type = JobType(jtype)
	j.Status = Status(status)
	j.Config = json.RawMessage(cfg)
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.CreatedAt = time.UnixMilli(creAt)
	j.UpdatedAt = time.UnixMilli(updAt)
	return &j, nil
}

// Progress returns the job's progress percentage.
func (b *Broker) Progress(ctx context.Context, id string) (int, error) {
	var p int
	err := b.db.QueryRowContext(ctx,
		`SELECT progress FROM broker_jobs WHERE id = ?`, id).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("broker: progress: %w", err)
	}
	return p, nil
}

// SetProgress updates a running job's progress. Workers call this between
// sub-steps; terminal jobs ignore the update.
func (b *Broker) SetProgress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_, err := dbopen.Exec(ctx, b.db, `
		UPDATE broker_jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		pct, time.Now().UnixMilli(), id)
	return err
}

// AwaitCompletion blocks until the job reaches a terminal status or timeout
// elapses. On timeout it returns ErrAwaitTimeout and leaves the job running;
// the caller treats that as a soft failure.
func (b *Broker) AwaitCompletion(ctx context.Context, id string, timeout time.Duration) (*Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := b.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrAwaitTimeout
		case <-ticker.C:
		}
	}
}

// Status transitions are monotonic: queued → running → {succeeded|failed}.
// The WHERE clauses enforce this at the SQL level, so a stale writer can
// never move a job backwards.

func (b *Broker) markRunning(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, b.db, `
		UPDATE broker_jobs SET status = 'running', updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		time.Now().UnixMilli(), id)
	return err
}

func (b *Broker) complete(ctx context.Context, id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	_, err = dbopen.Exec(ctx, b.db, `
		UPDATE broker_jobs SET status = 'succeeded', progress = 100, result = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(data), time.Now().UnixMilli(), id)
	return err
}

func (b *Broker) fail(ctx context.Context, id, errText string) error {
	if errText == "" {
		errText = "unknown error"
	}
	_, err := dbopen.Exec(ctx, b.db, `
		UPDATE broker_jobs SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		errText, time.Now().UnixMilli(), id)
	return err
}

// Run starts one pool per registered job type and blocks until ctx is
// cancelled, draining in-flight workers before returning.
func (b *Broker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for t, p := range b.pools {
		wg.Add(1)
		go func(t JobType, p pool) {
			defer wg.Done()
			b.runPool(ctx, t, p)
		}(t, p)
	}
	wg.Wait()
}

func (b *Broker) runPool(ctx context.Context, t JobType, p pool) {
	log := b.log.With("queue", t)
	log.Info("broker: pool started", "concurrency", p.concurrency)

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("broker: pool stopping, draining in-flight jobs")
			wg.Wait()
			log.Info("broker: pool stopped")
			return
		case <-ticker.C:
			claims, err := b.claim(ctx, t, p.concurrency)
			if err != nil {
				if ctx.Err() != nil {
					wg.Wait()
					return
				}
				log.Warn("broker: claim failed", "error", err)
				continue
			}

			for _, c := range claims {
				if c.deliveries > b.opts.MaxDeliveries {
					log.Warn("broker: delivery limit exceeded", "id", c.jobID, "deliveries", c.deliveries)
					_ = b.fail(ctx, c.jobID, fmt.Sprintf("delivery limit exceeded after %d deliveries", c.deliveries))
					_ = b.ack(ctx, c.jobID)
					continue
				}

				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					wg.Wait()
					return
				}

				wg.Add(1)
				go func(jobID string) {
					defer wg.Done()
					defer func() { <-sem }()
					b.runJob(ctx, p.worker, jobID, log)
				}(c.jobID)
			}
		}
	}
}

// runJob executes one claimed job. Worker errors and panics become a failed
// status; the queue row is always acked because failed jobs are resubmitted
// as new jobs, never redelivered.
func (b *Broker) runJob(ctx context.Context, w Worker, jobID string, log *slog.Logger) {
	// Ack with a background context so terminal bookkeeping survives
	// shutdown cancellation.
	defer func() { _ = b.ack(context.Background(), jobID) }()

	job, err := b.Get(ctx, jobID)
	if err != nil {
		log.Warn("broker: claimed job missing", "id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		return
	}

	if err := b.markRunning(ctx, jobID); err != nil {
		log.Warn("broker: mark running failed", "id", jobID, "error", err)
	}
	job.Status = StatusRunning

	// Keep the queue row invisible while the worker runs. Long jobs
	// outlive the visibility window otherwise and get redelivered mid-run.
	hbStop := make(chan struct{})
	defer close(hbStop)
	go b.heartbeat(jobID, hbStop)

	defer func() {
		if r := recover(); r != nil {
			log.Error("broker: worker panic", "id", jobID, "panic", r)
			b.log.Debug("broker: panic stack", "stack", string(debug.Stack()))
			_ = b.fail(context.Background(), jobID, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	start := time.Now()
	result, err := w.Work(ctx, job)
	if err != nil {
		log.Warn("broker: job failed", "id", jobID, "target", job.Target, "error", err, "elapsed", time.Since(start))
		_ = b.fail(context.Background(), jobID, err.Error())
		return
	}

	if err := b.complete(context.Background(), jobID, result); err != nil {
		log.Warn("broker: complete failed", "id", jobID, "error", err)
		return
	}
	log.Info("broker: job succeeded", "id", jobID, "target", job.Target, "elapsed", time.Since(start))
}
