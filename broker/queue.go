package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// claimed is a queue row handed to a worker pool.
type claimed struct {
	jobID      string
	deliveries int
}

// publish inserts an immediately visible queue row for a job.
func (b *Broker) publish(ctx context.Context, tx *sql.Tx, jobID string, queue JobType) error {
	now := time.Now().UnixMilli()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO broker_queue (id, queue, visible_at, created_at) VALUES (?,?,?,?)`,
		jobID, string(queue), now, now,
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// claim atomically picks up to n oldest visible rows from a queue and makes
// them invisible for the visibility duration. Returns an empty slice when
// nothing is available.
func (b *Broker) claim(ctx context.Context, queue JobType, n int) ([]claimed, error) {
	now := time.Now()
	hideUntil := now.Add(b.opts.Visibility).UnixMilli()

	rows, err := b.db.QueryContext(ctx, `
		UPDATE broker_queue
		SET visible_at = ?, deliveries = deliveries + 1
		WHERE id IN (
			SELECT id FROM broker_queue
			WHERE queue = ? AND visible_at <= ?
			ORDER BY created_at ASC
			LIMIT ?
		)
		RETURNING id, deliveries`,
		hideUntil, string(queue), now.UnixMilli(), n,
	)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer rows.Close()

	var out []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.jobID, &c.deliveries); err != nil {
			return nil, fmt.Errorf("claim scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ack removes a queue row after its job reached a terminal status.
func (b *Broker) ack(ctx context.Context, jobID string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM broker_queue WHERE id = ?`, jobID)
	return err
}

// extend pushes the visibility timeout forward for a long-running job
// (heartbeat pattern).
func (b *Broker) extend(ctx context.Context, jobID string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := b.db.ExecContext(ctx,
		`UPDATE broker_queue SET visible_at = ? WHERE id = ?`, hideUntil, jobID)
	return err
}

// heartbeat extends visibility every half-window until stop closes.
func (b *Broker) heartbeat(jobID string, stop <-chan struct{}) {
	tick := time.NewTicker(b.opts.Visibility / 2)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if err := b.extend(context.Background(), jobID, b.opts.Visibility); err != nil {
				b.log.Warn("broker: heartbeat failed", "id", jobID, "error", err)
			}
		}
	}
}

// QueueDepth returns the number of rows (visible and claimed) in one queue.
func (b *Broker) QueueDepth(ctx context.Context, queue JobType) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM broker_queue WHERE queue = ?`, string(queue)).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
