// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const queuedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Enqueue records op in its shop's queue, compacting against what is already queued:
//   - deleting a local drink removes every queued op for it and records nothing
//   - updating a local drink folds the new values into its queued add
//   - updating a server drink replaces an earlier queued update in place
//   - deleting a server drink drops its queued updates and is recorded once
//
// Operations snapshotted by a reconciliation pass in flight are never
// rewritten; the new op is appended after them instead.
func (c *Client) Enqueue(ctx context.Context, op PendingOperation) error {
	if op.ShopID == "" {
		return fmt.Errorf("pending operation has no shop id")
	}
	if op.ID == "" {
		return fmt.Errorf("pending %s operation has no drink id", op.Type)
	}
	switch op.Type {
	case OpAdd, OpUpdate:
		if op.Data == nil {
			return fmt.Errorf("pending %s operation for %s has no data", op.Type, op.ID)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown pending operation type %q", op.Type)
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = c.config.Now()
	}

	return c.withWriteTx(ctx, func(tx *sql.Tx) error {
		return compactAndAppendTx(ctx, tx, op)
	})
}

// withWriteTx runs fn in a transaction under the client's write mutex
func (c *Client) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pending operations: %w", err)
	}
	return nil
}

func compactAndAppendTx(ctx context.Context, tx *sql.Tx, op PendingOperation) error {
	fence, err := fenceTx(ctx, tx, op.ShopID)
	if err != nil {
		return err
	}

	switch {
	case op.Type == OpDelete && op.Local:
		if _, err := tx.ExecContext(ctx, `DELETE FROM _pending_ops WHERE shop_id = ? AND drink_id = ? AND seq > ?`,
			op.ShopID, string(op.ID), fence); err != nil {
			return fmt.Errorf("failed to cancel queued ops for %s: %w", op.ID, err)
		}
		var frozen int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM _pending_ops WHERE shop_id = ? AND drink_id = ? AND seq <= ?`,
			op.ShopID, string(op.ID), fence).Scan(&frozen); err != nil {
			return fmt.Errorf("failed to look up queued ops for %s: %w", op.ID, err)
		}
		if frozen == 0 {
			return nil
		}
		// the add is being replayed; delete whatever id it ends up with

	case op.Type == OpUpdate && op.Local:
		seq, err := lastQueuedSeqTx(ctx, tx, op.ShopID, OpAdd, op.ID, fence)
		if err != nil {
			return err
		}
		if seq > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM _pending_ops WHERE shop_id = ? AND drink_id = ? AND op = 'update' AND seq > ?`,
				op.ShopID, string(op.ID), fence); err != nil {
				return fmt.Errorf("failed to drop queued updates for %s: %w", op.ID, err)
			}
			return replacePayloadTx(ctx, tx, seq, op.Data)
		}
		return replaceOrAppendUpdateTx(ctx, tx, op, fence)

	case op.Type == OpUpdate:
		return replaceOrAppendUpdateTx(ctx, tx, op, fence)

	case op.Type == OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM _pending_ops WHERE shop_id = ? AND drink_id = ? AND op = 'update' AND seq > ?`,
			op.ShopID, string(op.ID), fence); err != nil {
			return fmt.Errorf("failed to drop queued updates for %s: %w", op.ID, err)
		}
		seq, err := lastQueuedSeqTx(ctx, tx, op.ShopID, OpDelete, op.ID, 0)
		if err != nil {
			return err
		}
		if seq > 0 {
			return nil
		}
	}

	op.Seq = 0
	return insertOpTx(ctx, tx, op)
}

// fenceTx returns the highest seq held by a pass in flight for the shop, or 0
func fenceTx(ctx context.Context, tx *sql.Tx, shopID string) (int64, error) {
	var fence int64
	err := tx.QueryRowContext(ctx, `SELECT max_seq FROM _replay_fence WHERE shop_id = ?`, shopID).Scan(&fence)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read replay fence: %w", err)
	}
	return fence, nil
}

func replaceOrAppendUpdateTx(ctx context.Context, tx *sql.Tx, op PendingOperation, fence int64) error {
	seq, err := lastQueuedSeqTx(ctx, tx, op.ShopID, OpUpdate, op.ID, fence)
	if err != nil {
		return err
	}
	if seq > 0 {
		return replacePayloadTx(ctx, tx, seq, op.Data)
	}
	op.Seq = 0
	return insertOpTx(ctx, tx, op)
}

// lastQueuedSeqTx finds the newest queued op of typ for id with seq above after
func lastQueuedSeqTx(ctx context.Context, tx *sql.Tx, shopID string, typ OpType, id DrinkID, after int64) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		SELECT seq FROM _pending_ops
		WHERE shop_id = ? AND op = ? AND drink_id = ? AND seq > ?
		ORDER BY seq DESC LIMIT 1`,
		shopID, string(typ), string(id), after).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up queued %s for %s: %w", typ, id, err)
	}
	return seq, nil
}

func replacePayloadTx(ctx context.Context, tx *sql.Tx, seq int64, d *Drink) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal drink %s: %w", d.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _pending_ops SET payload = ? WHERE seq = ?`, string(payload), seq); err != nil {
		return fmt.Errorf("failed to replace queued payload: %w", err)
	}
	return nil
}

func insertOpTx(ctx context.Context, tx *sql.Tx, op PendingOperation) error {
	var payload sql.NullString
	if op.Data != nil {
		b, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal drink %s: %w", op.ID, err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	local := 0
	if op.Local {
		local = 1
	}
	queuedAt := op.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _pending_ops (seq, shop_id, op, drink_id, local, payload, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sql.NullInt64{Int64: op.Seq, Valid: op.Seq > 0},
		op.ShopID, string(op.Type), string(op.ID), local, payload,
		queuedAt.UTC().Format(queuedAtLayout))
	if err != nil {
		return fmt.Errorf("failed to queue %s for %s: %w", op.Type, op.ID, err)
	}
	return nil
}

// DequeueAll returns a shop's queued operations in order without removing them
func (c *Client) DequeueAll(ctx context.Context, shopID string) ([]PendingOperation, error) {
	return queryOps(ctx, c.DB, shopID, -1)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryOps reads a shop's operations with seq <= maxSeq (all when maxSeq < 0)
func queryOps(ctx context.Context, q queryer, shopID string, maxSeq int64) ([]PendingOperation, error) {
	query := `SELECT seq, op, drink_id, local, payload, queued_at FROM _pending_ops WHERE shop_id = ?`
	args := []any{shopID}
	if maxSeq >= 0 {
		query += ` AND seq <= ?`
		args = append(args, maxSeq)
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []PendingOperation
	for rows.Next() {
		var (
			op       PendingOperation
			typ, id  string
			local    int
			payload  sql.NullString
			queuedAt string
		)
		if err := rows.Scan(&op.Seq, &typ, &id, &local, &payload, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		op.ShopID = shopID
		op.Type = OpType(typ)
		op.ID = DrinkID(id)
		op.Local = local == 1
		if payload.Valid {
			var d Drink
			if err := json.Unmarshal([]byte(payload.String), &d); err != nil {
				return nil, fmt.Errorf("%w: pending %s %d: %v", ErrCorruptCache, typ, op.Seq, err)
			}
			d.ID = op.ID
			op.Data = &d
		}
		if t, err := time.Parse(queuedAtLayout, queuedAt); err == nil {
			op.QueuedAt = t
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}
	return ops, nil
}

// Persist replaces a shop's queue with ops, in the given order
func (c *Client) Persist(ctx context.Context, shopID string, ops []PendingOperation) error {
	return c.replaceQueue(ctx, shopID, ops)
}

// Clear empties a shop's queue
func (c *Client) Clear(ctx context.Context, shopID string) error {
	return c.replaceQueue(ctx, shopID, nil)
}

// Len returns the number of queued operations for a shop
func (c *Client) Len(ctx context.Context, shopID string) (int, error) {
	var n int
	if err := c.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM _pending_ops WHERE shop_id = ?`, shopID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

// replaceQueue swaps the whole queue of a shop for ops, renumbered in order
func (c *Client) replaceQueue(ctx context.Context, shopID string, ops []PendingOperation) error {
	return c.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM _pending_ops WHERE shop_id = ?`, shopID); err != nil {
			return fmt.Errorf("failed to clear pending operations: %w", err)
		}
		for _, op := range ops {
			op.ShopID = shopID
			op.Seq = 0
			if err := insertOpTx(ctx, tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

// beginPass snapshots a shop's queue for reconciliation and fences it, so
// Enqueue appends instead of rewriting anything the pass is replaying.
// It returns the snapshot and the fence seq; an empty queue sets no fence.
func (c *Client) beginPass(ctx context.Context, shopID string) ([]PendingOperation, int64, error) {
	var (
		ops    []PendingOperation
		maxSeq int64
	)
	err := c.withWriteTx(ctx, func(tx *sql.Tx) error {
		// write first so the transaction holds the lock before it reads
		if _, err := tx.ExecContext(ctx, `DELETE FROM _replay_fence WHERE shop_id = ?`, shopID); err != nil {
			return fmt.Errorf("failed to reset replay fence: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM _pending_ops WHERE shop_id = ?`,
			shopID).Scan(&maxSeq); err != nil {
			return fmt.Errorf("failed to read queue head: %w", err)
		}
		if maxSeq == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO _replay_fence (shop_id, max_seq) VALUES (?, ?)`,
			shopID, maxSeq); err != nil {
			return fmt.Errorf("failed to set replay fence: %w", err)
		}
		var err error
		ops, err = queryOps(ctx, tx, shopID, maxSeq)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return ops, maxSeq, nil
}

// finishPass replaces the fenced operations with remainder (which keep their
// seq), rewrites local targets queued during the pass through mapping, and
// lifts the fence.
func (c *Client) finishPass(ctx context.Context, shopID string, maxSeq int64, remainder []PendingOperation, mapping map[DrinkID]DrinkID) error {
	return c.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM _pending_ops WHERE shop_id = ? AND seq <= ?`, shopID, maxSeq); err != nil {
			return fmt.Errorf("failed to clear replayed operations: %w", err)
		}
		for _, op := range remainder {
			op.ShopID = shopID
			if err := insertOpTx(ctx, tx, op); err != nil {
				return err
			}
		}
		for tempID, serverID := range mapping {
			if _, err := tx.ExecContext(ctx, `
				UPDATE _pending_ops SET drink_id = ?, local = 0
				WHERE shop_id = ? AND seq > ? AND local = 1 AND drink_id = ?`,
				string(serverID), shopID, maxSeq, string(tempID)); err != nil {
				return fmt.Errorf("failed to retarget queued ops for %s: %w", tempID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM _replay_fence WHERE shop_id = ?`, shopID); err != nil {
			return fmt.Errorf("failed to lift replay fence: %w", err)
		}
		return nil
	})
}
