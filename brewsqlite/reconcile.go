// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnresolvedTarget marks an update or delete whose drink was never created on the server
var ErrUnresolvedTarget = errors.New("target drink was never created on the server")

// Connectivity reports the current network view; *Monitor implements it
type Connectivity interface {
	State() ConnectivityState
}

// Rejection is a queued operation dropped because the server refused it for good
type Rejection struct {
	Op  PendingOperation
	Err error
}

// ReconcileResult summarizes one reconciliation pass
type ReconcileResult struct {
	Skipped    bool                // no pass ran: guard held, offline, unreachable or empty queue
	Created    int                 // adds applied
	Updated    int                 // updates applied
	Deleted    int                 // deletes applied, including ones the server no longer knew
	Mapping    map[DrinkID]DrinkID // temporary id -> server id for this pass
	Rejections []Rejection
	Remaining  int // operations left queued after the pass
}

// Reconcile replays a shop's queue against the server.
//
// Adds are replayed first, then updates, then deletes. Updates and deletes
// aimed at temporary ids are rewritten to the server ids the adds produced,
// and dropped when their add never made it. A retryable failure stops the
// pass and leaves exactly the unapplied operations queued, already rewritten
// to server ids where known. A permanent 4xx drops only the offending
// operation, which is reported in Rejections.
func (c *Client) Reconcile(ctx context.Context, shopID string, conn Connectivity) (*ReconcileResult, error) {
	release, err := c.acquirePass()
	if err != nil {
		if errors.Is(err, ErrReconcileInProgress) {
			return &ReconcileResult{Skipped: true}, err
		}
		return nil, err
	}
	defer release()

	if conn != nil && !conn.State().Ready() {
		return &ReconcileResult{Skipped: true}, nil
	}

	ops, maxSeq, err := c.beginPass(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending operations: %w", err)
	}
	if len(ops) == 0 {
		return &ReconcileResult{Skipped: true}, nil
	}

	p := &replayPass{
		client:  c,
		shopID:  shopID,
		ops:     ops,
		applied: make(map[int64]bool),
		dropped: make(map[int64]bool),
		result:  &ReconcileResult{Mapping: make(map[DrinkID]DrinkID)},
	}
	c.logger.Info("Reconciliation started", "shop_id", shopID, "pending", len(ops))

	failure := p.run(ctx)

	// bookkeeping must land even when ctx was what stopped the pass
	bctx := context.WithoutCancel(ctx)

	if failure != nil {
		remainder := p.remainder()
		if err := c.finishPass(bctx, shopID, maxSeq, remainder, p.result.Mapping); err != nil {
			return p.result, fmt.Errorf("failed to persist remaining operations: %w (replay error: %v)", err, failure)
		}
		if err := c.RemapIDs(bctx, shopID, p.result.Mapping); err != nil {
			c.logger.Warn("Failed to remap cached ids", "shop_id", shopID, "error", err)
		}
		p.result.Remaining = len(remainder)
		if n, err := c.Len(bctx, shopID); err == nil {
			p.result.Remaining = n
		}
		c.logger.Warn("Reconciliation aborted",
			"shop_id", shopID,
			"created", p.result.Created,
			"updated", p.result.Updated,
			"deleted", p.result.Deleted,
			"rejected", len(p.result.Rejections),
			"remaining", p.result.Remaining,
			"error", failure)
		return p.result, fmt.Errorf("reconcile shop %s: %w", shopID, failure)
	}

	if err := c.finishPass(bctx, shopID, maxSeq, nil, p.result.Mapping); err != nil {
		return p.result, fmt.Errorf("failed to clear applied operations: %w", err)
	}
	if err := c.refreshCache(bctx, shopID); err != nil {
		c.logger.Warn("Failed to refresh drinks after reconciliation", "shop_id", shopID, "error", err)
		if err := c.RemapIDs(bctx, shopID, p.result.Mapping); err != nil {
			c.logger.Warn("Failed to remap cached ids", "shop_id", shopID, "error", err)
		}
	}
	if n, err := c.Len(bctx, shopID); err == nil {
		p.result.Remaining = n
	}

	c.logger.Info("Reconciliation complete",
		"shop_id", shopID,
		"created", p.result.Created,
		"updated", p.result.Updated,
		"deleted", p.result.Deleted,
		"rejected", len(p.result.Rejections))
	return p.result, nil
}

// refreshCache re-fetches the shop list and caches it with any still-queued ops overlaid
func (c *Client) refreshCache(ctx context.Context, shopID string) error {
	rctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	drinks, err := c.ListDrinks(rctx, shopID)
	if err != nil {
		return err
	}
	pending, err := c.DequeueAll(ctx, shopID)
	if err != nil {
		return err
	}
	return c.UpdateCache(ctx, shopID, overlayPending(drinks, pending))
}

type replayPass struct {
	client  *Client
	shopID  string
	ops     []PendingOperation
	applied map[int64]bool
	dropped map[int64]bool
	result  *ReconcileResult
}

func (p *replayPass) run(ctx context.Context) error {
	var adds, updates, deletes []PendingOperation
	for _, op := range p.ops {
		switch op.Type {
		case OpAdd:
			adds = append(adds, op)
		case OpUpdate:
			updates = append(updates, op)
		case OpDelete:
			deletes = append(deletes, op)
		}
	}

	for _, op := range adds {
		if err := ctx.Err(); err != nil {
			return err
		}
		var serverID DrinkID
		err := p.call(ctx, func(rctx context.Context) error {
			var err error
			serverID, err = p.client.CreateDrink(rctx, p.shopID, *op.Data)
			return err
		})
		if err != nil {
			if p.reject(op, err) {
				continue
			}
			return err
		}
		p.result.Mapping[op.ID] = serverID
		p.applied[op.Seq] = true
		p.result.Created++
	}

	updates = p.resolveAll(updates)
	deletes = p.resolveAll(deletes)

	for _, op := range updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.call(ctx, func(rctx context.Context) error {
			return p.client.UpdateDrink(rctx, p.shopID, op.ID, *op.Data)
		})
		if err != nil {
			if p.reject(op, err) {
				continue
			}
			return err
		}
		p.applied[op.Seq] = true
		p.result.Updated++
	}

	for _, op := range deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.call(ctx, func(rctx context.Context) error {
			return p.client.DeleteDrink(rctx, p.shopID, op.ID)
		})
		if err != nil && !IsNotFound(err) {
			if p.reject(op, err) {
				continue
			}
			return err
		}
		p.applied[op.Seq] = true
		p.result.Deleted++
	}
	return nil
}

func (p *replayPass) call(ctx context.Context, fn func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, p.client.config.RequestTimeout)
	defer cancel()
	return fn(rctx)
}

// reject drops op when err is permanent and reports whether it did
func (p *replayPass) reject(op PendingOperation, err error) bool {
	if !IsPermanent(err) && !errors.Is(err, ErrMissingServerID) {
		return false
	}
	p.drop(op, err)
	return true
}

func (p *replayPass) drop(op PendingOperation, err error) {
	p.dropped[op.Seq] = true
	p.result.Rejections = append(p.result.Rejections, Rejection{Op: op, Err: err})
	p.client.logger.Warn("Dropping rejected operation",
		"shop_id", p.shopID,
		"op", op.Type,
		"drink_id", op.ID,
		"error", err)
}

// resolveAll rewrites temporary targets through the pass mapping and drops the
// ones that cannot be resolved, so no request ever carries a temporary id
func (p *replayPass) resolveAll(ops []PendingOperation) []PendingOperation {
	out := make([]PendingOperation, 0, len(ops))
	for _, op := range ops {
		resolved, ok := p.resolve(op)
		if !ok {
			p.drop(op, ErrUnresolvedTarget)
			continue
		}
		out = append(out, resolved)
	}
	return out
}

func (p *replayPass) resolve(op PendingOperation) (PendingOperation, bool) {
	if op.Local {
		serverID, ok := p.result.Mapping[op.ID]
		if !ok {
			return op, false
		}
		op = retarget(op, serverID)
	}
	if _, ok := op.ID.ServerID(); !ok {
		return op, false
	}
	return op, true
}

// remainder is every operation neither applied nor dropped, in queue order,
// with targets rewritten where this pass learned the server id
func (p *replayPass) remainder() []PendingOperation {
	var out []PendingOperation
	for _, op := range p.ops {
		if p.applied[op.Seq] || p.dropped[op.Seq] {
			continue
		}
		if op.Local {
			if serverID, ok := p.result.Mapping[op.ID]; ok {
				op = retarget(op, serverID)
			}
		}
		out = append(out, op)
	}
	return out
}

func retarget(op PendingOperation, serverID DrinkID) PendingOperation {
	op.ID = serverID
	op.Local = false
	if op.Data != nil {
		d := *op.Data
		d.ID = serverID
		op.Data = &d
	}
	return op
}
