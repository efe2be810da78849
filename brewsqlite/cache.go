// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptCache is returned when a cached snapshot cannot be decoded
var ErrCorruptCache = errors.New("corrupt drink cache")

// UpdateCache overwrites the cached snapshot of a shop, keeping order and sync status
func (c *Client) UpdateCache(ctx context.Context, shopID string, drinks []Drink) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := writeSnapshotTx(ctx, tx, shopID, drinks); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache: %w", err)
	}
	return nil
}

func writeSnapshotTx(ctx context.Context, tx *sql.Tx, shopID string, drinks []Drink) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM _drink_cache WHERE shop_id = ?`, shopID); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	for i, d := range drinks {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal drink %s: %w", d.ID, err)
		}
		status := d.Status
		if status == "" {
			status = StatusSynced
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO _drink_cache (shop_id, position, drink_id, sync_status, payload)
			VALUES (?, ?, ?, ?, ?)`,
			shopID, i, string(d.ID), string(status), string(payload)); err != nil {
			return fmt.Errorf("failed to cache drink %s: %w", d.ID, err)
		}
	}
	return nil
}

// LoadCache returns the cached snapshot of a shop, or an empty list
func (c *Client) LoadCache(ctx context.Context, shopID string) ([]Drink, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT drink_id, sync_status, payload FROM _drink_cache
		WHERE shop_id = ? ORDER BY position`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	drinks := []Drink{}
	for rows.Next() {
		var id, status, payload string
		if err := rows.Scan(&id, &status, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		var d Drink
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, fmt.Errorf("%w: drink %s: %v", ErrCorruptCache, id, err)
		}
		d.ID = DrinkID(id)
		d.Status = SyncStatus(status)
		if !d.Status.valid() {
			return nil, fmt.Errorf("%w: drink %s has sync status %q", ErrCorruptCache, id, status)
		}
		drinks = append(drinks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return drinks, nil
}

// RemapIDs rewrites temporary ids to server ids in a shop's snapshot.
// Entries that were pending creation become synced.
func (c *Client) RemapIDs(ctx context.Context, shopID string, mapping map[DrinkID]DrinkID) error {
	if len(mapping) == 0 {
		return nil
	}
	drinks, err := c.LoadCache(ctx, shopID)
	if err != nil {
		return err
	}
	changed := false
	for i := range drinks {
		serverID, ok := mapping[drinks[i].ID]
		if !ok {
			continue
		}
		drinks[i].ID = serverID
		if drinks[i].Status == StatusPendingCreate {
			drinks[i].Status = StatusSynced
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return c.UpdateCache(ctx, shopID, drinks)
}
