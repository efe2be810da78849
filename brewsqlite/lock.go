// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrReconcileInProgress is returned when another pass holds the reconcile guard
var ErrReconcileInProgress = errors.New("reconciliation already in progress")

// acquirePass takes the in-process guard and, with Config.LockPath set, the
// cross-process file lock. The returned release must be called once.
func (c *Client) acquirePass() (release func(), err error) {
	if !c.reconciling.CompareAndSwap(false, true) {
		return nil, ErrReconcileInProgress
	}
	if c.config.LockPath == "" {
		return func() { c.reconciling.Store(false) }, nil
	}

	fl := flock.New(c.config.LockPath)
	locked, err := fl.TryLock()
	if err != nil {
		c.reconciling.Store(false)
		return nil, fmt.Errorf("failed to lock %s: %w", c.config.LockPath, err)
	}
	if !locked {
		c.reconciling.Store(false)
		return nil, ErrReconcileInProgress
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			c.logger.Warn("Failed to release reconcile lock", "path", c.config.LockPath, "error", err)
		}
		c.reconciling.Store(false)
	}, nil
}
