// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgMaxTxAttempts = 4
	pgRetryBackoff  = 25 * time.Millisecond
)

// drink writes in one shop contend on the same rows; these SQLSTATEs mean
// the transaction lost that race and can run again from the top
var retryableTxStates = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// retryableTxState reports the SQLSTATE of err when PGStore may rerun the transaction
func retryableTxState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	_, ok := retryableTxStates[pgErr.SQLState()]
	return pgErr.SQLState(), ok
}

// retryTx calls run up to pgMaxTxAttempts times while it fails with a
// retryable SQLSTATE, backing off linearly between attempts.
func retryTx(ctx context.Context, logger *slog.Logger, run func() error) error {
	var err error
	for attempt := 1; attempt <= pgMaxTxAttempts; attempt++ {
		err = run()
		state, ok := retryableTxState(err)
		if err == nil || !ok {
			return err
		}
		if attempt == pgMaxTxAttempts {
			break
		}
		logger.Debug("Retrying drink transaction",
			"attempt", attempt,
			"sqlstate", state,
			"reason", retryableTxStates[state])
		if serr := waitBackoff(ctx, time.Duration(attempt)*pgRetryBackoff); serr != nil {
			return serr
		}
	}
	return err
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
