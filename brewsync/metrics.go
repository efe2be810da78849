// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"context"
	"time"
)

// RequestTiming describes one handled API request
type RequestTiming struct {
	Operation string
	ShopID    string
	Status    int
	Duration  time.Duration
	Error     bool
}

type RequestMetricsRecorder interface {
	ObserveRequest(ctx context.Context, timing RequestTiming)
}

type RequestMetricsRecorderFunc func(ctx context.Context, timing RequestTiming)

func (f RequestMetricsRecorderFunc) ObserveRequest(ctx context.Context, timing RequestTiming) {
	f(ctx, timing)
}

func (h *HTTPHandlers) observe(ctx context.Context, op, shopID string, start time.Time, status int) {
	d := time.Since(start)
	timing := RequestTiming{
		Operation: op,
		ShopID:    shopID,
		Status:    status,
		Duration:  d,
		Error:     status >= 400,
	}
	if h.config.Metrics != nil {
		h.config.Metrics.ObserveRequest(ctx, timing)
	}
	if h.config.LogTimings {
		h.logger.Debug("request timing",
			"op", op,
			"shop_id", shopID,
			"status", status,
			"duration_ms", d.Milliseconds())
	}
}
