// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"context"
	"sync"
	"time"
)

// Monitor tracks network state and server reachability for a client.
// Reconnect listeners run when the network comes back and after every
// successful periodic health check.
type Monitor struct {
	client *Client

	mu        sync.Mutex
	state     ConnectivityState
	listeners []func(context.Context)
}

// NewMonitor returns a monitor that assumes the network is up and the server
// unknown until the first health check
func NewMonitor(client *Client) *Monitor {
	return &Monitor{
		client: client,
		state:  ConnectivityState{IsOnline: true},
	}
}

// State returns the current connectivity snapshot
func (m *Monitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnReconnect registers fn to run on reconnect
func (m *Monitor) OnReconnect(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// CheckServerStatus checks /health once within Config.HealthTimeout and
// records the result. Any 2xx means reachable.
func (m *Monitor) CheckServerStatus(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.client.config.HealthTimeout)
	defer cancel()

	err := m.client.Health(pctx)
	reachable := err == nil

	m.mu.Lock()
	changed := m.state.IsServerReachable != reachable
	m.state.IsServerReachable = reachable
	m.mu.Unlock()

	if changed {
		if reachable {
			m.client.logger.Info("Server reachable")
		} else {
			m.client.logger.Warn("Server unreachable", "error", err)
		}
	}
	return reachable
}

// MarkServerUnreachable records a failed direct call
func (m *Monitor) MarkServerUnreachable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsServerReachable {
		m.client.logger.Warn("Server marked unreachable")
	}
	m.state.IsServerReachable = false
}

// SetNetworkOnline feeds a network transition. Going from offline to online
// checks the server and then runs the reconnect listeners.
func (m *Monitor) SetNetworkOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.state.IsOnline
	m.state.IsOnline = online
	if !online {
		m.state.IsServerReachable = false
	}
	m.mu.Unlock()

	if online && !wasOnline {
		m.client.logger.Info("Network online")
		m.CheckServerStatus(ctx)
		m.notify(ctx)
	} else if !online && wasOnline {
		m.client.logger.Info("Network offline")
	}
}

// Run checks the server every Config.PollInterval while the network is
// online until ctx is done. A successful health check runs the reconnect listeners.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.client.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.State().IsOnline {
				continue
			}
			if m.CheckServerStatus(ctx) {
				m.notify(ctx)
			}
		}
	}
}

func (m *Monitor) notify(ctx context.Context) {
	m.mu.Lock()
	listeners := append([]func(context.Context){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}
}
