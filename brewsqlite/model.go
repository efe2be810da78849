// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DrinkID identifies a drink. It holds either a server id ("42") or a
// temporary id assigned while offline ("temp_1718000000000").
type DrinkID string

// ServerID returns the numeric server id, if id is one
func (id DrinkID) ServerID() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// MarshalJSON writes server ids as JSON numbers and anything else as a string
func (id DrinkID) MarshalJSON() ([]byte, error) {
	if n, ok := id.ServerID(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON number or string
func (id *DrinkID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = DrinkID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("drink id must be a number or string: %w", err)
	}
	*id = DrinkID(n.String())
	return nil
}

// SyncStatus tags a cached drink with its relation to the server copy
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pendingCreate"
	StatusPendingUpdate SyncStatus = "pendingUpdate"
	StatusPendingDelete SyncStatus = "pendingDelete"
)

func (s SyncStatus) valid() bool {
	switch s {
	case StatusSynced, StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete:
		return true
	}
	return false
}

// Drink is the client view of a drink. Status and Color never go on the wire.
type Drink struct {
	ID          DrinkID    `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Price       string     `json:"price"`
	Image       string     `json:"image"`
	Sales       int        `json:"sales"`
	Popularity  int        `json:"popularity"`
	Status      SyncStatus `json:"-"`
	Color       string     `json:"-"` // derived from price, e.g. "rgb(255, 0, 0)"
}

// OpType is the kind of a queued mutation
type OpType string

const (
	OpAdd    OpType = "add"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// PendingOperation is a mutation recorded while the server was unreachable.
// Local is set when ID is a temporary id that the server has never seen.
type PendingOperation struct {
	Seq      int64
	ShopID   string
	Type     OpType
	Data     *Drink // nil for deletes
	ID       DrinkID
	Local    bool
	QueuedAt time.Time
}

// ConnectivityState is the monitor's best-effort view of the network
type ConnectivityState struct {
	IsOnline          bool
	IsServerReachable bool
}

// Ready reports whether direct server calls should be attempted
func (s ConnectivityState) Ready() bool {
	return s.IsOnline && s.IsServerReachable
}
