// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDrinkNotFound is returned when a handler targets a drink not in the list
var ErrDrinkNotFound = errors.New("drink not found")

// Shop is an open drink list for one coffee shop. Mutations go straight to
// the server when it is reachable and are queued locally otherwise, so the
// list never waits on the network.
type Shop struct {
	client  *Client
	monitor *Monitor
	shopID  string

	mu     sync.Mutex
	drinks []Drink // includes entries pending deletion
}

// OpenShop loads the shop's drinks and replays anything queued for it.
// A nil monitor gets a fresh one.
func (c *Client) OpenShop(ctx context.Context, shopID string, monitor *Monitor) (*Shop, error) {
	if monitor == nil {
		monitor = NewMonitor(c)
	}
	s := &Shop{client: c, monitor: monitor, shopID: shopID}
	if err := s.FetchDrinks(ctx); err != nil {
		return nil, err
	}
	if _, err := s.Reconcile(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
		c.logger.Warn("Reconciliation on open failed", "shop_id", shopID, "error", err)
	}
	return s, nil
}

// ShopID returns the id of the open shop
func (s *Shop) ShopID() string { return s.shopID }

// Monitor returns the connectivity monitor the shop consults
func (s *Shop) Monitor() *Monitor { return s.monitor }

// Watch reconciles the shop whenever its monitor reports a reconnect
func (s *Shop) Watch() {
	s.monitor.OnReconnect(func(ctx context.Context) {
		if _, err := s.Reconcile(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
			s.client.logger.Warn("Reconciliation after reconnect failed", "shop_id", s.shopID, "error", err)
		}
	})
}

// Drinks returns the visible drinks with derived colors
func (s *Shop) Drinks() []Drink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withColors(visible(s.drinks))
}

// Page returns page n (1-based) of the visible drinks and the page count.
// size <= 0 uses Config.PageSize.
func (s *Shop) Page(n, size int) ([]Drink, int) {
	if size <= 0 {
		size = s.client.config.PageSize
	}
	all := s.Drinks()
	pages := (len(all) + size - 1) / size
	if n < 1 {
		n = 1
	}
	start := (n - 1) * size
	if start >= len(all) {
		return []Drink{}, pages
	}
	end := min(start+size, len(all))
	return all[start:end], pages
}

// FetchDrinks refreshes the list from the server, or from the cache when the
// network or server is down. Queued operations stay applied on top.
func (s *Shop) FetchDrinks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.monitor.State().IsOnline || !s.monitor.CheckServerStatus(ctx) {
		return s.loadCachedLocked(ctx)
	}
	ok, err := s.pullLocked(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return s.loadCachedLocked(ctx)
	}
	return nil
}

// AddDrink creates d and returns it with its server or temporary id
func (s *Shop) AddDrink(ctx context.Context, d Drink) (Drink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitor.State().Ready() {
		var serverID DrinkID
		err := s.direct(ctx, func(rctx context.Context) error {
			var err error
			serverID, err = s.client.CreateDrink(rctx, s.shopID, d)
			return err
		})
		switch {
		case err == nil:
			d.ID = serverID
			d.Status = StatusSynced
			return d, s.syncAfterDirectLocked(ctx, func() { s.drinks = append(s.drinks, d) })
		case IsPermanent(err) || errors.Is(err, ErrMissingServerID):
			return Drink{}, err
		}
		s.wentOffline(err)
	}

	d.ID = s.client.newTempID()
	d.Status = StatusPendingCreate
	s.drinks = append(s.drinks, d)
	return d, s.recordLocked(ctx, PendingOperation{Type: OpAdd, ID: d.ID, Data: &d, Local: true})
}

// UpdateDrink replaces every field of the drink with id d.ID
func (s *Shop) UpdateDrink(ctx context.Context, d Drink) (Drink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(d.ID)
	if i < 0 {
		return Drink{}, fmt.Errorf("%w: %s", ErrDrinkNotFound, d.ID)
	}
	local := s.drinks[i].Status == StatusPendingCreate
	// a drink with queued edits must replay behind them, not overtake them
	queued := s.drinks[i].Status != StatusSynced

	if !queued && s.monitor.State().Ready() {
		err := s.direct(ctx, func(rctx context.Context) error {
			return s.client.UpdateDrink(rctx, s.shopID, d.ID, d)
		})
		switch {
		case err == nil:
			d.Status = StatusSynced
			return d, s.syncAfterDirectLocked(ctx, func() { s.drinks[i] = d })
		case IsPermanent(err):
			return Drink{}, err
		}
		s.wentOffline(err)
	}

	d.Status = StatusPendingUpdate
	if local {
		d.Status = StatusPendingCreate
	}
	s.drinks[i] = d
	if err := s.recordLocked(ctx, PendingOperation{Type: OpUpdate, ID: d.ID, Data: &d, Local: local}); err != nil {
		return d, err
	}
	if queued && s.monitor.State().Ready() {
		id := s.flushLocked(ctx, d.ID)
		if j := s.indexLocked(id); j >= 0 {
			return s.drinks[j], nil
		}
	}
	return d, nil
}

// DeleteDrink removes the drink with the given id
func (s *Shop) DeleteDrink(ctx context.Context, id DrinkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrDrinkNotFound, id)
	}
	local := s.drinks[i].Status == StatusPendingCreate
	queued := s.drinks[i].Status != StatusSynced

	if !queued && s.monitor.State().Ready() {
		err := s.direct(ctx, func(rctx context.Context) error {
			return s.client.DeleteDrink(rctx, s.shopID, id)
		})
		switch {
		case err == nil || IsNotFound(err):
			return s.syncAfterDirectLocked(ctx, func() { s.drinks = removeAt(s.drinks, i) })
		case IsPermanent(err):
			return err
		}
		s.wentOffline(err)
	}

	if local {
		s.drinks = removeAt(s.drinks, i)
	} else {
		s.drinks[i].Status = StatusPendingDelete
	}
	if err := s.recordLocked(ctx, PendingOperation{Type: OpDelete, ID: id, Local: local}); err != nil {
		return err
	}
	if queued && s.monitor.State().Ready() {
		s.flushLocked(ctx, id)
	}
	return nil
}

// Reconcile replays the shop's queue and reloads the list from the cache
func (s *Shop) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx)
}

// flushLocked replays the queue right after a change was folded into it
// while the server is reachable. It returns id as known after the pass.
func (s *Shop) flushLocked(ctx context.Context, id DrinkID) DrinkID {
	res, err := s.reconcileLocked(ctx)
	if err != nil && !errors.Is(err, ErrReconcileInProgress) {
		s.client.logger.Warn("Replay after queued edit failed", "shop_id", s.shopID, "error", err)
	}
	if res != nil {
		if serverID, ok := res.Mapping[id]; ok {
			return serverID
		}
	}
	return id
}

func (s *Shop) reconcileLocked(ctx context.Context) (*ReconcileResult, error) {
	res, err := s.client.Reconcile(ctx, s.shopID, s.monitor)
	if res != nil && !res.Skipped {
		if lerr := s.loadCachedLocked(context.WithoutCancel(ctx)); lerr != nil {
			s.client.logger.Warn("Failed to reload drinks after reconciliation", "shop_id", s.shopID, "error", lerr)
		}
	}
	if err != nil && res != nil && !res.Skipped && ctx.Err() == nil {
		s.monitor.MarkServerUnreachable()
	}
	return res, err
}

// Pending returns the number of queued operations for the shop
func (s *Shop) Pending(ctx context.Context) (int, error) {
	return s.client.Len(ctx, s.shopID)
}

func (s *Shop) direct(ctx context.Context, fn func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, s.client.config.RequestTimeout)
	defer cancel()
	return fn(rctx)
}

func (s *Shop) wentOffline(err error) {
	s.client.logger.Warn("Direct call failed, queuing locally", "shop_id", s.shopID, "error", err)
	s.monitor.MarkServerUnreachable()
}

// pullLocked fetches the server list, overlays queued ops and caches the
// result. It reports false, marking the server unreachable, when the fetch fails.
func (s *Shop) pullLocked(ctx context.Context) (bool, error) {
	var drinks []Drink
	err := s.direct(ctx, func(rctx context.Context) error {
		var err error
		drinks, err = s.client.ListDrinks(rctx, s.shopID)
		return err
	})
	if err != nil {
		s.client.logger.Warn("Failed to fetch drinks", "shop_id", s.shopID, "error", err)
		s.monitor.MarkServerUnreachable()
		return false, nil
	}
	pending, err := s.client.DequeueAll(ctx, s.shopID)
	if err != nil {
		return false, err
	}
	merged := overlayPending(drinks, pending)
	if err := s.client.UpdateCache(ctx, s.shopID, merged); err != nil {
		return false, err
	}
	s.drinks = merged
	return true, nil
}

// syncAfterDirectLocked re-fetches after a direct call; if that fails the
// known outcome is applied locally instead
func (s *Shop) syncAfterDirectLocked(ctx context.Context, apply func()) error {
	ok, err := s.pullLocked(ctx)
	if err != nil || ok {
		return err
	}
	apply()
	return s.client.UpdateCache(ctx, s.shopID, s.drinks)
}

func (s *Shop) recordLocked(ctx context.Context, op PendingOperation) error {
	if err := s.client.UpdateCache(ctx, s.shopID, s.drinks); err != nil {
		return err
	}
	op.ShopID = s.shopID
	return s.client.Enqueue(ctx, op)
}

func (s *Shop) loadCachedLocked(ctx context.Context) error {
	drinks, err := s.client.LoadCache(ctx, s.shopID)
	if err != nil {
		return err
	}
	s.drinks = drinks
	return nil
}

// indexLocked finds a visible drink by id
func (s *Shop) indexLocked(id DrinkID) int {
	for i := range s.drinks {
		if s.drinks[i].ID == id && s.drinks[i].Status != StatusPendingDelete {
			return i
		}
	}
	return -1
}

// overlayPending applies still-queued operations on top of a server list
func overlayPending(server []Drink, pending []PendingOperation) []Drink {
	out := make([]Drink, 0, len(server))
	out = append(out, server...)
	find := func(id DrinkID) int {
		for i := range out {
			if out[i].ID == id {
				return i
			}
		}
		return -1
	}

	for _, op := range pending {
		i := find(op.ID)
		switch op.Type {
		case OpAdd:
			d := *op.Data
			d.ID = op.ID
			d.Status = StatusPendingCreate
			if i >= 0 {
				out[i] = d
			} else {
				out = append(out, d)
			}
		case OpUpdate:
			if i < 0 {
				continue
			}
			d := *op.Data
			d.ID = op.ID
			d.Status = StatusPendingUpdate
			if out[i].Status == StatusPendingCreate {
				d.Status = StatusPendingCreate
			}
			out[i] = d
		case OpDelete:
			if i >= 0 {
				out[i].Status = StatusPendingDelete
			}
		}
	}
	return out
}

func visible(drinks []Drink) []Drink {
	out := make([]Drink, 0, len(drinks))
	for _, d := range drinks {
		if d.Status != StatusPendingDelete {
			out = append(out, d)
		}
	}
	return out
}

func removeAt(drinks []Drink, i int) []Drink {
	out := make([]Drink, 0, len(drinks)-1)
	out = append(out, drinks[:i]...)
	return append(out, drinks[i+1:]...)
}
