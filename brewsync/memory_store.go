// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and demos
type MemoryStore struct {
	mu     sync.RWMutex
	shops  map[string]*CoffeeShop
	order  []string
	drinks map[string][]Drink
	nextID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shops:  make(map[string]*CoffeeShop),
		drinks: make(map[string][]Drink),
		nextID: 1,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) ListShops(ctx context.Context) ([]CoffeeShop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CoffeeShop, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.shops[id])
	}
	return out, nil
}

func (m *MemoryStore) GetShop(ctx context.Context, shopID string) (*CoffeeShop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shop, ok := m.shops[shopID]
	if !ok {
		return nil, ErrShopNotFound
	}
	cp := *shop
	return &cp, nil
}

// CreateShop stores a shop; an empty ID gets a new UUID
func (m *MemoryStore) CreateShop(ctx context.Context, shop CoffeeShop) (*CoffeeShop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shop.ID == "" {
		shop.ID = uuid.New().String()
	}
	if _, exists := m.shops[shop.ID]; !exists {
		m.order = append(m.order, shop.ID)
	}
	cp := shop
	m.shops[shop.ID] = &cp
	return &shop, nil
}

func (m *MemoryStore) ListDrinks(ctx context.Context, shopID string) ([]Drink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.shops[shopID]; !ok {
		return nil, ErrShopNotFound
	}
	out := make([]Drink, len(m.drinks[shopID]))
	copy(out, m.drinks[shopID])
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateDrink(ctx context.Context, shopID string, in DrinkInput) (*Drink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shops[shopID]; !ok {
		return nil, ErrShopNotFound
	}
	d := in.Drink(m.nextID)
	m.nextID++
	m.drinks[shopID] = append(m.drinks[shopID], d)
	return &d, nil
}

func (m *MemoryStore) UpdateDrink(ctx context.Context, shopID string, drinkID int64, in DrinkInput) (*Drink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shops[shopID]; !ok {
		return nil, ErrShopNotFound
	}
	list := m.drinks[shopID]
	for i := range list {
		if list[i].ID == drinkID {
			list[i] = in.Drink(drinkID)
			d := list[i]
			return &d, nil
		}
	}
	return nil, ErrDrinkNotFound
}

func (m *MemoryStore) DeleteDrink(ctx context.Context, shopID string, drinkID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shops[shopID]; !ok {
		return ErrShopNotFound
	}
	list := m.drinks[shopID]
	for i := range list {
		if list[i].ID == drinkID {
			m.drinks[shopID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrDrinkNotFound
}
