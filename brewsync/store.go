// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import "context"

// Store persists coffee shops and their drinks.
// Lookups of unknown shops return ErrShopNotFound; unknown drinks return ErrDrinkNotFound.
type Store interface {
	Ping(ctx context.Context) error
	ListShops(ctx context.Context) ([]CoffeeShop, error)
	GetShop(ctx context.Context, shopID string) (*CoffeeShop, error)
	CreateShop(ctx context.Context, shop CoffeeShop) (*CoffeeShop, error)
	ListDrinks(ctx context.Context, shopID string) ([]Drink, error)
	CreateDrink(ctx context.Context, shopID string, in DrinkInput) (*Drink, error)
	UpdateDrink(ctx context.Context, shopID string, drinkID int64, in DrinkInput) (*Drink, error)
	DeleteDrink(ctx context.Context, shopID string, drinkID int64) error
}
