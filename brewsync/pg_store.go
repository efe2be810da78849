// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Store backed by PostgreSQL through a pgx pool.
// Tables live in the "coffee" schema and are created on construction.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore initializes the schema and returns a store using pool
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, logger: logger}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize coffee schema: %w", err)
	}
	return s, nil
}

func (s *PGStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS coffee`,
		/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS coffee.coffee_shops (
	id         BIGSERIAL PRIMARY KEY,
	public_id  UUID NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	latitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude  DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating     DOUBLE PRECISION NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT '',
	image      TEXT NOT NULL DEFAULT ''
)`,
		/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS coffee.drinks (
	id             BIGSERIAL PRIMARY KEY,
	coffee_shop_id BIGINT NOT NULL REFERENCES coffee.coffee_shops(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL,
	price          TEXT NOT NULL,
	image          TEXT NOT NULL,
	sales          INTEGER NOT NULL DEFAULT 0,
	popularity     INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS drinks_coffee_shop_id_idx ON coffee.drinks(coffee_shop_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, retrying serialization and lock failures
func (s *PGStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return retryTx(ctx, s.logger, func() error {
		return pgx.BeginFunc(ctx, s.pool, fn)
	})
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) ListShops(ctx context.Context) ([]CoffeeShop, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT public_id::text, name, latitude, longitude, rating, status, image
		FROM coffee.coffee_shops ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query coffee shops: %w", err)
	}
	shops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CoffeeShop, error) {
		var sh CoffeeShop
		err := row.Scan(&sh.ID, &sh.Name, &sh.Latitude, &sh.Longitude, &sh.Rating, &sh.Status, &sh.Image)
		return sh, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan coffee shops: %w", err)
	}
	return shops, nil
}

func (s *PGStore) GetShop(ctx context.Context, shopID string) (*CoffeeShop, error) {
	pid, err := uuid.Parse(shopID)
	if err != nil {
		return nil, ErrShopNotFound
	}
	var sh CoffeeShop
	err = s.pool.QueryRow(ctx, `
		SELECT public_id::text, name, latitude, longitude, rating, status, image
		FROM coffee.coffee_shops WHERE public_id = $1`, pid).
		Scan(&sh.ID, &sh.Name, &sh.Latitude, &sh.Longitude, &sh.Rating, &sh.Status, &sh.Image)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query coffee shop: %w", err)
	}
	return &sh, nil
}

// CreateShop inserts a shop; an empty ID gets a new UUID
func (s *PGStore) CreateShop(ctx context.Context, shop CoffeeShop) (*CoffeeShop, error) {
	pid := uuid.New()
	if shop.ID != "" {
		parsed, err := uuid.Parse(shop.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: shop id must be a UUID", ErrBadPayload)
		}
		pid = parsed
	}
	shop.ID = pid.String()
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO coffee.coffee_shops (public_id, name, latitude, longitude, rating, status, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (public_id) DO UPDATE SET
				name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
				rating = EXCLUDED.rating, status = EXCLUDED.status, image = EXCLUDED.image`,
			pid, shop.Name, shop.Latitude, shop.Longitude, shop.Rating, shop.Status, shop.Image)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert coffee shop: %w", err)
	}
	return &shop, nil
}

// shopKeyInTx resolves a public shop id to its internal key
func shopKeyInTx(ctx context.Context, q pgx.Tx, shopID string) (int64, error) {
	pid, err := uuid.Parse(shopID)
	if err != nil {
		return 0, ErrShopNotFound
	}
	var key int64
	err = q.QueryRow(ctx, `SELECT id FROM coffee.coffee_shops WHERE public_id = $1`, pid).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrShopNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve coffee shop: %w", err)
	}
	return key, nil
}

func (s *PGStore) ListDrinks(ctx context.Context, shopID string) ([]Drink, error) {
	var drinks []Drink
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		key, err := shopKeyInTx(ctx, tx, shopID)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT id, name, description, price, image, sales, popularity
			FROM coffee.drinks WHERE coffee_shop_id = $1 ORDER BY id`, key)
		if err != nil {
			return fmt.Errorf("failed to query drinks: %w", err)
		}
		drinks, err = pgx.CollectRows(rows, scanDrink)
		return err
	})
	if err != nil {
		return nil, err
	}
	if drinks == nil {
		drinks = []Drink{}
	}
	return drinks, nil
}

func scanDrink(row pgx.CollectableRow) (Drink, error) {
	var d Drink
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Price, &d.Image, &d.Sales, &d.Popularity)
	return d, err
}

func (s *PGStore) CreateDrink(ctx context.Context, shopID string, in DrinkInput) (*Drink, error) {
	var out Drink
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		key, err := shopKeyInTx(ctx, tx, shopID)
		if err != nil {
			return err
		}
		var id int64
		err = tx.QueryRow(ctx, `
			INSERT INTO coffee.drinks (coffee_shop_id, name, description, price, image, sales, popularity)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			key, in.Name, in.Description, in.Price, in.Image, in.Sales, in.Popularity).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert drink: %w", err)
		}
		out = in.Drink(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PGStore) UpdateDrink(ctx context.Context, shopID string, drinkID int64, in DrinkInput) (*Drink, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		key, err := shopKeyInTx(ctx, tx, shopID)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE coffee.drinks
			SET name = $3, description = $4, price = $5, image = $6, sales = $7, popularity = $8
			WHERE id = $1 AND coffee_shop_id = $2`,
			drinkID, key, in.Name, in.Description, in.Price, in.Image, in.Sales, in.Popularity)
		if err != nil {
			return fmt.Errorf("failed to update drink: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDrinkNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := in.Drink(drinkID)
	return &out, nil
}

func (s *PGStore) DeleteDrink(ctx context.Context, shopID string, drinkID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		key, err := shopKeyInTx(ctx, tx, shopID)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM coffee.drinks WHERE id = $1 AND coffee_shop_id = $2`, drinkID, key)
		if err != nil {
			return fmt.Errorf("failed to delete drink: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDrinkNotFound
		}
		return nil
	})
}
