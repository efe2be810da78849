// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrMissingServerID is returned when a create response carries no drink id
var ErrMissingServerID = errors.New("create response carried no drink id")

// HTTPError is a non-2xx answer from the drinks API
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Permanent reports whether repeating the request cannot succeed.
// 4xx is permanent except 408 and 429.
func (e *HTTPError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout &&
		e.StatusCode != http.StatusTooManyRequests
}

// Retryable reports whether the request may succeed later
func (e *HTTPError) Retryable() bool { return !e.Permanent() }

// IsPermanent reports whether err is a permanent API rejection.
// Transport errors and timeouts are never permanent.
func IsPermanent(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Permanent()
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

// drinkBody is the create/update request body. The server picks ids.
type drinkBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Image       string `json:"image"`
	Sales       int    `json:"sales"`
	Popularity  int    `json:"popularity"`
}

func newDrinkBody(d Drink) drinkBody {
	return drinkBody{
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Image:       d.Image,
		Sales:       d.Sales,
		Popularity:  d.Popularity,
	}
}

// ShopInfo is a coffee shop as listed by the API
type ShopInfo struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
	Status string  `json:"status"`
}

type shopsResponse struct {
	CoffeeShops []ShopInfo `json:"coffee_shops"`
}

type drinksResponse struct {
	Drinks []Drink `json:"drinks"`
}

// createResponse accepts both {"id": ...} and {"drink": {"id": ...}}
type createResponse struct {
	ID    DrinkID `json:"id"`
	Drink *struct {
		ID DrinkID `json:"id"`
	} `json:"drink"`
}

func shopPath(shopID string) string {
	return "coffee-shops/" + url.PathEscape(shopID) + "/drinks"
}

func drinkPath(shopID string, id DrinkID) string {
	return shopPath(shopID) + "/" + url.PathEscape(string(id))
}

// Health issues one GET /health; any 2xx is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "health", nil, nil)
}

// ListShops fetches every coffee shop
func (c *Client) ListShops(ctx context.Context) ([]ShopInfo, error) {
	var resp shopsResponse
	if err := c.doJSON(ctx, http.MethodGet, "coffee-shops", nil, &resp); err != nil {
		return nil, err
	}
	return resp.CoffeeShops, nil
}

// ListDrinks fetches the authoritative drink list of a shop
func (c *Client) ListDrinks(ctx context.Context, shopID string) ([]Drink, error) {
	var resp drinksResponse
	if err := c.doJSON(ctx, http.MethodGet, shopPath(shopID), nil, &resp); err != nil {
		return nil, err
	}
	drinks := resp.Drinks
	if drinks == nil {
		drinks = []Drink{}
	}
	for i := range drinks {
		drinks[i].Status = StatusSynced
	}
	return drinks, nil
}

// CreateDrink posts d without its id and returns the server-assigned id
func (c *Client) CreateDrink(ctx context.Context, shopID string, d Drink) (DrinkID, error) {
	var resp createResponse
	if err := c.doJSON(ctx, http.MethodPost, shopPath(shopID), newDrinkBody(d), &resp); err != nil {
		return "", err
	}
	id := resp.ID
	if id == "" && resp.Drink != nil {
		id = resp.Drink.ID
	}
	if id == "" {
		return "", ErrMissingServerID
	}
	return id, nil
}

// UpdateDrink replaces the drink with server id id
func (c *Client) UpdateDrink(ctx context.Context, shopID string, id DrinkID, d Drink) error {
	return c.doJSON(ctx, http.MethodPut, drinkPath(shopID, id), newDrinkBody(d), nil)
}

// DeleteDrink removes the drink with server id id
func (c *Client) DeleteDrink(ctx context.Context, shopID string, id DrinkID) error {
	return c.doJSON(ctx, http.MethodDelete, drinkPath(shopID, id), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{
			Method:     method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(msg)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
