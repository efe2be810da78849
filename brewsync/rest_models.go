// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import "encoding/json"

// REST/JSON models for the coffee-shop API.

// CoffeeShop is a shop as exposed by the API. ID is the public UUID.
type CoffeeShop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Rating    float64 `json:"rating"`
	Status    string  `json:"status"`
	Image     string  `json:"image"`
}

// Drink is a drink owned by a single coffee shop.
type Drink struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"` // decimal string, e.g. "4.50"
	Image       string `json:"image"`
	Sales       int    `json:"sales"`
	Popularity  int    `json:"popularity"`
}

// DrinkInput is the validated body of a create or update request
type DrinkInput struct {
	Name        string
	Description string
	Price       string
	Image       string
	Sales       int
	Popularity  int
}

// Drink returns the input as a drink with the given id
func (in DrinkInput) Drink(id int64) Drink {
	return Drink{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Image:       in.Image,
		Sales:       in.Sales,
		Popularity:  in.Popularity,
	}
}

// DrinksResponse is the body of GET /coffee-shops/{shopID}/drinks
type DrinksResponse struct {
	Drinks []Drink `json:"drinks"`
}

// DrinkResponse is the body returned by create and update
type DrinkResponse struct {
	Drink Drink `json:"drink"`
}

// ShopListing is a coffee shop in a list; Distance is set when the
// request carried coordinates
type ShopListing struct {
	CoffeeShop
	Distance *float64 `json:"distance,omitempty"`
}

// Pagination describes the page of a ShopsResponse
type Pagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ShopsResponse is the body of GET /coffee-shops
type ShopsResponse struct {
	CoffeeShops []ShopListing `json:"coffee_shops"`
	Pagination  Pagination    `json:"pagination"`
}

// MessageResponse carries a plain confirmation message
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RawDrink is the loosely typed request body; fields are checked by ValidateDrink
type RawDrink map[string]json.RawMessage
