// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

// Error codes used in ErrorResponse.Error
const (
	CodeInvalidRequest   = "invalid_request"
	CodeValidationFailed = "validation_failed"
	CodeShopNotFound     = "shop_not_found"
	CodeDrinkNotFound    = "drink_not_found"
	CodeAuthFailed       = "authentication_failed"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternalError    = "internal_error"
	CodeUnavailable      = "service_unavailable"
)

// Request metric operations
const (
	OpHealth      = "health"
	OpListShops   = "list_shops"
	OpGetShop     = "get_shop"
	OpListDrinks  = "list_drinks"
	OpCreateDrink = "create_drink"
	OpUpdateDrink = "update_drink"
	OpDeleteDrink = "delete_drink"
)

// MaxPopularity is the upper bound for Drink.Popularity
const MaxPopularity = 100
