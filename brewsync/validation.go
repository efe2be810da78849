// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validation and lookup error sentinels for HTTP status mapping
var (
	ErrBadPayload    = errors.New("bad_payload")
	ErrShopNotFound  = errors.New("coffee shop not found")
	ErrDrinkNotFound = errors.New("drink not found")
)

// plain decimal notation only; ParseFloat alone would also take NaN, Inf and hex
var decimalPrice = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var requiredDrinkFields = []string{"name", "description", "price", "image", "sales", "popularity"}

// ValidateDrink checks a create/update body and converts it to DrinkInput.
// Any "id" key in the body is ignored; the path decides the target.
func ValidateDrink(raw RawDrink) (DrinkInput, error) {
	var missing []string
	for _, key := range requiredDrinkFields {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return DrinkInput{}, fmt.Errorf("%w: missing required fields in drink data: %s", ErrBadPayload, strings.Join(missing, ", "))
	}

	var in DrinkInput
	strFields := []struct {
		key string
		dst *string
	}{
		{"name", &in.Name},
		{"description", &in.Description},
		{"price", &in.Price},
		{"image", &in.Image},
	}
	for _, f := range strFields {
		if err := json.Unmarshal(raw[f.key], f.dst); err != nil {
			return DrinkInput{}, fmt.Errorf("%w: %s must be a string", ErrBadPayload, f.key)
		}
		if strings.TrimSpace(*f.dst) == "" {
			return DrinkInput{}, fmt.Errorf("%w: %s must not be empty", ErrBadPayload, f.key)
		}
	}

	sales, err := parseNonNegativeInt(raw["sales"])
	if err != nil {
		return DrinkInput{}, fmt.Errorf("%w: sales %v", ErrBadPayload, err)
	}
	popularity, err := parseNonNegativeInt(raw["popularity"])
	if err != nil {
		return DrinkInput{}, fmt.Errorf("%w: popularity %v", ErrBadPayload, err)
	}
	if popularity > MaxPopularity {
		return DrinkInput{}, fmt.Errorf("%w: popularity must be at most %d", ErrBadPayload, MaxPopularity)
	}
	in.Sales = sales
	in.Popularity = popularity

	priceText := strings.TrimSpace(in.Price)
	if !decimalPrice.MatchString(priceText) {
		return DrinkInput{}, fmt.Errorf("%w: price must be a valid number string", ErrBadPayload)
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil {
		return DrinkInput{}, fmt.Errorf("%w: price must be a valid number string", ErrBadPayload)
	}
	if price < 0 {
		return DrinkInput{}, fmt.Errorf("%w: price must be non-negative", ErrBadPayload)
	}

	return in, nil
}

// parseNonNegativeInt accepts a JSON integer or a string holding one
func parseNonNegativeInt(v json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, errors.New("must be a valid integer")
		}
		n, err = strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, errors.New("must be a valid integer")
		}
	}
	if n < 0 {
		return 0, errors.New("must be non-negative")
	}
	return n, nil
}
