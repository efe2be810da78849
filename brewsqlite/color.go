// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsqlite

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// withColors returns a copy of drinks with Color set from each price's place in
// the list's price range: red for the most expensive, green for the cheapest.
func withColors(drinks []Drink) []Drink {
	out := make([]Drink, len(drinks))
	copy(out, drinks)
	if len(out) == 0 {
		return out
	}

	prices := make([]float64, len(out))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, d := range out {
		p, err := strconv.ParseFloat(strings.TrimSpace(d.Price), 64)
		if err != nil {
			p = 0
		}
		prices[i] = p
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}

	for i := range out {
		ratio := 0.5
		if hi > lo {
			ratio = (prices[i] - lo) / (hi - lo)
		}
		red := int(math.Round(255 * ratio))
		green := int(math.Round(255 * (1 - ratio)))
		out[i].Color = fmt.Sprintf("rgb(%d, %d, 0)", red, green)
	}
	return out
}
