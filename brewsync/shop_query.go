// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultShopPageSize = 10
	MaxShopPageSize     = 50
	earthRadiusKm       = 6371
)

// ShopQuery filters, sorts and pages GET /coffee-shops
type ShopQuery struct {
	Search      string
	MinRating   *float64
	MaxRating   *float64
	OpenOnly    bool
	Latitude    *float64
	Longitude   *float64
	MaxDistance *float64 // km; needs coordinates
	SortBy      string   // "", "location" or "rating"
	Descending  bool
	Page        int
	PageSize    int
}

// ParseShopQuery reads a ShopQuery from request parameters. Errors wrap ErrBadPayload.
func ParseShopQuery(v url.Values) (ShopQuery, error) {
	q := ShopQuery{
		Search:   strings.TrimSpace(v.Get("search")),
		Page:     1,
		PageSize: DefaultShopPageSize,
	}

	var err error
	if q.MinRating, err = optionalFloat(v, "min_rating"); err != nil {
		return q, err
	}
	if q.MaxRating, err = optionalFloat(v, "max_rating"); err != nil {
		return q, err
	}
	for _, r := range []*float64{q.MinRating, q.MaxRating} {
		if r != nil && (*r < 0 || *r > 5) {
			return q, fmt.Errorf("%w: rating bounds must be between 0 and 5", ErrBadPayload)
		}
	}
	if q.MinRating != nil && q.MaxRating != nil && *q.MinRating > *q.MaxRating {
		return q, fmt.Errorf("%w: min_rating cannot be greater than max_rating", ErrBadPayload)
	}

	if s := v.Get("open"); s != "" {
		if q.OpenOnly, err = strconv.ParseBool(s); err != nil {
			return q, fmt.Errorf("%w: open must be true or false", ErrBadPayload)
		}
	}

	if q.Latitude, err = optionalFloat(v, "latitude"); err != nil {
		return q, err
	}
	if q.Longitude, err = optionalFloat(v, "longitude"); err != nil {
		return q, err
	}
	if (q.Latitude == nil) != (q.Longitude == nil) {
		return q, fmt.Errorf("%w: latitude and longitude go together", ErrBadPayload)
	}
	if q.MaxDistance, err = optionalFloat(v, "max_distance"); err != nil {
		return q, err
	}
	if q.MaxDistance != nil && (*q.MaxDistance < 0 || q.Latitude == nil) {
		return q, fmt.Errorf("%w: max_distance must be non-negative and needs coordinates", ErrBadPayload)
	}

	switch q.SortBy = v.Get("sort_by"); q.SortBy {
	case "", "rating":
	case "location":
		if q.Latitude == nil {
			return q, fmt.Errorf("%w: sorting by location needs coordinates", ErrBadPayload)
		}
	default:
		return q, fmt.Errorf("%w: sort_by must be one of: location, rating", ErrBadPayload)
	}
	switch strings.ToLower(v.Get("sort_order")) {
	case "", "asc":
	case "desc":
		q.Descending = true
	default:
		return q, fmt.Errorf("%w: sort_order must be 'asc' or 'desc'", ErrBadPayload)
	}

	if s := v.Get("page"); s != "" {
		if q.Page, err = strconv.Atoi(s); err != nil || q.Page < 1 {
			return q, fmt.Errorf("%w: page must be greater than or equal to 1", ErrBadPayload)
		}
	}
	if s := v.Get("page_size"); s != "" {
		if q.PageSize, err = strconv.Atoi(s); err != nil || q.PageSize < 1 || q.PageSize > MaxShopPageSize {
			return q, fmt.Errorf("%w: page_size must be between 1 and %d", ErrBadPayload, MaxShopPageSize)
		}
	}
	return q, nil
}

func optionalFloat(v url.Values, key string) (*float64, error) {
	s := v.Get(key)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %s must be a number", ErrBadPayload, key)
	}
	return &f, nil
}

// Apply filters and sorts shops, then cuts out the requested page.
// A page past the end is clamped to the last one.
func (q ShopQuery) Apply(shops []CoffeeShop) ShopsResponse {
	needle := strings.ToLower(q.Search)
	listings := make([]ShopListing, 0, len(shops))
	for _, shop := range shops {
		if needle != "" && !strings.Contains(strings.ToLower(shop.Name), needle) {
			continue
		}
		if q.MinRating != nil && shop.Rating < *q.MinRating {
			continue
		}
		if q.MaxRating != nil && shop.Rating > *q.MaxRating {
			continue
		}
		if q.OpenOnly && !strings.HasPrefix(strings.ToLower(shop.Status), "open") {
			continue
		}
		l := ShopListing{CoffeeShop: shop}
		if q.Latitude != nil {
			d := distanceKm(*q.Latitude, *q.Longitude, shop.Latitude, shop.Longitude)
			if q.MaxDistance != nil && d > *q.MaxDistance {
				continue
			}
			l.Distance = &d
		}
		listings = append(listings, l)
	}

	sortBy := q.SortBy
	if sortBy == "" && q.Latitude != nil {
		sortBy = "location"
	}
	if sortBy != "" {
		sort.SliceStable(listings, func(i, j int) bool {
			a, b := listings[i], listings[j]
			if q.Descending {
				a, b = b, a
			}
			if sortBy == "rating" {
				return a.Rating < b.Rating
			}
			return *a.Distance < *b.Distance
		})
	}

	total := len(listings)
	pages := max(1, (total+q.PageSize-1)/q.PageSize)
	page := min(q.Page, pages)
	from := min((page-1)*q.PageSize, total)
	to := min(from+q.PageSize, total)

	return ShopsResponse{
		CoffeeShops: listings[from:to],
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			PageSize:   q.PageSize,
			TotalPages: pages,
			HasNext:    page < pages,
			HasPrev:    page > 1,
		},
	}
}

// distanceKm is the great-circle distance, rounded to 10 m
func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(d*100) / 100
}
