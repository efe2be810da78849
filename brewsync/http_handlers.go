// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package brewsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coffeeaddict/brewsync/internal/auth"
)

const maxBodyBytes = 1 << 20

// HandlerConfig configures the REST handlers
type HandlerConfig struct {
	Auth        *JWTAuth               // Optional; required when RequireAuth is set
	RequireAuth bool                   // Require a bearer token on mutating drink routes
	Metrics     RequestMetricsRecorder // Optional per-request observer
	LogTimings  bool                   // Log per-request timings at debug level
}

// HTTPHandlers serves the coffee-shop REST API
type HTTPHandlers struct {
	store  Store
	config HandlerConfig
	logger *slog.Logger
}

// NewHTTPHandlers creates the REST handlers over store
func NewHTTPHandlers(store Store, config HandlerConfig, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Routes returns a mux with every API route registered
func (h *HTTPHandlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /coffee-shops", h.HandleListShops)
	mux.HandleFunc("GET /coffee-shops/{shopID}", h.HandleGetShop)
	mux.HandleFunc("GET /coffee-shops/{shopID}/drinks", h.HandleListDrinks)
	mux.Handle("POST /coffee-shops/{shopID}/drinks", h.protect(http.HandlerFunc(h.HandleCreateDrink)))
	mux.Handle("PUT /coffee-shops/{shopID}/drinks/{drinkID}", h.protect(http.HandlerFunc(h.HandleUpdateDrink)))
	mux.Handle("DELETE /coffee-shops/{shopID}/drinks/{drinkID}", h.protect(http.HandlerFunc(h.HandleDeleteDrink)))
	return mux
}

func (h *HTTPHandlers) protect(next http.Handler) http.Handler {
	if !h.config.RequireAuth || h.config.Auth == nil {
		return next
	}
	return h.config.Auth.Middleware(next)
}

// HandleHealth reports liveness; 503 when the store cannot be reached
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "store unavailable")
		h.observe(r.Context(), OpHealth, "", start, http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
	h.observe(r.Context(), OpHealth, "", start, http.StatusOK)
}

// HandleListShops lists coffee shops, filtered, sorted and paged by the query string
func (h *HTTPHandlers) HandleListShops(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query, err := ParseShopQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		h.observe(r.Context(), OpListShops, "", start, http.StatusBadRequest)
		return
	}
	shops, err := h.store.ListShops(r.Context())
	if err != nil {
		status := h.writeStoreError(w, err, "")
		h.observe(r.Context(), OpListShops, "", start, status)
		return
	}
	resp := query.Apply(shops)
	h.logger.Debug("Listed coffee shops",
		"page", resp.Pagination.Page,
		"total_pages", resp.Pagination.TotalPages,
		"total", resp.Pagination.Total,
		"search", query.Search)
	h.writeJSON(w, http.StatusOK, resp)
	h.observe(r.Context(), OpListShops, "", start, http.StatusOK)
}

// HandleGetShop returns a single coffee shop
func (h *HTTPHandlers) HandleGetShop(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	shopID := r.PathValue("shopID")
	shop, err := h.store.GetShop(r.Context(), shopID)
	if err != nil {
		status := h.writeStoreError(w, err, shopID)
		h.observe(r.Context(), OpGetShop, shopID, start, status)
		return
	}
	h.writeJSON(w, http.StatusOK, shop)
	h.observe(r.Context(), OpGetShop, shopID, start, http.StatusOK)
}

// HandleListDrinks returns the drinks of a shop
func (h *HTTPHandlers) HandleListDrinks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	shopID := r.PathValue("shopID")
	drinks, err := h.store.ListDrinks(r.Context(), shopID)
	if err != nil {
		status := h.writeStoreError(w, err, shopID)
		h.observe(r.Context(), OpListDrinks, shopID, start, status)
		return
	}
	if drinks == nil {
		drinks = []Drink{}
	}
	h.writeJSON(w, http.StatusOK, DrinksResponse{Drinks: drinks})
	h.observe(r.Context(), OpListDrinks, shopID, start, http.StatusOK)
}

// HandleCreateDrink validates the body and adds a drink to the shop
func (h *HTTPHandlers) HandleCreateDrink(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	shopID := r.PathValue("shopID")
	in, ok := h.decodeDrink(w, r)
	if !ok {
		h.observe(r.Context(), OpCreateDrink, shopID, start, http.StatusBadRequest)
		return
	}
	drink, err := h.store.CreateDrink(r.Context(), shopID, in)
	if err != nil {
		status := h.writeStoreError(w, err, shopID)
		h.observe(r.Context(), OpCreateDrink, shopID, start, status)
		return
	}
	h.logMutation(r, "Drink created", shopID, drink.ID)
	h.writeJSON(w, http.StatusCreated, DrinkResponse{Drink: *drink})
	h.observe(r.Context(), OpCreateDrink, shopID, start, http.StatusCreated)
}

// HandleUpdateDrink replaces every field of an existing drink
func (h *HTTPHandlers) HandleUpdateDrink(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	shopID := r.PathValue("shopID")
	drinkID, ok := h.parseDrinkID(w, r)
	if !ok {
		h.observe(r.Context(), OpUpdateDrink, shopID, start, http.StatusBadRequest)
		return
	}
	in, ok := h.decodeDrink(w, r)
	if !ok {
		h.observe(r.Context(), OpUpdateDrink, shopID, start, http.StatusBadRequest)
		return
	}
	drink, err := h.store.UpdateDrink(r.Context(), shopID, drinkID, in)
	if err != nil {
		status := h.writeStoreError(w, err, shopID)
		h.observe(r.Context(), OpUpdateDrink, shopID, start, status)
		return
	}
	h.logMutation(r, "Drink updated", shopID, drinkID)
	h.writeJSON(w, http.StatusOK, DrinkResponse{Drink: *drink})
	h.observe(r.Context(), OpUpdateDrink, shopID, start, http.StatusOK)
}

// HandleDeleteDrink removes a drink from the shop
func (h *HTTPHandlers) HandleDeleteDrink(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	shopID := r.PathValue("shopID")
	drinkID, ok := h.parseDrinkID(w, r)
	if !ok {
		h.observe(r.Context(), OpDeleteDrink, shopID, start, http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteDrink(r.Context(), shopID, drinkID); err != nil {
		status := h.writeStoreError(w, err, shopID)
		h.observe(r.Context(), OpDeleteDrink, shopID, start, status)
		return
	}
	h.logMutation(r, "Drink deleted", shopID, drinkID)
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Drink deleted"})
	h.observe(r.Context(), OpDeleteDrink, shopID, start, http.StatusOK)
}

func (h *HTTPHandlers) decodeDrink(w http.ResponseWriter, r *http.Request) (DrinkInput, bool) {
	var raw RawDrink
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse drink data")
		return DrinkInput{}, false
	}
	in, err := ValidateDrink(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return DrinkInput{}, false
	}
	return in, true
}

func (h *HTTPHandlers) parseDrinkID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("drinkID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "drink id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *HTTPHandlers) logMutation(r *http.Request, msg, shopID string, drinkID int64) {
	userID, _ := auth.GetUserID(r.Context())
	h.logger.Info(msg, "shop_id", shopID, "drink_id", drinkID, "user_id", userID)
}

// writeStoreError maps store errors to HTTP statuses and returns the status written
func (h *HTTPHandlers) writeStoreError(w http.ResponseWriter, err error, shopID string) int {
	switch {
	case errors.Is(err, ErrShopNotFound):
		h.writeError(w, http.StatusNotFound, CodeShopNotFound, "Coffee shop not found")
		return http.StatusNotFound
	case errors.Is(err, ErrDrinkNotFound):
		h.writeError(w, http.StatusNotFound, CodeDrinkNotFound, "Drink not found")
		return http.StatusNotFound
	case errors.Is(err, ErrBadPayload):
		h.writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return http.StatusBadRequest
	default:
		h.logger.Error("Store operation failed", "error", err, "shop_id", shopID)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONError(w, statusCode, errorCode, message)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
