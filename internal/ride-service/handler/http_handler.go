package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"transflow/internal/ride-service/domain"
	"transflow/internal/ride-service/service"
	"transflow/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	maxBodyBytes = 1 << 20
	// Version is reported by the service descriptor.
	Version = "1.0.0"
)

type RideCreator interface {
	Execute(ctx context.Context, cmd service.CreateRideCommand) (domain.RideEvent, error)
}

// Balances is the ledger surface exposed over HTTP.
type Balances interface {
	Balance(ctx context.Context, driver string) (decimal.Decimal, error)
	Set(ctx context.Context, driver string, value decimal.Decimal) error
}

// RideHandler serves the ride and balance endpoints
type RideHandler struct {
	createRide RideCreator
	rides      domain.RideRepository
	balances   Balances
	logger     logger.Logger
}

func NewRideHandler(createRide RideCreator, rides domain.RideRepository, balances Balances, logger logger.Logger) *RideHandler {
	return &RideHandler{
		createRide: createRide,
		rides:      rides,
		balances:   balances,
		logger:     logger,
	}
}

// Register mounts every route on mux.
func (h *RideHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rides", h.CreateRide)
	mux.HandleFunc("GET /rides", h.ListRides)
	mux.HandleFunc("GET /rides/{payment_method}", h.RidesByPaymentMethod)
	mux.HandleFunc("DELETE /rides/{ride_id}", h.DeleteRide)
	mux.HandleFunc("GET /balances/{driver}", h.GetBalance)
	mux.HandleFunc("PUT /balances/{driver}", h.SetBalance)
	mux.HandleFunc("GET /{$}", h.Root)
}

type serviceDescriptor struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Root handles GET / with a short description of the API.
func (h *RideHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceDescriptor{
		Message: "TransFlow ride service is running",
		Version: Version,
		Endpoints: map[string]string{
			"rides":    "/rides",
			"filter":   "/rides/{payment_method}",
			"balances": "/balances/{driver}",
			"health":   "/health",
		},
	})
}

// balanceResponse keeps the field names drivers' apps already read.
type balanceResponse struct {
	Motorista string      `json:"motorista"`
	Saldo     json.Number `json:"saldo"`
	Moeda     string      `json:"moeda"`
	Mensagem  string      `json:"mensagem,omitempty"`
}

// CreateRide handles POST /rides
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}

	event, err := h.createRide.Execute(r.Context(), service.CreateRideCommand{Payload: payload})
	if err != nil {
		h.logger.Error("create_ride_failed", err)
		writeError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, event.Document())
}

// ListRides handles GET /rides
func (h *RideHandler) ListRides(w http.ResponseWriter, r *http.Request) {
	records, err := h.rides.List(r.Context())
	if err != nil {
		h.logger.Error("list_rides_failed", err)
		writeError(w, mapErrorToStatusCode(err), "Could not list rides")
		return
	}

	h.logger.WithFields(logger.LogFields{"count": len(records)}).Debug("rides_listed", "Rides listed")
	writeJSON(w, http.StatusOK, documents(records))
}

// RidesByPaymentMethod handles GET /rides/{payment_method}
func (h *RideHandler) RidesByPaymentMethod(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("payment_method")
	records, err := h.rides.FindByPaymentMethod(r.Context(), method)
	if err != nil {
		h.logger.Error("filter_rides_failed", err)
		writeError(w, mapErrorToStatusCode(err), "Could not filter rides")
		return
	}

	h.logger.WithFields(logger.LogFields{
		"forma_pagamento": method,
		"count":           len(records),
	}).Debug("rides_filtered", "Rides filtered by payment method")
	writeJSON(w, http.StatusOK, documents(records))
}

// DeleteRide handles DELETE /rides/{ride_id}
func (h *RideHandler) DeleteRide(w http.ResponseWriter, r *http.Request) {
	rideID := r.PathValue("ride_id")
	if err := h.rides.Delete(r.Context(), rideID); err != nil {
		status := mapErrorToStatusCode(err)
		if status == http.StatusNotFound {
			writeError(w, status, fmt.Sprintf("Ride %s not found", rideID))
			return
		}
		h.logger.Error("delete_ride_failed", err)
		writeError(w, status, "Could not delete ride")
		return
	}

	h.logger.WithFields(logger.LogFields{"ride_id": rideID}).Info("ride_deleted", "Ride deleted")
	writeJSON(w, http.StatusOK, map[string]string{"mensagem": fmt.Sprintf("Ride %s deleted", rideID)})
}

// GetBalance handles GET /balances/{driver}
func (h *RideHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	driver := r.PathValue("driver")
	balance, err := h.balances.Balance(r.Context(), driver)
	if err != nil {
		h.logger.Error("get_balance_failed", err)
		writeError(w, mapErrorToStatusCode(err), "Could not read balance")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Motorista: driver,
		Saldo:     json.Number(balance.String()),
		Moeda:     "BRL",
	})
}

// SetBalance handles PUT /balances/{driver}?valor=
func (h *RideHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	driver := r.PathValue("driver")
	raw := strings.TrimSpace(r.URL.Query().Get("valor"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Query parameter valor is required")
		return
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Query parameter valor must be a decimal number")
		return
	}
	if err := domain.ValidateAmount(value); err != nil {
		writeError(w, http.StatusBadRequest, "Query parameter valor is out of range")
		return
	}
	if value.IsNegative() {
		writeError(w, http.StatusBadRequest, "Balance cannot be negative")
		return
	}

	if err := h.balances.Set(r.Context(), driver, value); err != nil {
		h.logger.Error("set_balance_failed", err)
		writeError(w, mapErrorToStatusCode(err), "Could not update balance")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Motorista: driver,
		Saldo:     json.Number(value.String()),
		Moeda:     "BRL",
		Mensagem:  "Balance updated",
	})
}

func documents(records []domain.RideRecord) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Document)
	}
	return out
}
