package domain

import "context"

// RideRepository is the interface (port) for ride persistence
// This belongs in domain layer - implementation is in infrastructure
type RideRepository interface {
	// Upsert inserts the record or fully replaces the one with the same ride id
	Upsert(ctx context.Context, record RideRecord) (UpsertResult, error)

	// List returns every stored ride document
	List(ctx context.Context) ([]RideRecord, error)

	// FindByPaymentMethod matches forma_pagamento case-insensitively
	FindByPaymentMethod(ctx context.Context, method string) ([]RideRecord, error)

	// Delete removes a ride; ErrRideNotFound when nothing matched
	Delete(ctx context.Context, rideID string) error
}
