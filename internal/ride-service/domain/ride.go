package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrMalformedEvent  = errors.New("malformed ride event")
	ErrRideNotFound    = errors.New("ride not found")
	ErrDriverRequired  = errors.New("driver name is required")
	ErrFareNotPositive = errors.New("fare amount must be positive")
	ErrRideIDRequired  = errors.New("ride id is required")
)

// Wire field names of the ride message. They are part of the queue contract
// shared with other producers, hence not translated.
const (
	FieldRideID        = "id_corrida"
	FieldDriver        = "motorista"
	FieldDriverName    = "nome"
	FieldFare          = "valor_corrida"
	FieldCreatedAt     = "data_criacao"
	FieldPaymentMethod = "forma_pagamento"
)

// RideEvent is a finished ride as it travels through the queue. It is
// immutable once built.
type RideEvent struct {
	rideID     string
	driverName string
	fareAmount decimal.Decimal
	createdAt  time.Time
	attributes map[string]interface{}
}

// NewRideEvent builds an event, validating the fields the ledger and the
// store depend on. attributes carries every other payload field untouched.
func NewRideEvent(
	rideID string,
	driverName string,
	fareAmount decimal.Decimal,
	createdAt time.Time,
	attributes map[string]interface{},
) (RideEvent, error) {
	if strings.TrimSpace(rideID) == "" {
		return RideEvent{}, ErrRideIDRequired
	}
	if strings.TrimSpace(driverName) == "" {
		return RideEvent{}, ErrDriverRequired
	}
	if !fareAmount.IsPositive() {
		return RideEvent{}, ErrFareNotPositive
	}

	return RideEvent{
		rideID:     rideID,
		driverName: driverName,
		fareAmount: fareAmount,
		createdAt:  createdAt.UTC(),
		attributes: cloneMap(attributes),
	}, nil
}

func (e RideEvent) RideID() string              { return e.rideID }
func (e RideEvent) DriverName() string          { return e.driverName }
func (e RideEvent) FareAmount() decimal.Decimal { return e.fareAmount }
func (e RideEvent) CreatedAt() time.Time        { return e.createdAt }

// Attributes returns a copy of the opaque payload fields.
func (e RideEvent) Attributes() map[string]interface{} {
	return cloneMap(e.attributes)
}

// PaymentMethod is the forma_pagamento attribute, empty when absent.
func (e RideEvent) PaymentMethod() string {
	method, _ := e.attributes[FieldPaymentMethod].(string)
	return method
}

// Document is the full payload with the typed fields written back in
// canonical form: the fare as an exact JSON number and the creation time as
// RFC 3339 text.
func (e RideEvent) Document() map[string]interface{} {
	doc := cloneMap(e.attributes)

	driver, _ := doc[FieldDriver].(map[string]interface{})
	if driver == nil {
		driver = make(map[string]interface{})
	}
	driver[FieldDriverName] = e.driverName

	doc[FieldRideID] = e.rideID
	doc[FieldDriver] = driver
	doc[FieldFare] = json.Number(e.fareAmount.String())
	doc[FieldCreatedAt] = e.createdAt.Format(time.RFC3339Nano)
	return doc
}

// Record is the persisted projection of the event.
func (e RideEvent) Record() RideRecord {
	return RideRecord{
		RideID:        e.rideID,
		PaymentMethod: e.PaymentMethod(),
		CreatedAt:     e.createdAt,
		Document:      e.Document(),
	}
}

// RideRecord is what the ride store keeps per ride_id.
type RideRecord struct {
	RideID        string
	PaymentMethod string
	CreatedAt     time.Time
	Document      map[string]interface{}
}

// UpsertResult tells whether an upsert created the record or replaced it.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota + 1
	UpsertUpdated
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
