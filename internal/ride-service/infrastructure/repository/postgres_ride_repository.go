package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transflow/internal/ride-service/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rides (
		ride_id        TEXT PRIMARY KEY,
		payment_method TEXT NOT NULL DEFAULT '',
		document       JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS rides_payment_method_idx ON rides (lower(payment_method))`,
}

const (
	upsertRideSQL = `
		INSERT INTO rides (ride_id, payment_method, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (ride_id) DO UPDATE SET
			payment_method = EXCLUDED.payment_method,
			document = EXCLUDED.document,
			created_at = EXCLUDED.created_at,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	listRidesSQL = `
		SELECT ride_id, payment_method, document, created_at
		FROM rides
		ORDER BY created_at, ride_id`

	ridesByPaymentMethodSQL = `
		SELECT ride_id, payment_method, document, created_at
		FROM rides
		WHERE lower(payment_method) = lower($1)
		ORDER BY created_at, ride_id`

	deleteRideSQL = `DELETE FROM rides WHERE ride_id = $1`
)

// Compile-time check: PostgresRideRepository implements domain.RideRepository
var _ domain.RideRepository = (*PostgresRideRepository)(nil)

// PostgresRideRepository keeps one JSONB document per ride_id.
type PostgresRideRepository struct {
	db DB
}

// NewPostgresRideRepository creates a new PostgreSQL repository
func NewPostgresRideRepository(db DB) *PostgresRideRepository {
	return &PostgresRideRepository{
		db: db,
	}
}

// EnsureSchema creates the rides table when missing.
func (r *PostgresRideRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure rides schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts the ride or replaces the stored one with the same id.
func (r *PostgresRideRepository) Upsert(ctx context.Context, record domain.RideRecord) (domain.UpsertResult, error) {
	document, err := json.Marshal(record.Document)
	if err != nil {
		return 0, fmt.Errorf("encode ride %s: %w", record.RideID, err)
	}

	var inserted bool
	err = r.db.QueryRow(ctx, upsertRideSQL,
		record.RideID,
		record.PaymentMethod,
		document,
		record.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("upsert ride %s: %w", record.RideID, err)
	}

	if inserted {
		return domain.UpsertInserted, nil
	}
	return domain.UpsertUpdated, nil
}

// List returns every stored ride, oldest first.
func (r *PostgresRideRepository) List(ctx context.Context) ([]domain.RideRecord, error) {
	rows, err := r.db.Query(ctx, listRidesSQL)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	return collectRecords(rows)
}

// FindByPaymentMethod matches forma_pagamento ignoring case.
func (r *PostgresRideRepository) FindByPaymentMethod(ctx context.Context, method string) ([]domain.RideRecord, error) {
	rows, err := r.db.Query(ctx, ridesByPaymentMethodSQL, method)
	if err != nil {
		return nil, fmt.Errorf("query rides by payment method: %w", err)
	}
	return collectRecords(rows)
}

// Delete removes a ride
func (r *PostgresRideRepository) Delete(ctx context.Context, rideID string) error {
	tag, err := r.db.Exec(ctx, deleteRideSQL, rideID)
	if err != nil {
		return fmt.Errorf("delete ride: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRideNotFound
	}
	return nil
}

func (r *PostgresRideRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func collectRecords(rows pgx.Rows) ([]domain.RideRecord, error) {
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("scan rides: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.CollectableRow) (domain.RideRecord, error) {
	var (
		record    domain.RideRecord
		document  []byte
		createdAt time.Time
	)
	if err := row.Scan(&record.RideID, &record.PaymentMethod, &document, &createdAt); err != nil {
		return domain.RideRecord{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(document))
	dec.UseNumber()
	if err := dec.Decode(&record.Document); err != nil {
		return domain.RideRecord{}, fmt.Errorf("decode ride %s document: %w", record.RideID, err)
	}
	record.CreatedAt = createdAt.UTC()
	return record, nil
}
