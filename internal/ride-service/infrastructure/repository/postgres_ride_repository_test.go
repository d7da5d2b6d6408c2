package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"transflow/internal/ride-service/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*PostgresRideRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresRideRepository(mock), mock
}

func sampleRecord() domain.RideRecord {
	return domain.RideRecord{
		RideID:        "r1",
		PaymentMethod: "Pix",
		CreatedAt:     time.Date(2024, 3, 9, 11, 15, 30, 0, time.UTC),
		Document: map[string]interface{}{
			"id_corrida":      "r1",
			"motorista":       map[string]interface{}{"nome": "Ana"},
			"valor_corrida":   json.Number("35.5"),
			"forma_pagamento": "Pix",
		},
	}
}

func TestPostgresRideRepositoryUpsert(t *testing.T) {
	t.Run("first write inserts, second replaces", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		rec := sampleRecord()

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rides")).
			WithArgs(rec.RideID, rec.PaymentMethod, pgxmock.AnyArg(), rec.CreatedAt).
			WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rides")).
			WithArgs(rec.RideID, rec.PaymentMethod, pgxmock.AnyArg(), rec.CreatedAt).
			WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

		first, err := repo.Upsert(context.Background(), rec)
		require.NoError(t, err)
		second, err := repo.Upsert(context.Background(), rec)
		require.NoError(t, err)

		assert.Equal(t, domain.UpsertInserted, first)
		assert.Equal(t, domain.UpsertUpdated, second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rides")).WillReturnError(boom)

		_, err := repo.Upsert(context.Background(), sampleRecord())

		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "r1")
	})
}

func TestPostgresRideRepositoryQueries(t *testing.T) {
	columns := []string{"ride_id", "payment_method", "document", "created_at"}
	created := time.Date(2024, 3, 9, 11, 15, 30, 0, time.UTC)

	t.Run("list decodes documents with exact numbers", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT ride_id, payment_method, document, created_at")).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("r1", "Pix", []byte(`{"id_corrida":"r1","valor_corrida":35.50}`), created).
				AddRow("r2", "", []byte(`{"id_corrida":"r2","valor_corrida":10}`), created.Add(time.Minute)))

		records, err := repo.List(context.Background())

		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "r1", records[0].RideID)
		assert.Equal(t, "Pix", records[0].PaymentMethod)
		assert.Equal(t, json.Number("35.50"), records[0].Document["valor_corrida"])
		assert.Equal(t, created, records[0].CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filter passes the method through", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(payment_method) = lower($1)")).
			WithArgs("pix").
			WillReturnRows(pgxmock.NewRows(columns))

		records, err := repo.FindByPaymentMethod(context.Background(), "pix")

		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt document is an error", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT ride_id, payment_method, document, created_at")).
			WillReturnRows(pgxmock.NewRows(columns).AddRow("r1", "Pix", []byte(`not json`), created))

		_, err := repo.List(context.Background())

		assert.Error(t, err)
	})
}

func TestPostgresRideRepositoryDelete(t *testing.T) {
	t.Run("existing ride", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rides WHERE ride_id = $1")).
			WithArgs("r1").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		assert.NoError(t, repo.Delete(context.Background(), "r1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown ride", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rides WHERE ride_id = $1")).
			WithArgs("nope").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, repo.Delete(context.Background(), "nope"), domain.ErrRideNotFound)
	})
}

func TestPostgresRideRepositorySchemaAndPing(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS rides")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS rides_payment_method_idx")).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.Error(t, repo.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRideRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRideRepository()

	rec := sampleRecord()
	result, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertInserted, result)

	rec.PaymentMethod = "PIX"
	result, err = repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, result)

	other := sampleRecord()
	other.RideID = "r2"
	other.PaymentMethod = "Dinheiro"
	_, err = repo.Upsert(ctx, other)
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pix, err := repo.FindByPaymentMethod(ctx, "pix")
	require.NoError(t, err)
	require.Len(t, pix, 1)
	assert.Equal(t, "r1", pix[0].RideID)

	require.NoError(t, repo.Delete(ctx, "r1"))
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrRideNotFound)
}
