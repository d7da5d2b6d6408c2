package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"transflow/internal/ride-service/domain"
)

// Compile-time check: MemoryRideRepository implements domain.RideRepository
var _ domain.RideRepository = (*MemoryRideRepository)(nil)

// MemoryRideRepository is a mutex-guarded in-memory ride store.
type MemoryRideRepository struct {
	mu    sync.RWMutex
	rides map[string]domain.RideRecord
}

func NewMemoryRideRepository() *MemoryRideRepository {
	return &MemoryRideRepository{
		rides: make(map[string]domain.RideRecord),
	}
}

func (r *MemoryRideRepository) Upsert(ctx context.Context, record domain.RideRecord) (domain.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.rides[record.RideID]
	r.rides[record.RideID] = record
	if exists {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertInserted, nil
}

func (r *MemoryRideRepository) List(ctx context.Context) ([]domain.RideRecord, error) {
	return r.filter(ctx, func(domain.RideRecord) bool { return true })
}

func (r *MemoryRideRepository) FindByPaymentMethod(ctx context.Context, method string) ([]domain.RideRecord, error) {
	return r.filter(ctx, func(rec domain.RideRecord) bool {
		return strings.EqualFold(rec.PaymentMethod, method)
	})
}

func (r *MemoryRideRepository) Delete(ctx context.Context, rideID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rides[rideID]; !ok {
		return domain.ErrRideNotFound
	}
	delete(r.rides, rideID)
	return nil
}

func (r *MemoryRideRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRideRepository) filter(ctx context.Context, keep func(domain.RideRecord) bool) ([]domain.RideRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RideRecord, 0, len(r.rides))
	for _, rec := range r.rides {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RideID < out[j].RideID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
