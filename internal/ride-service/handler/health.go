package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health answers 200 when every dependency responds and 503 otherwise,
// listing each dependency's state.
func Health(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Services:  make(map[string]string, len(checks)),
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, check := range checks {
			wg.Add(1)
			go func(check HealthCheck) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
				defer cancel()

				state := "healthy"
				if err := check.Check(ctx); err != nil {
					state = "unhealthy: " + err.Error()
				}

				mu.Lock()
				defer mu.Unlock()
				resp.Services[check.Name] = state
				if state != "healthy" {
					resp.Status = "degraded"
				}
			}(check)
		}
		wg.Wait()

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
