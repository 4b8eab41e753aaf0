// Package health reports readiness of the pipeline's backing services:
// Postgres, the Redis session cache, the archive bucket and the analytics
// job queue.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vitalsink/vitalsink/internal/store"
)

// StorageHealthChecker is satisfied by the archive bucket client.
type StorageHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Status string

const (
	StatusHealthy Status = "healthy"
	// StatusDegraded means the service works but a probe crossed a soft
	// threshold, such as a job queue backlog.
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// A probe checks one dependency and may report a detail string (queue depth,
// bucket name) alongside the verdict.
type probe struct {
	name string
	run  func(ctx context.Context) (status Status, detail string, err error)
}

// DefaultBacklogLimit is the pending-job count past which the queue probe
// reports degraded instead of healthy.
const DefaultBacklogLimit = 500

type Checker struct {
	probes       []probe
	backlogLimit int64
}

// NewChecker probes Postgres and, when a client is given, Redis. Daemons add
// their own dependencies with WithStorage and WithQueue.
func NewChecker(pool *pgxpool.Pool, redisClient *redis.Client) *Checker {
	c := &Checker{backlogLimit: DefaultBacklogLimit}
	if pool != nil {
		c.probes = append(c.probes, probe{name: "database", run: func(ctx context.Context) (Status, string, error) {
			if err := pool.Ping(ctx); err != nil {
				return StatusUnhealthy, "", err
			}
			return StatusHealthy, "", nil
		}})
	}
	if redisClient != nil {
		c.probes = append(c.probes, probe{name: "redis", run: func(ctx context.Context) (Status, string, error) {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return StatusUnhealthy, "", err
			}
			return StatusHealthy, "", nil
		}})
	}
	return c
}

// WithStorage adds a probe for the archive bucket.
func (c *Checker) WithStorage(s StorageHealthChecker) *Checker {
	c.probes = append(c.probes, probe{name: "storage", run: func(ctx context.Context) (Status, string, error) {
		if err := s.HealthCheck(ctx); err != nil {
			return StatusUnhealthy, "", err
		}
		return StatusHealthy, "", nil
	}})
	return c
}

// WithQueue adds a probe that reports the analytics queue depth. A backlog
// past the limit degrades the verdict without failing readiness.
func (c *Checker) WithQueue(st store.Store) *Checker {
	c.probes = append(c.probes, probe{name: "job_queue", run: func(ctx context.Context) (Status, string, error) {
		counts, err := st.CountJobsByStatus(ctx)
		if err != nil {
			return StatusUnhealthy, "", err
		}
		pending := counts[store.JobStatusPending]
		detail := fmt.Sprintf("%d pending", pending)
		if pending > c.backlogLimit {
			return StatusDegraded, detail, nil
		}
		return StatusHealthy, detail, nil
	}})
	return c
}

// CheckAll runs every probe in parallel under a shared timeout. The overall
// verdict is the worst component verdict.
func (c *Checker) CheckAll(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	components := make([]ComponentHealth, len(c.probes))
	var wg sync.WaitGroup
	for i, p := range c.probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			components[i] = runProbe(ctx, p)
		}(i, p)
	}
	wg.Wait()

	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}

	return HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	}
}

func runProbe(ctx context.Context, p probe) ComponentHealth {
	start := time.Now()
	status, detail, err := p.run(ctx)
	comp := ComponentHealth{
		Name:    p.name,
		Status:  status,
		Latency: time.Since(start).Milliseconds(),
		Detail:  detail,
	}
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	}
	return comp
}

func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

// ReadinessHandler serves 503 only for a hard failure; a degraded verdict
// still accepts traffic.
func ReadinessHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func HealthHandler(checker *Checker) http.HandlerFunc {
	return ReadinessHandler(checker)
}
