package artifact

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/metrics"
	"github.com/timebloom/backend/pkg/retry"
)

type ResilientConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Retry            retry.Config
	Logger           *zap.Logger
}

// Resilient guards a backend with retries and a circuit breaker. Missing
// artifacts pass through as ErrNotFound and do not count as failures.
type Resilient struct {
	next    Store
	breaker *gobreaker.CircuitBreaker[[]byte]
	retry   retry.Config
	logger  *zap.Logger
}

func NewResilient(next Store, cfg ResilientConfig) *Resilient {
	if cfg.Name == "" {
		cfg.Name = "artifact-store"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Resilient{
		next:   next,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}
	if r.retry.Logger == nil {
		r.retry.Logger = cfg.Logger
	}
	r.retry.Retryable = retryable

	threshold := cfg.FailureThreshold
	r.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			cfg.Logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return r
}

func (r *Resilient) Save(ctx context.Context, name string, blob []byte) error {
	err := retry.Do(ctx, r.retry, func() error {
		_, err := r.breaker.Execute(func() ([]byte, error) {
			return nil, r.next.Save(ctx, name, blob)
		})
		return err
	})
	observe("save", err)
	if err != nil {
		r.logger.Error("Failed to save artifact", zap.String("name", name), zap.Error(err))
	}
	return err
}

func (r *Resilient) Load(ctx context.Context, name string) ([]byte, error) {
	blob, err := retry.DoWithResult(ctx, r.retry, func() ([]byte, error) {
		blob, err := r.breaker.Execute(func() ([]byte, error) {
			return r.next.Load(ctx, name)
		})
		if errors.Is(err, ErrNotFound) {
			return nil, retry.Permanent(err)
		}
		return blob, err
	})
	observe("load", err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error("Failed to load artifact", zap.String("name", name), zap.Error(err))
	}
	return blob, err
}

// State reports the breaker state, mainly for status endpoints and tests.
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func observe(op string, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, gobreaker.ErrOpenState):
		status = "rejected"
	default:
		status = "error"
	}
	metrics.ArtifactOps.WithLabelValues(op, status).Inc()
}
