package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/qamatch/collab/pkg/observability"
)

// BreakerConfig configures BreakerStore
type BreakerConfig struct {
	Name            string
	MaxFailures     uint32
	OpenTimeout     time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// BreakerStore decorates a ContentStore with bounded retries and a circuit
// breaker. ErrNotFound and ErrVersionConflict are answers, not failures,
// and are never retried.
type BreakerStore struct {
	next    ContentStore
	breaker *gobreaker.CircuitBreaker
	config  BreakerConfig
	logger  observability.Logger
}

// NewBreakerStore wraps next
func NewBreakerStore(next ContentStore, config BreakerConfig, logger observability.Logger) *BreakerStore {
	if config.Name == "" {
		config.Name = "content-store"
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.InitialInterval == 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Content store circuit breaker changed state", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}

	return &BreakerStore{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		config:  config,
		logger:  logger,
	}
}

// State returns the breaker state
func (b *BreakerStore) State() gobreaker.State {
	return b.breaker.State()
}

// SaveContent saves through the breaker
func (b *BreakerStore) SaveContent(ctx context.Context, documentID, content string, version int64) error {
	return b.execute(ctx, func() error {
		return b.next.SaveContent(ctx, documentID, content, version)
	})
}

// LoadContent loads through the breaker
func (b *BreakerStore) LoadContent(ctx context.Context, documentID string) (string, int64, error) {
	var (
		content string
		version int64
	)
	err := b.execute(ctx, func() error {
		var err error
		content, version, err = b.next.LoadContent(ctx, documentID)
		return err
	})
	if err != nil {
		return "", 0, err
	}
	return content, version, nil
}

// Health reports an open breaker as unhealthy without touching the backend
func (b *BreakerStore) Health(ctx context.Context) error {
	if b.breaker.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return b.next.Health(ctx)
}

// Close closes the wrapped store
func (b *BreakerStore) Close() error {
	return b.next.Close()
}

func (b *BreakerStore) execute(ctx context.Context, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.config.InitialInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithMaxRetries(eb, b.config.MaxRetries)

	operation := func() error {
		_, err := b.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound),
			errors.Is(err, ErrVersionConflict),
			errors.Is(err, gobreaker.ErrOpenState),
			errors.Is(err, gobreaker.ErrTooManyRequests),
			ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
