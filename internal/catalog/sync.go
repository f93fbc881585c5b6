package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront/internal/model"
	"storefront/internal/retry"
)

// Source fetches the full set of raw product rows.
type Source interface {
	Fetch(ctx context.Context) ([]model.RawProduct, error)
}

// Syncer refreshes a Cache from a Source.
type Syncer struct {
	source Source
	cache  *Cache
	policy retry.Policy
	logger *slog.Logger
}

// SyncResult describes one sync trigger.
type SyncResult struct {
	Products       int           `json:"products"`
	Groups         int           `json:"groups"`
	Attempts       int           `json:"attempts"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
	AlreadySyncing bool          `json:"already_syncing"`
}

// NewSyncer creates a syncer. policy bounds the retrying variant.
func NewSyncer(source Source, cache *Cache, policy retry.Policy, logger *slog.Logger) *Syncer {
	return &Syncer{
		source: source,
		cache:  cache,
		policy: policy,
		logger: logger,
	}
}

// Sync fetches once and updates the cache. Used by the admin trigger, where
// the operator sees the error and can retry by hand.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	return s.run(ctx, retry.Policy{MaxAttempts: 1})
}

// SyncWithRetry fetches with bounded exponential backoff. Permanent source
// errors (authentication, incompatible sheet) are not retried.
func (s *Syncer) SyncWithRetry(ctx context.Context) (*SyncResult, error) {
	return s.run(ctx, s.policy)
}

func (s *Syncer) run(ctx context.Context, policy retry.Policy) (*SyncResult, error) {
	if !s.cache.TryStartSync() {
		s.logger.InfoContext(ctx, "product sync already running, skipping")
		return &SyncResult{AlreadySyncing: true}, nil
	}
	defer s.cache.SetSyncing(false)

	start := time.Now()
	attempts := 0
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.WarnContext(ctx, "product fetch failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if userHook != nil {
			userHook(attempt, err, delay)
		}
	}

	rows, err := retry.Do(ctx, policy, func(ctx context.Context) ([]model.RawProduct, error) {
		attempts++
		return s.source.Fetch(ctx)
	})
	if err != nil {
		// Keep serving the previous snapshot.
		s.cache.RecordFailure(err)
		s.logger.ErrorContext(ctx, "product sync failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, model.NewUpstreamError("product source", err)
	}

	s.cache.Update(rows)
	status := s.cache.Status()
	result := &SyncResult{
		Products: status.ProductCount,
		Groups:   status.GroupCount,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	result.DurationMS = result.Duration.Milliseconds()

	s.logger.InfoContext(ctx, "product sync complete",
		slog.Int("products", result.Products),
		slog.Int("groups", result.Groups),
		slog.Int("attempts", attempts),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
