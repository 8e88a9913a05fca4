package feed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
)

// RetryConfig bounds vendor calls: each attempt runs under its own timeout,
// failed attempts back off exponentially, and all attempts pass through a
// shared rate limiter so a backfill loop cannot hammer the vendor.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts" envconfig:"ATTEMPTS" default:"3" validate:"min=1"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" envconfig:"ATTEMPT_TIMEOUT" default:"30s" validate:"gt=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" envconfig:"INITIAL_BACKOFF" default:"500ms" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF" default:"10s" validate:"gt=0"`

	// RequestsPerSecond caps the vendor call rate across all symbols.
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" default:"4" validate:"gt=0"`
}

// DefaultRetryConfig returns the standard vendor retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:          3,
		AttemptTimeout:    30 * time.Second,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		RequestsPerSecond: 4,
	}
}

// RetryingChainSource wraps a ChainSource with retries, per-attempt timeouts
// and rate limiting. Exhausted attempts surface as a vendor-unavailable
// error, which is fatal for the day's run.
type RetryingChainSource struct {
	inner   ChainSource
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	// OnRetry is invoked once per failed attempt, for metrics.
	OnRetry func()
}

// NewRetryingChainSource wraps inner with the retry policy.
func NewRetryingChainSource(inner ChainSource, cfg RetryConfig, logger *slog.Logger) *RetryingChainSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingChainSource{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

// FetchChain implements ChainSource.
func (s *RetryingChainSource) FetchChain(ctx context.Context, symbol string, asOf time.Time) (chain.Snapshot, error) {
	const op = "feed.FetchChain"

	var snap chain.Snapshot
	err := s.withRetries(ctx, op, symbol, func(attemptCtx context.Context) error {
		var err error
		snap, err = s.inner.FetchChain(attemptCtx, symbol, asOf)
		return err
	})
	if err != nil {
		return chain.Snapshot{}, err
	}
	return snap, nil
}

func (s *RetryingChainSource) withRetries(ctx context.Context, op, symbol string, call func(context.Context) error) error {
	backoff := s.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.KindVendorUnavailable, op, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		err := call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		// Structural rejections from the vendor payload are not transient;
		// retrying the same day would return the same data.
		if errs.Is(err, errs.KindValidation) {
			return err
		}

		if s.OnRetry != nil {
			s.OnRetry()
		}
		s.logger.WarnContext(ctx, "vendor call failed",
			"op", op,
			"symbol", symbol,
			"attempt", attempt,
			"max_attempts", s.cfg.Attempts,
			"backoff", backoff,
			"error", err,
		)

		if attempt == s.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindVendorUnavailable, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}

	return errs.New(errs.KindVendorUnavailable, op,
		"%s: all %d attempts failed: %v", symbol, s.cfg.Attempts, lastErr)
}

// RetryingPriceHistory wraps a PriceHistory with the same retry policy.
type RetryingPriceHistory struct {
	inner   PriceHistory
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	OnRetry func()
}

// NewRetryingPriceHistory wraps inner with the retry policy.
func NewRetryingPriceHistory(inner PriceHistory, cfg RetryConfig, logger *slog.Logger) *RetryingPriceHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingPriceHistory{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

// Closes implements PriceHistory.
func (s *RetryingPriceHistory) Closes(ctx context.Context, symbol string, through time.Time) ([]float64, error) {
	const op = "feed.Closes"

	backoff := s.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.KindVendorUnavailable, op, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		closes, err := s.inner.Closes(attemptCtx, symbol, through)
		cancel()
		if err == nil {
			return closes, nil
		}
		lastErr = err

		if s.OnRetry != nil {
			s.OnRetry()
		}
		s.logger.WarnContext(ctx, "price history call failed",
			"symbol", symbol,
			"attempt", attempt,
			"max_attempts", s.cfg.Attempts,
			"error", err,
		)

		if attempt == s.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindVendorUnavailable, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}

	return nil, errs.New(errs.KindVendorUnavailable, op,
		"%s: all %d attempts failed: %v", symbol, s.cfg.Attempts, lastErr)
}
