package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/llm"
)

// Operation is one external generation call. The invoker may call it
// several times.
type Operation func(ctx context.Context) error

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Gate      *CoolOffGate
	RetryMax  int           // additional attempts after the first; 0 disables retries
	BaseDelay time.Duration // backoff base (default 1.5s)
	CoolOff   time.Duration // gate duration on rate-limit (default 60m)
	Logger    *slog.Logger

	// Sleep overrides backoff waiting, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Invoker executes provider operations under the shared cool-off gate
// with bounded retries for transient errors.
type Invoker struct {
	gate      *CoolOffGate
	retryMax  int
	baseDelay time.Duration
	coolOff   time.Duration
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an invoker. cfg.Gate is required; everything else
// has defaults.
func NewInvoker(cfg InvokerConfig) *Invoker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1500 * time.Millisecond
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = time.Hour
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Invoker{
		gate:      cfg.Gate,
		retryMax:  cfg.RetryMax,
		baseDelay: cfg.BaseDelay,
		coolOff:   cfg.CoolOff,
		logger:    logger.With("component", "resilience"),
		sleep:     sleep,
	}
}

// Gate exposes the shared cool-off gate so scheduler loops can sleep on
// it before starting a cycle.
func (inv *Invoker) Gate() *CoolOffGate {
	return inv.gate
}

// Do runs op under the gate and the retry policy:
//
//   - gate active: refuse immediately with *CoolingOffError, no call
//   - rate-limit/quota error: arm the gate and fail, no further tries
//   - transient error: exponential backoff with jitter, retry
//   - anything else: fail immediately
func (inv *Invoker) Do(ctx context.Context, label string, op Operation) error {
	if rem := inv.gate.Remaining(); rem > 0 {
		return &CoolingOffError{Label: label, Remaining: rem}
	}

	var lastErr error
	for attempt := 0; attempt <= inv.retryMax; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if llm.IsRateLimit(err) {
			inv.gate.Trip(inv.coolOff)
			inv.logger.Error("provider rate limited, cooling off",
				"label", label,
				"coolOff", inv.coolOff,
				"error", err,
			)
			return err
		}

		if !llm.IsTransient(err) {
			return err
		}

		if attempt == inv.retryMax {
			break
		}

		delay := jitter(inv.baseDelay * (1 << attempt))
		inv.logger.Warn("transient provider error, retrying",
			"label", label,
			"attempt", attempt+1,
			"retryMax", inv.retryMax,
			"delay", delay,
			"error", err,
		)
		if err := inv.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// jitter spreads d uniformly across 75-125% of its value so synchronized
// retries don't stampede the provider.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
