package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docsage/internal/resilience"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_llm_calls_total",
		Help: "LLM calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsage_llm_call_duration_seconds",
		Help:    "LLM call latency.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
	}, []string{"provider"})
)

// GuardConfig configures a Guard. A zero RatePerSec disables rate limiting.
type GuardConfig struct {
	RatePerSec       float64
	Burst            int
	FailureThreshold int
	Cooldown         time.Duration
}

// Guard wraps a Completer with a client-side rate limit and a circuit
// breaker. It never retries: every attempt is a billed call.
type Guard struct {
	next    Completer
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewGuard wraps next.
func NewGuard(next Completer, cfg GuardConfig) *Guard {
	g := &Guard{next: next}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	g.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "llm." + next.Name(),
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		Counts:           countsAgainstUpstream,
		OnStateChange: func(name string, from, to resilience.State) {
			zap.L().Warn("llm circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return g
}

// Name returns the wrapped provider name.
func (g *Guard) Name() string { return g.next.Name() }

// Breaker exposes the breaker for health reporting.
func (g *Guard) Breaker() *resilience.Breaker { return g.breaker }

func (g *Guard) Complete(ctx context.Context, systemPrompt, userMessage, documentURL string) (string, error) {
	provider := g.next.Name()
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			callsTotal.WithLabelValues(provider, "rate_limited").Inc()
			return "", eris.Wrap(err, "llm: rate limit wait")
		}
	}

	start := time.Now()
	text, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.next.Complete(ctx, systemPrompt, userMessage, documentURL)
	})
	callDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	callsTotal.WithLabelValues(provider, outcome(err)).Inc()
	return text, err
}

// countsAgainstUpstream ignores caller cancellation and our own malformed
// requests when judging upstream health.
func countsAgainstUpstream(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyCompletion) || resilience.IsTransient(err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
