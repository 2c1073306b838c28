package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OpKind identifies a backend operation class for circuit breaking.
type OpKind string

const (
	OpUpload   OpKind = "upload"
	OpDownload OpKind = "download"
	OpList     OpKind = "list"
	OpDelete   OpKind = "delete"
)

// CircuitState is the breaker state for one operation kind.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ResilienceConfig tunes the circuit breaker and retry policy.
type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenCooldown     time.Duration `yaml:"open_cooldown"`
	MaxRetries       uint64        `yaml:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// DefaultResilienceConfig returns the settings used when none are configured.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		FailureThreshold: 5,
		OpenCooldown:     30 * time.Second,
		MaxRetries:       3,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
	}
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	def := DefaultResilienceConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.OpenCooldown <= 0 {
		c.OpenCooldown = def.OpenCooldown
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	return c
}

// breaker is a single-operation circuit breaker.
// OPEN short-circuits until the cooldown elapses, then HALF_OPEN admits one
// trial call; trial success closes the circuit, trial failure reopens it.
type breaker struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	trialInFlight bool

	threshold int
	cooldown  time.Duration
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return wrapError(CodeCircuitOpen, true, fmt.Errorf("circuit open, retry after %s", b.cooldown-time.Since(b.openedAt)))
		}
		b.state = CircuitHalfOpen
		b.trialInFlight = true
		return nil
	case CircuitHalfOpen:
		if b.trialInFlight {
			return wrapError(CodeCircuitOpen, true, fmt.Errorf("circuit half-open, trial in flight"))
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.trialInFlight = false
		if err == nil {
			b.state = CircuitClosed
			b.failures = 0
			return
		}
		b.state = CircuitOpen
		b.openedAt = time.Now()
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == CircuitClosed && b.failures >= b.threshold {
		b.state = CircuitOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) currentState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Resilient decorates a Backend with per-operation circuit breakers and a
// retry policy. Retries run synchronously in the calling goroutine.
type Resilient struct {
	inner    Backend
	cfg      ResilienceConfig
	breakers map[OpKind]*breaker
	logger   *slog.Logger
}

// NewResilient wraps a backend with the resilience policy.
func NewResilient(inner Backend, cfg ResilienceConfig, logger *slog.Logger) *Resilient {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[OpKind]*breaker, 4)
	for _, kind := range []OpKind{OpUpload, OpDownload, OpList, OpDelete} {
		breakers[kind] = &breaker{threshold: cfg.FailureThreshold, cooldown: cfg.OpenCooldown}
	}
	return &Resilient{inner: inner, cfg: cfg, breakers: breakers, logger: logger}
}

// State returns the breaker state for an operation kind.
func (r *Resilient) State(kind OpKind) CircuitState {
	return r.breakers[kind].currentState()
}

func (r *Resilient) do(ctx context.Context, kind OpKind, fn func() error) error {
	br := r.breakers[kind]
	if err := br.allow(); err != nil {
		r.logger.Warn("storage call short-circuited", "op", string(kind))
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("storage call failed, retrying", "op", string(kind), "attempt", attempt, "err", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialBackoff
	bo.MaxInterval = r.cfg.MaxBackoff
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.cfg.MaxRetries), ctx))
	br.record(err)
	return err
}

func (r *Resilient) Upload(ctx context.Context, localPath, remotePath string) error {
	return r.do(ctx, OpUpload, func() error { return r.inner.Upload(ctx, localPath, remotePath) })
}

func (r *Resilient) Download(ctx context.Context, remotePath, localPath string) error {
	return r.do(ctx, OpDownload, func() error { return r.inner.Download(ctx, remotePath, localPath) })
}

func (r *Resilient) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.do(ctx, OpList, func() error {
		var listErr error
		keys, listErr = r.inner.List(ctx, prefix)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Resilient) Delete(ctx context.Context, remotePath string) error {
	return r.do(ctx, OpDelete, func() error { return r.inner.Delete(ctx, remotePath) })
}

// HealthCheck bypasses the breakers: the probe has to reach the backend to
// report partial results even while operations are tripped.
func (r *Resilient) HealthCheck(ctx context.Context) *HealthReport {
	return r.inner.HealthCheck(ctx)
}
