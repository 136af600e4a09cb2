// Package retry holds the pure failure-classification and backoff policy.
// It performs no I/O, which keeps it testable in complete isolation.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// TransientMarker is implemented by errors that represent temporary
// network or server conditions eligible for retry.
type TransientMarker interface {
	Transient() bool
}

// Config tunes the policy. The constants are hand-tuned defaults, not
// contracts; callers may override any of them.
type Config struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// MaxJitter bounds the random component added to each delay.
	MaxJitter time.Duration
}

// DefaultConfig returns the tuned defaults: 4 attempts total, delays of
// 500ms, 1s, 2s capped at 4s, up to 150ms jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   4 * time.Second,
		MaxJitter:  150 * time.Millisecond,
	}
}

// Policy decides retry-vs-fail for one job's attempt sequence.
type Policy struct {
	cfg Config
	// rand is swappable so tests can pin the jitter
	jitterFn func(max time.Duration) time.Duration
}

func NewPolicy(cfg Config) *Policy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Policy{cfg: cfg, jitterFn: randomJitter}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// Decide returns whether the attempt at attemptIndex (0-based) should be
// retried after err, and the delay to wait first. Cancellation always
// propagates, transient errors retry up to the configured bound, and
// anything else gives up immediately.
func (p *Policy) Decide(attemptIndex int, err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	if !IsTransient(err) {
		return 0, false
	}
	if attemptIndex >= p.cfg.MaxRetries {
		return 0, false
	}
	return p.Delay(attemptIndex), true
}

// Delay computes min(cap, base*2^n + jitter) for retry n.
func (p *Policy) Delay(attemptIndex int) time.Duration {
	d := p.cfg.BaseDelay << uint(attemptIndex)
	if d > p.cfg.MaxDelay || d <= 0 {
		d = p.cfg.MaxDelay
	}
	delay := d + p.jitterFn(p.cfg.MaxJitter)
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay
}

// MaxRetries exposes the configured bound for callers composing error
// messages.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// IsTransient classifies err as plausibly caused by temporary network or
// server conditions. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var tm TransientMarker
	if errors.As(err, &tm) {
		return tm.Transient()
	}

	// Attempt-level deadlines (overall timeout, read stall) are transient;
	// they reach here only when the job itself wasn't canceled.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Only operational timeouts count. Every client error arrives wrapped
	// in *url.Error, which satisfies net.Error, so a blanket net.Error
	// check would also sweep in malformed URLs and unsupported schemes.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
