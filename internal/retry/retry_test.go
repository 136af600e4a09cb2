package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"
)

type markedErr struct{ transient bool }

func (e *markedErr) Error() string   { return "marked" }
func (e *markedErr) Transient() bool { return e.transient }

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "i/o timeout" }
func (*timeoutErr) Timeout() bool { return true }

func noJitter(p *Policy) *Policy {
	p.jitterFn = func(time.Duration) time.Duration { return 0 }
	return p
}

func TestDecide_RetryBound(t *testing.T) {
	p := noJitter(NewPolicy(Config{MaxRetries: 3}))
	err := &markedErr{transient: true}

	retries := 0
	for attempt := 0; ; attempt++ {
		_, again := p.Decide(attempt, err)
		if !again {
			break
		}
		retries++
	}

	if retries != 3 {
		t.Errorf("got %d retries, want 3", retries)
	}
}

func TestDecide_CancellationNeverRetried(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	if _, again := p.Decide(0, context.Canceled); again {
		t.Error("context.Canceled must never be retried")
	}
	wrapped := fmt.Errorf("request failed: %w", context.Canceled)
	if _, again := p.Decide(0, wrapped); again {
		t.Error("wrapped cancellation must never be retried")
	}
}

func TestDecide_NonTransientGivesUp(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	if _, again := p.Decide(0, errors.New("permission denied")); again {
		t.Error("unclassified errors give up after the first attempt")
	}
	if _, again := p.Decide(0, &markedErr{transient: false}); again {
		t.Error("explicitly non-transient errors give up")
	}
	badURL := &url.Error{Op: "parse", URL: "://bad-url",
		Err: errors.New("missing protocol scheme")}
	if _, again := p.Decide(0, badURL); again {
		t.Error("a malformed URL can never succeed on retry")
	}
}

func TestDelay_MonotonicGrowthToCap(t *testing.T) {
	cfg := Config{
		MaxRetries: 10,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
	}
	p := noJitter(NewPolicy(cfg))

	var prev time.Duration
	atCap := false
	for n := 0; n < 8; n++ {
		d := p.Delay(n)
		if d > cfg.MaxDelay {
			t.Fatalf("delay %v exceeds cap %v", d, cfg.MaxDelay)
		}
		if atCap {
			if d != cfg.MaxDelay {
				t.Errorf("delay after reaching cap = %v, want %v", d, cfg.MaxDelay)
			}
			continue
		}
		if d <= prev && n > 0 {
			t.Errorf("delay %v at n=%d not greater than previous %v", d, n, prev)
		}
		if d == cfg.MaxDelay {
			atCap = true
		}
		prev = d
	}
	if !atCap {
		t.Error("delays never reached the cap")
	}
}

func TestDelay_JitterBounded(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPolicy(cfg)

	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d < cfg.BaseDelay {
			t.Fatalf("delay %v below base %v", d, cfg.BaseDelay)
		}
		if d > cfg.BaseDelay+cfg.MaxJitter {
			t.Fatalf("delay %v exceeds base+jitter %v", d, cfg.BaseDelay+cfg.MaxJitter)
		}
	}
}

func TestIsTransient_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"marked transient", &markedErr{transient: true}, true},
		{"marked fatal", &markedErr{transient: false}, false},
		{"plain error", errors.New("disk full"), false},
		// *url.Error satisfies net.Error, but only its timeouts retry
		{"malformed url", &url.Error{Op: "parse", URL: "://bad-url",
			Err: errors.New("missing protocol scheme")}, false},
		{"unsupported scheme", &url.Error{Op: "Get", URL: "foo://x",
			Err: errors.New(`unsupported protocol scheme "foo"`)}, false},
		{"client timeout", &url.Error{Op: "Get", URL: "http://x",
			Err: &net.OpError{Op: "dial", Err: &timeoutErr{}}}, true},
		{"wrapped refused", &url.Error{Op: "Get", URL: "http://x",
			Err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED)}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
