package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryWithExponentialBackoff(t *testing.T) {
	transient := errors.New("stt timeout")

	tests := []struct {
		name         string
		maxAttempts  int
		failFirst    int // attempts that fail before success, -1 for all
		permanent    bool
		wantErr      error
		wantAttempts int
	}{
		{"succeeds after transient failure", 3, 1, false, nil, 2},
		{"gives up after max attempts", 3, -1, false, transient, 3},
		{"does not retry permanent errors", 5, -1, true, transient, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetryConfig()
			cfg.MaxAttempts = tt.maxAttempts
			cfg.InitialInterval = 5 * time.Millisecond

			attempts := 0
			err := RetryWithExponentialBackoff(context.Background(), cfg, func() error {
				attempts++
				if tt.failFirst >= 0 && attempts > tt.failFirst {
					return nil
				}
				if tt.permanent {
					return Permanent(transient)
				}
				return transient
			})

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantErr, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetryWithExponentialBackoff_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 10
	cfg.InitialInterval = 100 * time.Millisecond

	attempts := 0
	err := RetryWithExponentialBackoff(ctx, cfg, func() error {
		attempts++
		return errors.New("slow failure")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestPermanent(t *testing.T) {
	boom := errors.New("bad request")

	assert.False(t, IsPermanent(boom))
	assert.True(t, IsPermanent(Permanent(boom)))
	assert.NoError(t, Permanent(nil))
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	boom := errors.New("provider down")
	for i := 0; i < 3; i++ {
		assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// open circuit sheds calls without running them
	ran := false
	err := cb.Execute(func() error {
		ran = true
		return nil
	})
	assert.Equal(t, ErrCircuitOpen, err)
	assert.False(t, ran)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	boom := errors.New("provider down")
	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return boom })

	// the success in between kept the count below the threshold
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_RecoversViaProbe(t *testing.T) {
	cb := NewCircuitBreaker(2, 40*time.Millisecond)

	boom := errors.New("provider down")
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return boom })
	}
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)

	boom := errors.New("provider down")
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return boom })
	}
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(60 * time.Millisecond)

	err := cb.Execute(func() error { return boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, StateOpen, cb.GetState())

	// a fresh cooldown started, calls are shed again
	err = cb.Execute(func() error { return nil })
	assert.Equal(t, ErrCircuitOpen, err)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := NewCircuitBreaker(1, 30*time.Millisecond)

	var transitions []string
	cb.OnStateChange = func(s State) {
		transitions = append(transitions, s.String())
	}

	cb.Execute(func() error { return errors.New("boom") })

	time.Sleep(40 * time.Millisecond)

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, []string{"open", "half-open", "closed"}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)

	cb.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestCircuitBreaker_ConcurrentExecutes(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cb.Execute(func() error { return nil })
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "token %d", i)
	}
	assert.False(t, rl.Allow())

	time.Sleep(60 * time.Millisecond)

	// one refill interval buys one token back
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiter_WaitBlocksUntilRefill(t *testing.T) {
	rl := NewRateLimiter(1, 60*time.Millisecond)

	assert.True(t, rl.Allow())

	start := time.Now()
	err := rl.Wait(context.Background())

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rl.Allow()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
