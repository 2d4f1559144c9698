package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Circuit Breaker Tests

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, opts ...BreakerOption) *CircuitBreaker {
	opts = append([]BreakerOption{
		WithTripThreshold(4, 0.5),
		WithOpenTimeout(10 * time.Second),
		WithBreakerClock(clock.Now),
	}, opts...)
	return NewCircuitBreaker("test", opts...)
}

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, uint32(10), cb.minRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 30*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	result, err := cb.Execute(ctx, func() (any, error) {
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	expectedError := errors.New("test error")
	result, err := cb.Execute(ctx, func() (any, error) {
		return nil, expectedError
	})

	assert.Equal(t, expectedError, err)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, WithStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	ctx := context.Background()
	fail := func() (any, error) { return nil, errors.New("boom") }
	ok := func() (any, error) { return "ok", nil }

	for i := 0; i < 4; i++ {
		cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, ErrBreakerOpen)

	clock.Advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err = cb.Execute(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := newTestBreaker(clock)
	ctx := context.Background()
	fail := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 4; i++ {
		cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)

	_, err := cb.Execute(ctx, fail)
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_BelowMinimumDoesNotTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() (any, error) { return nil, errors.New("boom") })
	}
	assert.Equal(t, StateClosed, cb.State())

	clock.Advance(61 * time.Second)
	cb.Execute(ctx, func() (any, error) { return nil, errors.New("boom") })
	assert.Equal(t, StateClosed, cb.State(), "counts reset with the interval")
}

func TestCircuitBreaker_CallerCancellationIsNotFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", WithTripThreshold(1, 0.1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (any, error) { return nil, ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Execute(ctx, func() (any, error) { return nil, nil })
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(50), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Panics(t, func() {
		cb.Execute(context.Background(), func() (any, error) {
			panic("test panic")
		})
	})
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

// Retry Tests

var errCollision = errors.New("collision")

func TestWithRetry_SucceedsAfterRetryableFailures(t *testing.T) {
	var seen []int
	err := WithRetry(context.Background(), RetryPolicy{
		MaxAttempts: 5,
		Retryable:   RetryOn(errCollision),
	}, func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errCollision
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestWithRetry_Exhausted(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryPolicy{
		MaxAttempts: 20,
		Retryable:   RetryOn(errCollision),
	}, func(int) error {
		calls++
		return errCollision
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errCollision)
	assert.Equal(t, 20, calls)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	ioErr := errors.New("disk I/O error")
	calls := 0
	err := WithRetry(context.Background(), RetryPolicy{
		MaxAttempts: 20,
		Retryable:   RetryOn(errCollision),
	}, func(int) error {
		calls++
		return ioErr
	})

	assert.Equal(t, ioErr, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, RetryPolicy{
		MaxAttempts: 5,
		Retryable:   RetryOn(errCollision),
		Backoff:     func(int) time.Duration { return time.Hour },
	}, func(int) error {
		calls++
		cancel()
		return errCollision
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b(0))
	assert.Equal(t, 20*time.Millisecond, b(1))
	assert.Equal(t, 40*time.Millisecond, b(2))
	assert.Equal(t, 50*time.Millisecond, b(3))
	assert.Equal(t, 50*time.Millisecond, b(70))
}

// Code Tests

func TestRandomCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		code, err := RandomCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected %q", r)
		}
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 490)
}

func TestCodeAlphabetExcludesAmbiguousGlyphs(t *testing.T) {
	assert.Len(t, CodeAlphabet, 32)
	for _, r := range "01OI" {
		assert.NotContains(t, CodeAlphabet, string(r))
	}
}

func TestQRDataURL(t *testing.T) {
	url, err := QRDataURL("TKT-MB3K2Z-AB7Q")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	_, err = QRDataURL("")
	assert.Error(t, err)
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	expectedError := errors.New("connection failed")
	mock.ExpectPing().SetErr(expectedError)

	err := RedisHealthCheck(db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Benchmark Tests

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, func() (any, error) {
			return "success", nil
		})
	}
}

func BenchmarkRandomCode(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RandomCode(7)
	}
}
