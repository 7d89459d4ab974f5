package retry

import (
	"context"
	"testing"
	"time"

	"github.com/devstatic/devstatic/pkg/errors"
)

func TestRetryer_Success(t *testing.T) {
	retryer := New(DefaultConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeConnectionTimeout, "connection timeout")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(DefaultConfig())

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeObjectNotFound, "no such key")

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceededKeepsCode(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeNetworkError) {
		t.Errorf("Expected wrapped network error, got %v", err)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = time.Second
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeNetworkError, "connection reset")
	})

	if !errors.HasCode(err, errors.ErrCodeOperationCanceled) {
		t.Errorf("Expected canceled error, got %v", err)
	}
	if attempts >= 10 {
		t.Errorf("Expected fewer than 10 attempts due to cancellation, got %d", attempts)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = 10 * time.Millisecond
	config.MaxDelay = time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	_ = New(config).Do(func() error {
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})

	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}
	if len(delays) != len(expected) {
		t.Fatalf("Expected %d delays, got %d", len(expected), len(delays))
	}
	for i := range expected {
		if delays[i] != expected[i] {
			t.Errorf("Delay %d: expected %v, got %v", i, expected[i], delays[i])
		}
	}
}

func TestRetryer_MaxDelayCap(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 5
	config.InitialDelay = 4 * time.Millisecond
	config.MaxDelay = 8 * time.Millisecond
	config.Jitter = false

	var maxDelay time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		if delay > maxDelay {
			maxDelay = delay
		}
	}

	_ = New(config).Do(func() error {
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})

	if maxDelay > config.MaxDelay {
		t.Errorf("Max delay %v exceeded configured max %v", maxDelay, config.MaxDelay)
	}
}

func TestRetryer_WithMethods(t *testing.T) {
	original := New(DefaultConfig())

	modified := original.WithMaxAttempts(10)
	if modified.config.MaxAttempts != 10 {
		t.Errorf("Expected MaxAttempts=10, got %d", modified.config.MaxAttempts)
	}
	if original.config.MaxAttempts == 10 {
		t.Error("Original config was modified")
	}

	called := false
	modified = original.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		called = true
	})
	_ = modified.Do(func() error {
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})
	if !called {
		t.Error("OnRetry callback was not called")
	}
}
