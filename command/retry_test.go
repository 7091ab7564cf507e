package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/testutil/observability/testdoubles"
)

func Test_RetryWithExponentialBackoff_Success_NoRetries(t *testing.T) {
	callCount := 0

	fn := func(_ context.Context) error {
		callCount++
		return nil
	}

	meta, err := RetryWithExponentialBackoff(t.Context(), fn)

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, meta.Attempts)
	assert.Equal(t, time.Duration(0), meta.TotalDelay)
	assert.Equal(t, "none", meta.LastErrorType)
	assert.False(t, meta.RetriesExhausted)
}

func Test_RetryWithExponentialBackoff_RetryOnConcurrencyConflict(t *testing.T) {
	callCount := 0

	fn := func(_ context.Context) error {
		callCount++
		if callCount < 3 {
			return eventstore.ErrConcurrencyConflict
		}
		return nil
	}

	meta, err := RetryWithExponentialBackoff(t.Context(), fn, WithBaseDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, meta.Attempts)
	assert.Greater(t, meta.TotalDelay, time.Duration(0))
	assert.Equal(t, "none", meta.LastErrorType)
}

func Test_RetryWithExponentialBackoff_WrappedConflictIsRetried(t *testing.T) {
	callCount := 0
	serializationFailure := errors.Join(eventstore.ErrConcurrencyConflict, eventstore.ErrSerializationFailure)

	fn := func(_ context.Context) error {
		callCount++
		if callCount == 1 {
			return serializationFailure
		}
		return nil
	}

	meta, err := RetryWithExponentialBackoff(t.Context(), fn, WithBaseDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 2, meta.Attempts)
}

func Test_RetryWithExponentialBackoff_NonRetryableErrorFailsFast(t *testing.T) {
	callCount := 0
	businessErr := errors.New("course is full")

	fn := func(_ context.Context) error {
		callCount++
		return businessErr
	}

	meta, err := RetryWithExponentialBackoff(t.Context(), fn)

	assert.ErrorIs(t, err, businessErr)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, "other", meta.LastErrorType)
	assert.False(t, meta.RetriesExhausted)
}

func Test_RetryWithExponentialBackoff_RetriesExhausted(t *testing.T) {
	// arrange
	callCount := 0
	metrics := testdoubles.NewMetricsCollectorSpy()

	fn := func(_ context.Context) error {
		callCount++
		return eventstore.ErrConcurrencyConflict
	}

	// act
	meta, err := RetryWithExponentialBackoff(
		t.Context(),
		fn,
		WithMaxAttempts(3),
		WithBaseDelay(time.Millisecond),
		WithJitterFactor(0),
		WithMetrics(metrics, "SubscribeStudentToCourse"),
	)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, meta.Attempts)
	assert.Equal(t, 3*time.Millisecond, meta.TotalDelay)
	assert.Equal(t, "concurrency_conflict", meta.LastErrorType)
	assert.True(t, meta.RetriesExhausted)

	retries := metrics.CounterRecordsFor(RetriesMetric)
	require.Len(t, retries, 2)
	assert.Equal(t, "1", retries[0].Labels[labelAttemptNumber])
	assert.Equal(t, "SubscribeStudentToCourse", retries[0].Labels[labelCommandType])
	assert.Len(t, metrics.DurationRecordsFor(RetryDelayMetric), 2)

	exhausted := metrics.CounterRecordsFor(MaxRetriesReachedMetric)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "concurrency_conflict", exhausted[0].Labels[labelFinalErrorType])
}

func Test_RetryWithExponentialBackoff_StopsWhenContextIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	fn := func(_ context.Context) error {
		cancel()
		return eventstore.ErrConcurrencyConflict
	}

	meta, err := RetryWithExponentialBackoff(ctx, fn, WithBaseDelay(time.Second))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, meta.Attempts)
	assert.Equal(t, "context_canceled", meta.LastErrorType)
}

func Test_RetryWithExponentialBackoff_InvalidOptions(t *testing.T) {
	fn := func(_ context.Context) error { return nil }

	testCases := []struct {
		name    string
		option  RetryOption
		wantErr error
	}{
		{name: "zero max attempts", option: WithMaxAttempts(0), wantErr: ErrInvalidMaxAttempts},
		{name: "negative base delay", option: WithBaseDelay(-1 * time.Second), wantErr: ErrNegativeBaseDelay},
		{name: "jitter above one", option: WithJitterFactor(1.5), wantErr: ErrInvalidJitterFactor},
		{name: "negative jitter", option: WithJitterFactor(-0.1), wantErr: ErrInvalidJitterFactor},
		{name: "nil metrics collector", option: WithMetrics(nil, "cmd"), wantErr: ErrNilMetricsCollector},
		{name: "empty command type", option: WithMetrics(testdoubles.NewMetricsCollectorSpy(), ""), wantErr: ErrEmptyCommandType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RetryWithExponentialBackoff(t.Context(), fn, tc.option)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
