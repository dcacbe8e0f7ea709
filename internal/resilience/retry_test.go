package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoValSucceedsFirstTry(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 1, calls)
}

func TestDoValRetriesTransient(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(eris.New("overloaded"), 529)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoValPermanentErrorNoRetry(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, eris.New("invalid request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(eris.New("rate limit"), 429)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoValContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetry(), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(eris.New("status 429"), 429)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValOnRetryCallback(t *testing.T) {
	cfg := fastRetry()
	var attempts []int
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
		assert.Error(t, err)
	}

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(eris.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoValCustomShouldRetry(t *testing.T) {
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "again" }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, eris.New("again")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("invalid api key")))

	assert.True(t, IsTransient(NewTransientError(eris.New("anything"), 0)))
	assert.True(t, IsTransient(eris.Wrap(NewTransientError(eris.New("inner"), 500), "outer")))

	assert.True(t, IsTransient(eris.New("rate limit exceeded")))
	assert.True(t, IsTransient(eris.New("api is Overloaded")))
	assert.True(t, IsTransient(eris.New("request failed with status 429")))
	assert.True(t, IsTransient(eris.New("request failed with status 529")))
	assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(eris.New("dial tcp: i/o timeout")))
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := eris.New("boom")
	te := NewTransientError(inner, 502)
	assert.Equal(t, "boom", te.Error())
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 502, te.StatusCode)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
