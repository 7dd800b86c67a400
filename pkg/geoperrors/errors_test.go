package geoperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	t.Run("new carries type and stack", func(t *testing.T) {
		err := New(ErrorTypeValidation, "bad limit")
		assert.Equal(t, ErrorTypeValidation, err.Type)
		assert.Equal(t, "validation: bad limit", err.Error())
		assert.NotEmpty(t, err.Stack)
	})

	t.Run("wrap preserves the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, ErrorTypeConnection, "sql api request failed")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("wrap nil is nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ignored"))
	})

	t.Run("wrapping a structured error keeps its stack", func(t *testing.T) {
		inner := New(ErrorTypeQuery, "inner")
		outer := Wrap(inner, ErrorTypeData, "outer")
		assert.Equal(t, inner.Stack, outer.Stack)
	})
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeRateLimit, "limited")
	assert.True(t, IsType(err, ErrorTypeRateLimit))
	assert.False(t, IsType(err, ErrorTypeQuery))

	// type checks see through wrapping layers
	wrapped := fmt.Errorf("while downloading: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeRateLimit))

	assert.False(t, IsType(errors.New("plain"), ErrorTypeRateLimit))
	assert.False(t, IsType(nil, ErrorTypeRateLimit))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeRateLimit, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "x")))

	assert.False(t, IsRetryable(New(ErrorTypeNotFound, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeValidation, "x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestRetryAfter(t *testing.T) {
	t.Run("rate limit with hint", func(t *testing.T) {
		err := New(ErrorTypeRateLimit, "limited").WithRetryAfter(30 * time.Second)
		d, ok := RetryAfter(err)
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, d)
	})

	t.Run("rate limit without hint", func(t *testing.T) {
		_, ok := RetryAfter(New(ErrorTypeRateLimit, "limited"))
		assert.False(t, ok)
	})

	t.Run("other types carry no hint", func(t *testing.T) {
		err := New(ErrorTypeQuery, "boom").WithDetail("retry_after", 30*time.Second)
		_, ok := RetryAfter(err)
		assert.False(t, ok)
	})
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeQuery, "boom").
		WithDetail("table", "places").
		WithDetail("rows", 42)

	assert.Equal(t, "places", err.Details["table"])
	assert.Equal(t, 42, err.Details["rows"])
}
