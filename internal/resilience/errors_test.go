package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("validation failed")))

	assert.True(t, IsTransient(NewTransientError(errors.New("rate limited"), 429)))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", NewTransientError(errors.New("down"), 503))))
	assert.True(t, IsTransient(syscall.ECONNREFUSED))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(errors.New("x"), 503)))
	assert.Equal(t, "permanent", ClassifyError(errors.New("no route")))
}
