package pg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := newError(ErrCOperationTimeout, context.DeadlineExceeded, "allreduce seq %d", 3)
	wrapped := fmt.Errorf("rank 1: %w", err)

	assert.ErrorIs(t, wrapped, ErrOperationTimeout)
	assert.NotErrorIs(t, wrapped, ErrOperation)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Equal(t, ErrCOperationTimeout, CodeOf(wrapped))
	assert.True(t, IsTimeout(wrapped))
	assert.Equal(t, "OperationTimeout: allreduce seq 3: context deadline exceeded", err.Error())

	// a specific error is not a sentinel for other errors of its code
	assert.False(t, errors.Is(ErrOperationTimeout, err))
}

func TestCodeOf(t *testing.T) {
	assert.Zero(t, CodeOf(errors.New("plain")))
	assert.Zero(t, CodeOf(nil))
	assert.False(t, IsTimeout(newError(ErrCConfig, nil, "bad rank")))
	assert.True(t, IsTimeout(newError(ErrCCommInit, context.DeadlineExceeded, "init")))
}
