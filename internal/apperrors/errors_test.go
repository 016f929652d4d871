package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorMessage(t *testing.T) {
	err := New(CodeStoreNotFound, "workflow not found")
	assert.Equal(t, "STORE_NOT_FOUND: workflow not found", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStoreIO, "write failed", cause)

	assert.Equal(t, "STORE_IO: write failed: disk full", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsMatchesCode(t *testing.T) {
	err := New(CodeValidationState, "workflow is not ready")
	assert.True(t, Is(err, CodeValidationState))
	assert.False(t, Is(err, CodeStoreConflict))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), CodeStoreIO))
}

func TestIsSeesThroughWrappedError(t *testing.T) {
	inner := New(CodeLLMRateLimited, "too many requests")
	outer := fmt.Errorf("chat failed: %w", inner)
	assert.True(t, Is(outer, CodeLLMRateLimited))
}
