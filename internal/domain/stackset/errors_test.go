package stackset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorIsMatchesByCodeNotMessage(t *testing.T) {
	a := &DomainError{Code: ErrCodeThrottled, Message: "first attempt"}
	b := &DomainError{Code: ErrCodeThrottled, Message: "second attempt"}
	c := &DomainError{Code: ErrCodeTimedOut, Message: "first attempt"}

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestDomainErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := &DomainError{Code: ErrCodeInternal, Message: "wrapped", Cause: cause}
	assert.Equal(t, cause, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, cause))
}

func TestDomainErrorWithContextMergesWithoutMutatingOriginal(t *testing.T) {
	base := &DomainError{Code: ErrCodeConfig, Message: "bad", Context: map[string]interface{}{"a": 1}}
	merged := base.WithContext(map[string]interface{}{"b": 2})

	assert.Equal(t, map[string]interface{}{"a": 1}, base.Context)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, merged.Context)
}

func TestDomainErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("timeout")
	err := &DomainError{Code: ErrCodeTimedOut, Message: "stack wait", Cause: cause}
	assert.Contains(t, err.Error(), "TIMED_OUT")
	assert.Contains(t, err.Error(), "stack wait")
	assert.Contains(t, err.Error(), "timeout")
}

func TestAsDomainErrorPassesThroughExisting(t *testing.T) {
	original := &DomainError{Code: ErrCodeLockHeld, Message: "locked"}
	got := AsDomainError(original)
	assert.Same(t, original, got)
}

func TestAsDomainErrorWrapsUnknownErrorsAsInternal(t *testing.T) {
	got := AsDomainError(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Contains(t, got.Message, "boom")
}

func TestAsDomainErrorNilIsNil(t *testing.T) {
	assert.Nil(t, AsDomainError(nil))
}

func TestCircularDependencyErrorRendersEachCycle(t *testing.T) {
	err := &CircularDependencyError{Cycles: [][]string{{"a", "b", "a"}, {"c", "d", "c"}}}
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Contains(t, err.Error(), "c -> d -> c")
}

func TestUnresolvedDependencyErrorNamesProducer(t *testing.T) {
	err := &UnresolvedDependencyError{Producer: "vpc"}
	assert.Contains(t, err.Error(), "vpc")
}
