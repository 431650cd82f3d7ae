package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutionErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewResolution("twitter", ReasonNetwork, inner))

	assert.ErrorIs(t, err, inner)
	assert.True(t, IsReason(err, ReasonNetwork))
	assert.False(t, IsReason(err, ReasonForbidden))
	assert.Contains(t, err.Error(), "twitter")
}

func TestRetryable(t *testing.T) {
	assert.True(t, NewResolution("x", ReasonNetwork, nil).Retryable())
	assert.True(t, NewResolution("x", ReasonRateLimited, nil).Retryable())
	assert.False(t, NewResolution("x", ReasonForbidden, nil).Retryable())
	assert.False(t, NewResolution("x", ReasonNotFound, nil).Retryable())
	assert.False(t, NewResolution("x", ReasonParse, nil).Retryable())
}

func TestUserMessageStatesLimit(t *testing.T) {
	err := &PolicyViolation{Kind: PolicyTooLong, Limit: "10m0s", Actual: "11m40s"}
	msg := UserMessage("generic", err)

	assert.Contains(t, msg, "[generic]")
	assert.Contains(t, msg, "10m0s")
	assert.Contains(t, msg, "11m40s")
	assert.True(t, IsPolicy(err, PolicyTooLong))
}

func TestUserMessageKinds(t *testing.T) {
	assert.Contains(t, UserMessage("", ErrCapacityExceeded), "слишком много загрузок")
	assert.Contains(t, UserMessage("tiktok", NewResolution("tiktok", ReasonNotFound, nil)), "не найден")
	assert.Contains(t, UserMessage("", &DeliveryFailure{Err: errors.New("x")}), "отправить")
	assert.Contains(t, UserMessage("", errors.New("raw")), "не удалось обработать")
	assert.NotContains(t, UserMessage("", errors.New("raw stack")), "raw stack")
}
