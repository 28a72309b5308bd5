package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "invalid_state", KindInvalidState.String())
	assert.Equal(t, "capacity_exceeded", KindCapacityExceeded.String())
	assert.Equal(t, "unbalanced_range", KindUnbalancedRange.String())
	assert.Equal(t, "unknown_metric", KindUnknownMetric.String())
	assert.Equal(t, "driver_failure", KindDriverFailure.String())
	assert.Equal(t, "unknown(99)", Kind(99).String())
}

func TestKindOf(t *testing.T) {
	err := Errorf(KindConflict, "enable", "context %d busy", 7)

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsKind(err, KindConflict))
	assert.False(t, IsKind(err, KindNotFound))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := Errorf(KindDriverFailure, "stop", "collection aborted")
	outer := fmt.Errorf("stopping session: %w", inner)

	assert.Equal(t, KindDriverFailure, KindOf(outer))
	assert.True(t, Fatal(outer))
}

func TestWrapErr_KeepsExistingKind(t *testing.T) {
	inner := Errorf(KindDriverFailure, "decode", "device lost")
	wrapped := WrapErr(KindInvalidState, "disable", inner)

	// Driver failures must propagate unmodified.
	assert.Equal(t, KindDriverFailure, KindOf(wrapped))
}

func TestErrorString(t *testing.T) {
	err := Errorf(KindUnknownMetric, "add_metrics", "no such metric %q", "bogus__counter")

	assert.Contains(t, err.Error(), "add_metrics")
	assert.Contains(t, err.Error(), "unknown_metric")
	assert.Contains(t, err.Error(), "bogus__counter")
}
