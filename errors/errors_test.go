package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestValidationError(t *testing.T) {
	ve := NewValidationError(2, "endpoint range inverted for channel %d", 3)
	assert.Equal(t, 2, ve.ProcessorIndex)
	assert.Contains(t, ve.Error(), "processor 2")
	assert.Contains(t, ve.Error(), "channel 3")

	// Index -1 means the failure is not tied to a processor.
	ve = NewValidationError(-1, "no channels defined")
	assert.NotContains(t, ve.Error(), "processor")
}

func TestValidationErrorIsInvalid(t *testing.T) {
	err := Wrap(NewValidationError(0, "bad"), "ModelBuilder", "Build", "validation")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))

	var ve *ValidationError
	require.True(t, As(err, &ve))
	assert.Equal(t, 0, ve.ProcessorIndex)
}

func TestWrapPattern(t *testing.T) {
	base := New("boom")
	err := Wrap(base, "ChannelStore", "Ingest", "pipeline evaluation")
	require.Error(t, err)
	assert.Equal(t, "ChannelStore.Ingest: pipeline evaluation failed: boom", err.Error())
	assert.True(t, Is(err, base))

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := New("oops")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "Comp", "Method", "action")
			require.Error(t, err)
			assert.Equal(t, tt.class, Classify(err))
			assert.True(t, Is(err, base))
			assert.Nil(t, tt.wrap(nil, "Comp", "Method", "action"))
		})
	}
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsInvalid(ErrDuplicateChannel))
	assert.True(t, IsInvalid(ErrUnknownChannel))
	assert.True(t, IsInvalid(fmt.Errorf("ingest: %w", ErrUnknownChannel)))
	assert.True(t, IsFatal(ErrModelCorrupted))
	assert.True(t, IsTransient(ErrPortClosed))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))
}
