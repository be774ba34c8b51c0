package sys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_IsOk(t *testing.T) {
	tests := []struct {
		name     string
		result   Result[string]
		expected bool
	}{
		{
			name:     "Ok result",
			result:   Result[string]{Ok: "success", Err: nil},
			expected: true,
		},
		{
			name:     "Error result",
			result:   Result[string]{Ok: "", Err: errors.New("error")},
			expected: false,
		},
		{
			name:     "Empty result with nil error",
			result:   Result[string]{Ok: "", Err: nil},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsOk())
		})
	}
}

func TestResult_IsErrChecks(t *testing.T) {
	timeout := errors.New("timeout")
	r := Err[int](errors.Join(errors.New("redis"), timeout))
	assert.True(t, r.IsErr())
	assert.True(t, r.IsErr(timeout))
	assert.False(t, r.IsErr(errors.New("other")))
	assert.False(t, Ok(1).IsErr())
}

func TestResult_OrElse(t *testing.T) {
	assert.Equal(t, 42, Ok(42).OrElse(0))
	assert.Equal(t, -1, Err[int](errors.New("boom")).OrElse(-1))

	var miss *string
	assert.Nil(t, Err[*string](errors.New("boom")).OrElse(miss))
}

func TestFrom(t *testing.T) {
	r := From("value", nil)
	assert.True(t, r.IsOk())
	assert.Equal(t, "value", r.Ok)

	r = From("ignored", errors.New("failed"))
	assert.True(t, r.IsErr())
	assert.Equal(t, "", r.Ok)
}
