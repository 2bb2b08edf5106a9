package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputError_Error(t *testing.T) {
	err := NewInputError(ErrInvalidInput, "start_date after end_date", "2023-01-05 > 2023-01-01")
	assert.Equal(t, "INVALID_INPUT: start_date after end_date", err.Error())
	assert.False(t, err.Timestamp.IsZero())
}

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("expected_interval_days", "must be positive", -3)
	assert.Equal(t, "validation error for field 'expected_interval_days': must be positive", err.Error())
	assert.Equal(t, -3, err.Value)
}

func TestIsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "Direct InputError",
			err:  NewInputError(ErrInvalidInput, "bad period", ""),
			want: true,
		},
		{
			name: "Wrapped InputError",
			err:  fmt.Errorf("compute failed: %w", NewInputError(ErrInvalidInput, "bad rule", "")),
			want: true,
		},
		{
			name: "Other code",
			err:  NewInputError(ErrRuleNotFound, "no rule for hba1c", ""),
			want: false,
		},
		{
			name: "Plain error",
			err:  fmt.Errorf("boom"),
			want: false,
		},
		{
			name: "Nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInvalidInput(tt.err))
		})
	}
}
