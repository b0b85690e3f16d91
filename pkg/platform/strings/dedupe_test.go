package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "trims whitespace",
			input:    []string{"  7xKX  ", "9aBc  ", "  4dEf"},
			expected: []string{"7xKX", "9aBc", "4dEf"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"7xKX", "9aBc", "7xKX", "4dEf", "9aBc"},
			expected: []string{"7xKX", "9aBc", "4dEf"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"7xKX", "", "  ", "9aBc"},
			expected: []string{"7xKX", "9aBc"},
		},
		{
			name:     "case differences are distinct addresses",
			input:    []string{"Abc1", "abc1", "ABC1"},
			expected: []string{"Abc1", "abc1", "ABC1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DedupeAndTrim(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
