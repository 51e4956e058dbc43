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
		{"nil slice", nil, nil},
		{"empty slice", []string{}, []string{}},
		{"participant ids keep first-seen order", []string{" u2", "u1", "u2 ", "", "u3"}, []string{"u2", "u1", "u3"}},
		{"case is preserved", []string{"Deputy", "deputy"}, []string{"Deputy", "deputy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil slice", nil, nil},
		{"addresses fold case", []string{"Ana@Gov.ao", " ana@gov.ao", "RUI@gov.ao"}, []string{"ana@gov.ao", "rui@gov.ao"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}
