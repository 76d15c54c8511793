package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"r1", true},
		{"0123456789abcdef0123456789abcdef", true},
		{strings.Repeat("x", MaxIdentifierLen), true},
		{"", false},
		{strings.Repeat("x", MaxIdentifierLen+1), false},
		{"a.b", false},
		{"a/b", false},
		{"/../../victim", false},
		{`a\b`, false},
		{"a~", false},
		{"a\x00b", false},
	}
	for _, tt := range tests {
		err := ValidateIdentifier("replica id", tt.id)
		if tt.ok {
			assert.NoError(t, err, "%q", tt.id)
		} else {
			assert.ErrorIs(t, err, ErrInvalidArgument, "%q", tt.id)
		}
	}
}
