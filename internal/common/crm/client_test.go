package crm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"entity", "contact", true},
		{"attribute with underscore", "parentcustomerid_account", true},
		{"leading underscore", "_parentaccountid_value", true},
		{"empty", "", false},
		{"leading digit", "1contact", false},
		{"quote", `name"; drop table contact; --`, false},
		{"space", "full name", false},
		{"dot", "ac.name", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifier(tt.input))
		})
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Acme", "Acme"},
		{"100%", "100[%]"},
		{"a_b", "a[_]b"},
		{"[x]", "[[]x]"},
		{"%_[", "[%][_][[]"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeLike(tt.input))
		})
	}
}
