package schema

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var identifier = regexp.MustCompile(`^[_A-Za-z][_A-Za-z0-9]*$`)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Pump", "Pump"},
		{"flow_rate", "flow_rate"},
		{"flow rate", "flow_rate"},
		{"flow-rate", "flow_rate"},
		{"3d_model", "_3d_model"},
		{"weird!@#name", "weird___name"},
		{"", "_"},
		{"日本語", "___"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, identifier, got)
		})
	}
}

func TestSanitizeNameStable(t *testing.T) {
	for _, name := range []string{"flow rate", "3d model", "a!b"} {
		assert.Equal(t, SanitizeName(name), SanitizeName(name))
	}
}

func TestNameRegistryPreservesUniqueness(t *testing.T) {
	reg := newNameRegistry()

	assert.Equal(t, "flow_rate", reg.register("flow rate"))
	assert.Equal(t, "flow_rate_2", reg.register("flow-rate"),
		"distinct inputs colliding after sanitization get suffixes")
	assert.Equal(t, "flow_rate_3", reg.register("flow.rate"))

	assert.Equal(t, "flow_rate", reg.register("flow rate"),
		"re-registering the same input returns the same identifier")
}

func TestNameRegistryIndependentScopes(t *testing.T) {
	a := newNameRegistry()
	b := newNameRegistry()

	assert.Equal(t, "name", a.register("name"))
	assert.Equal(t, "name", b.register("name"))
}
