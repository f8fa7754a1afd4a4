package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "Los Halcones", 0, "Los Halcones"},
		{"script stripped", `<script>alert(1)</script>Halcones`, 0, "Halcones"},
		{"tags stripped", `<b>Club</b> Atlético`, 0, "Club Atlético"},
		{"control chars", "Club\x00\x07 Sur", 0, "Club Sur"},
		{"whitespace collapsed", "  Club \t\n  Norte  ", 0, "Club Norte"},
		{"truncated by rune", "ñandúes", 3, "ñan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in, tt.max))
		})
	}
}

func TestString_DefaultLimit(t *testing.T) {
	assert.Len(t, String(strings.Repeat("a", 5000), 0), DefaultMaxLen)
}

func TestEmail(t *testing.T) {
	assert.Equal(t, "capitan@club.com", Email("  Capitan@Club.COM "))
}

func TestValue_SkipsSecrets(t *testing.T) {
	in := map[string]interface{}{
		"name":     "<i>Pedro</i>",
		"password": "<p@ss> word",
		"tags":     []interface{}{"<b>a</b>", 3.0},
	}

	out := Value(in, map[string]bool{"password": true}).(map[string]interface{})
	assert.Equal(t, "Pedro", out["name"])
	assert.Equal(t, "<p@ss> word", out["password"])
	assert.Equal(t, []interface{}{"a", 3.0}, out["tags"])
}
