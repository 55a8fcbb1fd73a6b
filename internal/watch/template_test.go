package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	record := map[string]any{
		"title":      "Main Page",
		"user":       "Ann",
		"length":     map[string]any{"old": float64(10), "new": float64(12.5)},
		"log_params": []any{"move", "target"},
		"comment":    nil,
	}

	tests := []struct {
		template string
		want     string
	}{
		{DefaultTemplate, "[[Main Page]] by Ann: "},
		{"${length/old} -> ${length/new}", "10 -> 12.5"},
		{"${log_params/1}", "target"},
		{"${missing} and ${title/deeper}", " and "},
		{"${log_params}", `["move","target"]`},
		{"no placeholders", "no placeholders"},
		{"${unclosed", "${unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, record))
		})
	}
}

func TestFormatNotification(t *testing.T) {
	assert.Equal(t, "[watch] pages - edited", FormatNotification("pages", "edited"))
	assert.Equal(t, "[watch] pages", FormatNotification("pages", ""))
}

func TestUnescapeUnicode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abc", "abc"},
		{"bmp", `caf\u00e9`, "café"},
		{"uppercase hex", `\u00C9t\u00E9`, "Été"},
		{"surrogate pair", `\ud83d\ude00!`, "😀!"},
		{"short escape kept", `x\u00e`, `x\u00e`},
		{"non hex kept", `\uzzzz`, `\uzzzz`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnescapeUnicode(tt.in))
		})
	}
}

func TestUnescapeUnicode_Nested(t *testing.T) {
	record := map[string]any{
		"title": `\u00e9`,
		"tags":  []any{`\u00e0`, float64(1)},
		"inner": map[string]any{"x": `\u00f4`},
	}
	got := UnescapeUnicode(record)
	assert.Equal(t, map[string]any{
		"title": "é",
		"tags":  []any{"à", float64(1)},
		"inner": map[string]any{"x": "ô"},
	}, got)
}
