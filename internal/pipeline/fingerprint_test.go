package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStable(t *testing.T) {
	entries := makeEntries(10)
	opts := Options{WorkflowMode: "numbered", ProviderTag: "gemini/gemini-2.0-flash"}

	first := Fingerprint(entries, "en", "de", opts)
	second := Fingerprint(entries, "en", "de", opts)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestFingerprintSensitivity(t *testing.T) {
	entries := makeEntries(10)
	opts := Options{WorkflowMode: "numbered"}
	base := Fingerprint(entries, "en", "de", opts)

	changed := makeEntries(10)
	changed[4].Text = "edited line"
	assert.NotEqual(t, base, Fingerprint(changed, "en", "de", opts))

	assert.NotEqual(t, base, Fingerprint(entries, "en", "fr", opts))
	assert.NotEqual(t, base, Fingerprint(entries, "en", "de", Options{WorkflowMode: "tagged"}))
	assert.NotEqual(t, base, Fingerprint(entries, "en", "de", Options{WorkflowMode: "numbered", ProviderTag: "other"}))
}

func TestFingerprintLanguageSpellingVariants(t *testing.T) {
	entries := makeEntries(3)
	opts := Options{}

	a := Fingerprint(entries, "en", "pt-BR", opts)
	b := Fingerprint(entries, "en", "pt-br", opts)
	c := Fingerprint(entries, "en", "pt_BR", opts)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestFingerprintTimingIrrelevant(t *testing.T) {
	entries := makeEntries(5)
	shifted := makeEntries(5)
	for i := range shifted {
		shifted[i].StartTime += 500
		shifted[i].EndTime += 500
	}

	// Fingerprints key on text and indices; retimed files with identical
	// text share the cache.
	assert.Equal(t,
		Fingerprint(entries, "en", "de", Options{}),
		Fingerprint(shifted, "en", "de", Options{}))
}

func TestCanonicalLanguage(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"pt-BR", "pt-BR"},
		{"pt_br", "pt-BR"},
		{"EN", "en"},
		{"", ""},
		{"not-a-language-tag!!", "not-a-language-tag!!"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, CanonicalLanguage(tt.input), "input %q", tt.input)
	}
}
