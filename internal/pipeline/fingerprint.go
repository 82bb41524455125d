package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// Options pins the provider-visible configuration of a job. Two requests
// with the same entries and languages but different options are different
// jobs and must not share cache records.
type Options struct {
	// WorkflowMode selects the request/response shaping strategy.
	WorkflowMode string `json:"workflow_mode,omitempty"`
	// ProviderTag identifies the provider configuration (provider name
	// plus model) the job runs against.
	ProviderTag string `json:"provider_tag,omitempty"`
	// RotationGranularity is per-batch or per-request.
	RotationGranularity string `json:"rotation_granularity,omitempty"`
}

// Fingerprint derives the stable cache/dedup key for a job from its
// source content, language pair and provider configuration.
func Fingerprint(entries []subtitle.Entry, sourceLang, targetLang string, opts Options) string {
	h := sha256.New()
	for _, entry := range entries {
		fmt.Fprintf(h, "%d\x1f%s\x1e", entry.Index, entry.Text)
	}
	fmt.Fprintf(h, "|%s|%s|%s|%s|%s",
		CanonicalLanguage(sourceLang),
		CanonicalLanguage(targetLang),
		opts.WorkflowMode,
		opts.ProviderTag,
		opts.RotationGranularity,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalLanguage normalizes a language identifier so spelling variants
// (pt-br, pt_BR, PT-BR) produce one fingerprint. Unparseable input is
// lowercased as-is rather than rejected.
func CanonicalLanguage(lang string) string {
	trimmed := strings.TrimSpace(lang)
	if trimmed == "" {
		return ""
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	return tag.String()
}
