package workflow

import (
	"fmt"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// Mode names for the request/response shaping strategies.
const (
	ModeNumbered  = "numbered"
	ModeTagged    = "tagged"
	ModeJSONArray = "jsonarray"
	ModeRawTimed  = "rawtimed"
)

// inlineBreak replaces original line breaks inside one entry so the
// provider cannot confuse them with entry boundaries.
const inlineBreak = "<br>"

// Item is a single entry of a parsed provider response. ID is zero when
// the workflow does not carry explicit identity.
type Item struct {
	ID        int
	Text      string
	StartTime time.Duration
	EndTime   time.Duration
	HasTiming bool
}

// Workflow shapes a batch of entries into a provider request payload and
// parses the response back into items. A workflow is selected once at job
// construction and stays fixed for the job's lifetime.
type Workflow interface {
	Name() string

	// CarriesIdentity reports whether parsed items carry the original
	// entry index. Alignment falls back to position when it is false.
	CarriesIdentity() bool

	// TrustsTiming reports whether provider-returned timecodes replace
	// the original ones. The default workflows reattach original timing.
	TrustsTiming() bool

	// Format serializes a batch into the request payload.
	Format(entries []subtitle.Entry) string

	// Parse parses a complete response payload.
	Parse(payload string) ([]Item, error)

	// ParsePartial parses an incomplete streaming payload best-effort,
	// returning only items that are already complete. Never fails.
	ParsePartial(payload string) []Item

	// Instructions returns the response-format contract appended to the
	// provider prompt.
	Instructions() string
}

// Select returns the workflow implementation for mode.
func Select(mode string) (Workflow, error) {
	switch mode {
	case ModeNumbered, "":
		return numberedWorkflow{}, nil
	case ModeTagged:
		return taggedWorkflow{}, nil
	case ModeJSONArray:
		return jsonArrayWorkflow{}, nil
	case ModeRawTimed:
		return rawTimedWorkflow{}, nil
	default:
		return nil, fmt.Errorf("unknown workflow mode: %s", mode)
	}
}

// Modes lists the supported workflow modes.
func Modes() []string {
	return []string{ModeNumbered, ModeTagged, ModeJSONArray, ModeRawTimed}
}
