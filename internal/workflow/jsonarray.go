package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// jsonArrayWorkflow exchanges a structured object array. The strictest
// strategy: providers that honor JSON output modes rarely mangle it, and
// identity survives reordering.
type jsonArrayWorkflow struct{}

type jsonItem struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// jsonObjectRe recovers complete {"id":N,"text":"..."} objects from a
// truncated or prose-wrapped payload.
var jsonObjectRe = regexp.MustCompile(`\{\s*"id"\s*:\s*(\d+)\s*,\s*"text"\s*:\s*"((?:[^"\\]|\\.)*)"\s*\}`)

func (jsonArrayWorkflow) Name() string          { return ModeJSONArray }
func (jsonArrayWorkflow) CarriesIdentity() bool { return true }
func (jsonArrayWorkflow) TrustsTiming() bool    { return false }

func (jsonArrayWorkflow) Format(entries []subtitle.Entry) string {
	items := make([]jsonItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, jsonItem{ID: entry.Index, Text: entry.Text})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		// Entries are plain strings and ints; marshal cannot fail.
		return "[]"
	}
	return string(payload)
}

func (w jsonArrayWorkflow) Parse(payload string) ([]Item, error) {
	trimmed := strings.TrimSpace(payload)

	// Providers occasionally wrap the array in prose or code fences.
	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start >= 0 && end > start {
		trimmed = trimmed[start : end+1]
	}

	var items []jsonItem
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		// Fall back to object scanning before giving up.
		recovered := w.ParsePartial(payload)
		if len(recovered) > 0 {
			return recovered, nil
		}
		return nil, fmt.Errorf("parse json array: %w", err)
	}

	ret := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		ret = append(ret, Item{ID: item.ID, Text: item.Text})
	}
	return ret, nil
}

// ParsePartial scans for complete objects inside a payload whose closing
// bracket has not arrived yet.
func (jsonArrayWorkflow) ParsePartial(payload string) []Item {
	matches := jsonObjectRe.FindAllStringSubmatch(payload, -1)
	ret := make([]Item, 0, len(matches))
	for _, m := range matches {
		var item jsonItem
		if err := json.Unmarshal([]byte(m[0]), &item); err != nil {
			continue
		}
		if item.Text == "" {
			continue
		}
		ret = append(ret, Item{ID: item.ID, Text: item.Text})
	}
	return ret
}

func (jsonArrayWorkflow) Instructions() string {
	return "Return ONLY a JSON array of objects shaped {\"id\": N, \"text\": \"translation\"}, " +
		"keeping the original id values and the same number of objects. No markdown fences, no commentary."
}
