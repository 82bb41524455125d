package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// numberedWorkflow is the dominant strategy: one entry per line prefixed
// with its index. Cheap to format, easy for models to preserve, and the
// prefix gives every response line explicit identity.
type numberedWorkflow struct{}

var numberedLineRe = regexp.MustCompile(`^\s*(\d+)\s*[.):\]]\s*(.*)$`)

func (numberedWorkflow) Name() string          { return ModeNumbered }
func (numberedWorkflow) CarriesIdentity() bool { return true }
func (numberedWorkflow) TrustsTiming() bool    { return false }

func (numberedWorkflow) Format(entries []subtitle.Entry) string {
	var sb strings.Builder
	for _, entry := range entries {
		text := strings.ReplaceAll(entry.Text, "\n", inlineBreak)
		sb.WriteString(fmt.Sprintf("%d. %s\n", entry.Index, text))
	}
	return sb.String()
}

func (w numberedWorkflow) Parse(payload string) ([]Item, error) {
	return w.parseLines(payload, false), nil
}

func (w numberedWorkflow) ParsePartial(payload string) []Item {
	return w.parseLines(payload, true)
}

// parseLines extracts "N. text" lines. In partial mode the trailing line
// is dropped because it may still be streaming in.
func (numberedWorkflow) parseLines(payload string, partial bool) []Item {
	lines := strings.Split(payload, "\n")
	if partial && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	ret := make([]Item, 0, len(lines))
	for _, line := range lines {
		matches := numberedLineRe.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		text := strings.TrimSpace(matches[2])
		if text == "" {
			continue
		}
		ret = append(ret, Item{
			ID:   id,
			Text: strings.ReplaceAll(text, inlineBreak, "\n"),
		})
	}
	return ret
}

func (numberedWorkflow) Instructions() string {
	return "Return one line per entry in the form \"<number>. <translation>\", keeping the original numbers. " +
		"Preserve " + inlineBreak + " markers exactly. Do not add explanations or extra lines."
}
