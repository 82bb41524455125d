package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// taggedWorkflow wraps each entry in an XML-ish tag carrying its index.
// More robust than the numbered list when entries themselves start with
// digits, at the cost of a few extra tokens per entry.
type taggedWorkflow struct{}

var taggedItemRe = regexp.MustCompile(`(?s)<s\s+id="(\d+)"\s*>(.*?)</s>`)

func (taggedWorkflow) Name() string          { return ModeTagged }
func (taggedWorkflow) CarriesIdentity() bool { return true }
func (taggedWorkflow) TrustsTiming() bool    { return false }

func (taggedWorkflow) Format(entries []subtitle.Entry) string {
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("<s id=\"%d\">%s</s>\n", entry.Index, entry.Text))
	}
	return sb.String()
}

func (w taggedWorkflow) Parse(payload string) ([]Item, error) {
	return w.parseTags(payload), nil
}

// ParsePartial only sees closed tags, so it is inherently safe against a
// tag still streaming in.
func (w taggedWorkflow) ParsePartial(payload string) []Item {
	return w.parseTags(payload)
}

func (taggedWorkflow) parseTags(payload string) []Item {
	matches := taggedItemRe.FindAllStringSubmatch(payload, -1)
	ret := make([]Item, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if text == "" {
			continue
		}
		ret = append(ret, Item{ID: id, Text: text})
	}
	return ret
}

func (taggedWorkflow) Instructions() string {
	return "Return each translation wrapped as <s id=\"N\">translation</s>, keeping the original id values. " +
		"Preserve line breaks inside tags. Do not add any text outside the tags."
}
