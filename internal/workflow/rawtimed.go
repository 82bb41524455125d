package workflow

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// rawTimedWorkflow sends full SRT blocks and trusts the timing the
// provider returns. Opt-in: it lets a provider retime lines for the
// target language, at the cost of positional-only alignment and the
// extra reconciliation risk that comes with it.
type rawTimedWorkflow struct{}

var srtTimeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2}):(\d{2}):(\d{2}),(\d{3})`)

func (rawTimedWorkflow) Name() string          { return ModeRawTimed }
func (rawTimedWorkflow) CarriesIdentity() bool { return false }
func (rawTimedWorkflow) TrustsTiming() bool    { return true }

func (rawTimedWorkflow) Format(entries []subtitle.Entry) string {
	var sb strings.Builder
	for i, entry := range entries {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("\n")
		sb.WriteString(subtitle.FormatTime(entry.StartTime))
		sb.WriteString(" --> ")
		sb.WriteString(subtitle.FormatTime(entry.EndTime))
		sb.WriteString("\n")
		sb.WriteString(entry.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (w rawTimedWorkflow) Parse(payload string) ([]Item, error) {
	return w.parseBlocks(payload, false), nil
}

func (w rawTimedWorkflow) ParsePartial(payload string) []Item {
	return w.parseBlocks(payload, true)
}

// parseBlocks walks blank-line separated SRT blocks in order. Block
// numbers in the response are ignored: providers renumber freely, so
// identity here is positional only. In partial mode the trailing block
// is dropped since it may be mid-stream.
func (rawTimedWorkflow) parseBlocks(payload string, partial bool) []Item {
	normalized := strings.ReplaceAll(payload, "\r\n", "\n")
	blocks := strings.Split(normalized, "\n\n")
	if partial && len(blocks) > 0 {
		blocks = blocks[:len(blocks)-1]
	}

	ret := make([]Item, 0, len(blocks))
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		// Optional leading counter line.
		timeIdx := 0
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			timeIdx = 1
		}
		if timeIdx >= len(lines) {
			continue
		}
		start, end, ok := parseSRTTimes(lines[timeIdx])
		if !ok {
			continue
		}
		text := strings.TrimSpace(strings.Join(lines[timeIdx+1:], "\n"))
		if text == "" {
			continue
		}
		ret = append(ret, Item{
			Text:      text,
			StartTime: start,
			EndTime:   end,
			HasTiming: true,
		})
	}
	return ret
}

func parseSRTTimes(line string) (time.Duration, time.Duration, bool) {
	matches := srtTimeRe.FindStringSubmatch(line)
	if len(matches) != 9 {
		return 0, 0, false
	}

	parse := func(hours, minutes, seconds, milliseconds string) time.Duration {
		h, _ := strconv.Atoi(hours)
		m, _ := strconv.Atoi(minutes)
		s, _ := strconv.Atoi(seconds)
		ms, _ := strconv.Atoi(milliseconds)
		return time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(ms)*time.Millisecond
	}

	return parse(matches[1], matches[2], matches[3], matches[4]),
		parse(matches[5], matches[6], matches[7], matches[8]),
		true
}

func (rawTimedWorkflow) Instructions() string {
	return "Return the subtitles in SRT format with the same number of blocks in the same order. " +
		"You may adjust timecodes to fit the translated text. Do not add commentary outside the blocks."
}
