package subtitle

import (
	"fmt"
	"strings"
	"time"
)

// Render produces SRT-formatted text from the original entries and the
// translated texts accumulated so far. Original timecodes are always
// reattached; entries without a translation keep their source text so
// partial output stays usable by a player.
func Render(entries []Entry, translated map[int]string) string {
	var sb strings.Builder

	for i, entry := range entries {
		text := entry.Text
		if t, ok := translated[entry.Index]; ok && t != "" {
			text = t
		}

		sb.WriteString(fmt.Sprintf("%d\n", entry.Index))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", FormatTime(entry.StartTime), FormatTime(entry.EndTime)))
		sb.WriteString(text)
		sb.WriteString("\n")
		if i < len(entries)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// FormatTime formats a duration as an SRT timestamp (00:02:16,612).
func FormatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
