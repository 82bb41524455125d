package subtitle

import "time"

// Entry represents a single timed subtitle entry.
// Index is the stable identity used for all reconciliation and is never
// reassigned after the entry is read from its source.
type Entry struct {
	Index     int           `json:"index"`
	StartTime time.Duration `json:"start_time"`
	EndTime   time.Duration `json:"end_time"`
	Text      string        `json:"text"`
}

// Texts returns the entry texts in order.
func Texts(entries []Entry) []string {
	ret := make([]string, 0, len(entries))
	for _, entry := range entries {
		ret = append(ret, entry.Text)
	}
	return ret
}
