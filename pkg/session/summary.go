package session

import (
	"sort"

	"github.com/daibug/daibug/pkg/models"
)

// topErrorLimit caps the summary's error leaderboard.
const topErrorLimit = 5

// ComputeSummary aggregates events and interactions. Events are sorted by
// (ts, id) first so the result is independent of input order.
func ComputeSummary(events []models.Event, interactions []models.Interaction) Summary {
	sorted := SortEvents(events)

	s := Summary{
		TotalEvents:      len(sorted),
		InteractionCount: len(interactions),
	}
	errorMessages := make(map[string]int)

	for _, e := range sorted {
		switch e.Level {
		case models.LevelError:
			s.ErrorCount++
			if msg, ok := e.Payload["message"].(string); ok && msg != "" {
				errorMessages[msg]++
			}
		case models.LevelWarn:
			s.WarnCount++
		}
		if e.Source == models.SourceBrowserNetwork {
			s.NetworkRequests++
			if status, ok := numericStatus(e.Payload); ok && (status < 200 || status > 399) {
				s.FailedRequests++
			}
		}
	}

	if len(sorted) > 1 {
		s.Duration = sorted[len(sorted)-1].TS - sorted[0].TS
	}
	s.TopErrors = topErrors(errorMessages)
	return s
}

// SortEvents returns a copy ordered by ts, ties broken by id.
func SortEvents(events []models.Event) []models.Event {
	out := make([]models.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// topErrors ranks messages by frequency, ties broken lexicographically.
func topErrors(counts map[string]int) []string {
	msgs := make([]string, 0, len(counts))
	for m := range counts {
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if counts[msgs[i]] != counts[msgs[j]] {
			return counts[msgs[i]] > counts[msgs[j]]
		}
		return msgs[i] < msgs[j]
	})
	if len(msgs) > topErrorLimit {
		msgs = msgs[:topErrorLimit]
	}
	return msgs
}

func numericStatus(payload map[string]any) (int, bool) {
	switch v := payload["status"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}
