package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

const digestPoolLimit = 500

var digestWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// digest serves the time-windowed digest: cards in the window, the most
// frequently mentioned entities across them, cards carrying extracted
// action items (surfaced as reminders), and a naive source-type clustering.
func (s *Server) digest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := q.Get("window")
	if window == "" {
		window = "24h"
	}
	dur, ok := digestWindows[window]
	if !ok {
		writeError(w, apperr.New(apperr.InvalidInput, "window must be one of 24h, 7d, 30d"))
		return
	}
	limit := atoiDefault(q.Get("limit"), 50)

	cards, err := s.store.Cards().List(r.Context(), store.CardFilter{Limit: digestPoolLimit})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list cards", err))
		return
	}

	cutoff := time.Now().Add(-dur)
	windowed := make([]store.MemoryCard, 0, len(cards))
	for _, c := range cards {
		if c.CreatedAt.After(cutoff) {
			windowed = append(windowed, c)
		}
	}
	if len(windowed) > limit {
		windowed = windowed[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window":    window,
		"cards":     windowed,
		"entities":  topEntities(windowed, 10),
		"reminders": remindersFrom(windowed),
		"clusters":  clusterBySourceType(windowed),
	})
}

// feedToday is a fixed-window (24h) convenience view shaped for a daily
// landing screen.
func (s *Server) feedToday(w http.ResponseWriter, r *http.Request) {
	cards, err := s.store.Cards().List(r.Context(), store.CardFilter{Limit: digestPoolLimit})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list cards", err))
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	var today []store.MemoryCard
	for _, c := range cards {
		if c.CreatedAt.After(cutoff) {
			today = append(today, c)
		}
	}

	recent := today
	if len(recent) > 10 {
		recent = recent[:10]
	}

	weekCutoff := time.Now().Add(-7 * 24 * time.Hour)
	var week []store.MemoryCard
	for _, c := range cards {
		if c.CreatedAt.After(weekCutoff) {
			week = append(week, c)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":             time.Now().Format("2006-01-02"),
		"reminders":        remindersFrom(today),
		"recent_memories":  recent,
		"emerging_topics":  emergingTopics(today, week),
		"activity_summary": map[string]any{"captured_today": len(today), "captured_this_week": len(week)},
	})
}

type entityCount struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

func topEntities(cards []store.MemoryCard, n int) []entityCount {
	counts := map[string]int{}
	for _, c := range cards {
		for _, e := range c.Metadata.Entities {
			counts[e]++
		}
	}
	return rankCounts(counts, n)
}

// emergingTopics surfaces entities that mention more often in the last 24h
// than their share of the trailing-week baseline would predict, a cheap
// stand-in for a real trend-detection pass.
func emergingTopics(today, week []store.MemoryCard) []entityCount {
	todayCounts := map[string]int{}
	for _, c := range today {
		for _, e := range c.Metadata.Entities {
			todayCounts[e]++
		}
	}
	weekCounts := map[string]int{}
	for _, c := range week {
		for _, e := range c.Metadata.Entities {
			weekCounts[e]++
		}
	}

	emerging := map[string]int{}
	for e, todayCount := range todayCounts {
		baseline := weekCounts[e] - todayCount
		if todayCount >= 2 && float64(todayCount) > float64(baseline)*0.25 {
			emerging[e] = todayCount
		}
	}
	return rankCounts(emerging, 10)
}

func rankCounts(counts map[string]int, n int) []entityCount {
	out := make([]entityCount, 0, len(counts))
	for e, c := range counts {
		out = append(out, entityCount{Entity: e, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Entity < out[j].Entity
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func remindersFrom(cards []store.MemoryCard) []store.MemoryCard {
	var out []store.MemoryCard
	for _, c := range cards {
		if len(c.Metadata.Actions) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func clusterBySourceType(cards []store.MemoryCard) map[string][]string {
	clusters := map[string][]string{}
	for _, c := range cards {
		key := c.Metadata.SourceType
		if key == "" {
			key = "unknown"
		}
		clusters[key] = append(clusters[key], c.MemoryID)
	}
	return clusters
}
