// Package resurface picks one past event per request worth showing the user
// again, using anniversary, age, richness, and emotional-keyword heuristics
// with a diversity guardrail.
package resurface

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/memoirhq/memoir/internal/store"
)

// recencyFloor excludes events newer than this from resurfacing.
const recencyFloor = 7 * 24 * time.Hour

// snippetLimit caps the summary snippet in the notification text.
const snippetLimit = 80

// emotionalKeywords earn +8 per match against title+summary.
var emotionalKeywords = []string{
	"happy", "amazing", "wonderful", "beautiful", "birthday", "anniversary",
	"celebration", "milestone", "trip", "vacation", "adventure", "love",
	"laughed", "excited", "proud", "reunion", "wedding", "graduation",
}

// Candidate is one scored resurfacing candidate.
type Candidate struct {
	Event  *store.Event
	Score  int
	Reason string
}

// Selection is the chosen event plus its presentation strings.
type Selection struct {
	Event        *store.Event
	Score        int
	Reason       string
	Notification string
}

// Selector scores and picks resurfacing events.
type Selector struct {
	st   store.Store
	now  func() time.Time
	intn func(int) int
}

// NewSelector creates a resurfacing selector.
func NewSelector(st store.Store) *Selector {
	return &Selector{st: st, now: time.Now, intn: rand.Intn}
}

// Select picks one event for the owner, or nil when nothing is eligible.
func (s *Selector) Select(ctx context.Context, ownerID string) (*Selection, error) {
	now := s.now()
	events, err := s.st.EventsOlderThan(ctx, ownerID, now.Add(-recencyFloor))
	if err != nil {
		return nil, fmt.Errorf("listing resurfacing candidates: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(events))
	for _, ev := range events {
		score, reason := ScoreEvent(ev, now)
		candidates = append(candidates, Candidate{Event: ev, Score: score, Reason: reason})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Event.ID < candidates[j].Event.ID
	})

	chosen := candidates[0]
	// Diversity guardrail: when the top 3 all fall in one 24-hour window,
	// pick uniformly among them instead of always the loudest.
	if len(candidates) >= 3 && within24h(candidates[:3]) {
		chosen = candidates[s.intn(3)]
	}

	return &Selection{
		Event:        chosen.Event,
		Score:        chosen.Score,
		Reason:       chosen.Reason,
		Notification: Notification(chosen.Event, now),
	}, nil
}

// ScoreEvent computes the resurfacing score for one event and a short
// reason naming its dominant signal.
func ScoreEvent(ev *store.Event, now time.Time) (int, string) {
	daysSince := int(now.Sub(ev.StartedAt).Hours() / 24)

	score := 0
	reason := "memorable moment"

	anniversary := anniversaryBonus(daysSince)
	if anniversary > 0 {
		score += anniversary
		reason = "anniversary"
	}

	switch {
	case daysSince >= 14 && daysSince <= 180:
		score += 40
	case daysSince >= 181 && daysSince <= 365:
		score += 30
	case daysSince > 365:
		score += 20
	}

	score += int(math.Round(ev.Confidence * 30))

	if len(ev.Summary) > 150 {
		score += 20
	} else if len(ev.Summary) > 50 {
		score += 10
	}

	if ev.PlaceName != "" {
		score += 15
	}

	text := strings.ToLower(ev.Title + " " + ev.Summary)
	matched := 0
	for _, kw := range emotionalKeywords {
		if strings.Contains(text, kw) {
			matched++
		}
	}
	score += 8 * matched
	if anniversary == 0 && matched > 0 {
		reason = "emotional highlight"
	}

	if ev.EndedAt.Sub(ev.StartedAt) >= 2*time.Hour {
		score += 10
	}

	return score, reason
}

// anniversaryBonus returns the single best-matching anniversary bonus.
func anniversaryBonus(daysSince int) int {
	switch {
	case daysSince >= 365 && daysSince%365 == 0:
		return 120
	case daysSince >= 365 && (daysSince%365 <= 3 || daysSince%365 >= 362):
		return 100
	case daysSince >= 30 && daysSince%30 == 0:
		return 50
	case daysSince >= 14 && daysSince%7 == 0:
		return 25
	default:
		return 0
	}
}

// Notification renders the human-readable resurfacing line: a relative-time
// phrase, the title, and a bounded summary snippet.
func Notification(ev *store.Event, now time.Time) string {
	phrase := relativePhrase(int(now.Sub(ev.StartedAt).Hours() / 24))

	snippet := strings.TrimSpace(ev.Summary)
	if runes := []rune(snippet); len(runes) > snippetLimit {
		snippet = strings.TrimSpace(string(runes[:snippetLimit-1])) + "…"
	}

	out := phrase + ": " + ev.Title
	if snippet != "" {
		out += " — " + snippet
	}
	return out
}

// relativePhrase mirrors the anniversary/age logic of the scorer.
func relativePhrase(daysSince int) string {
	switch {
	case daysSince >= 365 && daysSince%365 == 0:
		years := daysSince / 365
		if years == 1 {
			return "1 year ago today"
		}
		return fmt.Sprintf("%d years ago today", years)
	case daysSince >= 365:
		years := daysSince / 365
		if years == 1 {
			return "1 year ago"
		}
		return fmt.Sprintf("%d years ago", years)
	case daysSince >= 60:
		return fmt.Sprintf("%d months ago", daysSince/30)
	case daysSince >= 14:
		return fmt.Sprintf("%d weeks ago", daysSince/7)
	case daysSince == 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", daysSince)
	}
}

// within24h reports whether all candidates' start times fall in one
// 24-hour window.
func within24h(candidates []Candidate) bool {
	earliest := candidates[0].Event.StartedAt
	latest := candidates[0].Event.StartedAt
	for _, c := range candidates[1:] {
		if c.Event.StartedAt.Before(earliest) {
			earliest = c.Event.StartedAt
		}
		if c.Event.StartedAt.After(latest) {
			latest = c.Event.StartedAt
		}
	}
	return latest.Sub(earliest) <= 24*time.Hour
}
