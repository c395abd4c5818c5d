// Package temporal extracts structured temporal intent from free-text
// queries ("first time I went hiking", "coffee last week").
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Intent types, in pattern priority order.
const (
	TypeFirst   = "first"
	TypeLast    = "last"
	TypeBefore  = "before"
	TypeAfter   = "after"
	TypeAround  = "around"
	TypeBetween = "between"
	TypeRecent  = "recent"
	TypeNone    = "none"
)

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// aroundWindow is the half-width of the date window for "around X" queries.
const aroundWindow = 3 * 24 * time.Hour

// Intent is the structured temporal reading of a query.
type Intent struct {
	Type      string
	Reference *time.Time
	Start     *time.Time
	End       *time.Time
	Sort      string
}

var (
	firstPhrases = []string{"first time", "earliest", "when did i first", "initial"}
	lastPhrases  = []string{"last time", "most recent", "latest", "when did i last"}

	beforeRe   = regexp.MustCompile(`\bbefore\s+(.+)$`)
	afterRe    = regexp.MustCompile(`\bafter\s+(.+)$`)
	aroundRe   = regexp.MustCompile(`\b(?:around|near|about)\s+(.+)$`)
	lastNDays  = regexp.MustCompile(`\blast\s+(\d+)\s+days?\b`)
	recentRe   = regexp.MustCompile(`\b(?:recently|lately|these days|this week)\b`)
	dateLayout = []string{
		"2006-01-02",
		"01/02/2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"January 2 2006",
		"January 2006",
		"January",
	}
)

// Parse extracts a temporal intent from a query relative to the current time.
func Parse(query string) Intent {
	return ParseAt(query, time.Now())
}

// ParseAt is Parse with an explicit reference clock, for deterministic tests.
// Pattern priority: first match wins.
func ParseAt(query string, now time.Time) Intent {
	q := strings.ToLower(strings.TrimSpace(query))

	for _, p := range firstPhrases {
		if strings.Contains(q, p) {
			return Intent{Type: TypeFirst, Sort: SortAsc}
		}
	}
	for _, p := range lastPhrases {
		if strings.Contains(q, p) {
			return Intent{Type: TypeLast, Sort: SortDesc}
		}
	}

	if m := beforeRe.FindStringSubmatch(q); m != nil {
		end := parseRelative(m[1], now)
		return Intent{Type: TypeBefore, End: &end, Sort: SortDesc}
	}
	if m := afterRe.FindStringSubmatch(q); m != nil {
		start := parseRelative(m[1], now)
		return Intent{Type: TypeAfter, Start: &start, Sort: SortAsc}
	}
	if m := aroundRe.FindStringSubmatch(q); m != nil {
		ref := parseRelative(m[1], now)
		start := ref.Add(-aroundWindow)
		end := ref.Add(aroundWindow)
		return Intent{Type: TypeAround, Reference: &ref, Start: &start, End: &end, Sort: SortDesc}
	}

	if intent, ok := parseExplicitRange(q, now); ok {
		return intent
	}

	if recentRe.MatchString(q) {
		start := now.AddDate(0, 0, -7)
		return Intent{Type: TypeRecent, Start: &start, End: &now, Sort: SortDesc}
	}

	// Default: newest first.
	return Intent{Type: TypeNone, Sort: SortDesc}
}

// parseExplicitRange handles "last N days", "last/this week", and
// "last/this month" as closed [start, end] ranges.
func parseExplicitRange(q string, now time.Time) (Intent, bool) {
	if m := lastNDays.FindStringSubmatch(q); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			start := now.AddDate(0, 0, -n)
			return Intent{Type: TypeBetween, Start: &start, End: &now, Sort: SortDesc}, true
		}
	}

	type rangeRule struct {
		phrase string
		start  func() time.Time
	}
	rules := []rangeRule{
		{"last week", func() time.Time { return now.AddDate(0, 0, -7) }},
		{"this week", func() time.Time { return startOfWeek(now) }},
		{"last month", func() time.Time { return now.AddDate(0, -1, 0) }},
		{"this month", func() time.Time { return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()) }},
	}
	for _, r := range rules {
		if strings.Contains(q, r.phrase) {
			start := r.start()
			return Intent{Type: TypeBetween, Start: &start, End: &now, Sort: SortDesc}, true
		}
	}
	return Intent{}, false
}

// parseRelative resolves a relative or absolute date phrase. Understands
// today/yesterday/tomorrow and "last/this week|month|year"; otherwise
// attempts generic date parsing, defaulting to now on failure.
func parseRelative(phrase string, now time.Time) time.Time {
	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.Trim(p, ".,!?")

	switch p {
	case "today":
		return startOfDay(now)
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1)
	case "tomorrow":
		return startOfDay(now).AddDate(0, 0, 1)
	case "last week":
		return now.AddDate(0, 0, -7)
	case "last month":
		return now.AddDate(0, -1, 0)
	case "last year":
		return now.AddDate(-1, 0, 0)
	case "this week", "this month", "this year":
		return now
	}

	for _, layout := range dateLayout {
		if t, err := time.Parse(layout, phrase); err == nil {
			// Layouts without a year parse to year 0; pin to the current year.
			if t.Year() == 0 {
				t = time.Date(now.Year(), t.Month(), max(t.Day(), 1), 0, 0, 0, 0, now.Location())
			}
			return t
		}
		if t, err := time.Parse(layout, strings.Title(p)); err == nil {
			if t.Year() == 0 {
				t = time.Date(now.Year(), t.Month(), max(t.Day(), 1), 0, 0, 0, 0, now.Location())
			}
			return t
		}
	}

	return now
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	// Week starts Monday.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
