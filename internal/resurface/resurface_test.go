package resurface

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/memoirhq/memoir/internal/store"
)

var now = time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSelector(s *store.SQLiteStore) *Selector {
	sel := NewSelector(s)
	sel.now = func() time.Time { return now }
	sel.intn = func(n int) int { return 0 }
	return sel
}

func addEvent(t *testing.T, s *store.SQLiteStore, owner, title, summary string, startedAt time.Time, confidence float64) int64 {
	t.Helper()
	ctx := context.Background()
	m, err := s.CreateMemory(ctx, &store.Memory{
		OwnerID:    owner,
		CapturedAt: startedAt,
		Text:       title,
		State:      store.StateCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := &store.Event{
		OwnerID:    owner,
		StartedAt:  startedAt,
		EndedAt:    startedAt.Add(time.Hour),
		Title:      title,
		Summary:    summary,
		Confidence: confidence,
	}
	id, err := s.CreateEventWithLinks(ctx, ev, []store.Link{{MemoryID: m, Relation: store.RelationPrimary}}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestScoreEventAnniversary(t *testing.T) {
	tests := []struct {
		name       string
		daysAgo    int
		wantBonus  int
		wantReason string
	}{
		{"one year exactly", 365, 120, "anniversary"},
		{"one year plus two days", 367, 100, "anniversary"},
		{"two months", 60, 50, "anniversary"},
		{"three weeks", 21, 25, "anniversary"},
		{"no anniversary", 100, 0, "memorable moment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &store.Event{StartedAt: now.AddDate(0, 0, -tt.daysAgo)}
			_, reason := ScoreEvent(ev, now)
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
			if bonus := anniversaryBonus(tt.daysAgo); bonus != tt.wantBonus {
				t.Errorf("anniversaryBonus(%d) = %d, want %d", tt.daysAgo, bonus, tt.wantBonus)
			}
		})
	}
}

func TestScoreEventSignals(t *testing.T) {
	base := &store.Event{StartedAt: now.AddDate(0, 0, -100)} // age bucket: +40
	baseScore, _ := ScoreEvent(base, now)

	t.Run("confidence", func(t *testing.T) {
		ev := &store.Event{StartedAt: base.StartedAt, Confidence: 1.0}
		score, _ := ScoreEvent(ev, now)
		if score-baseScore != 30 {
			t.Errorf("confidence delta = %d, want 30", score-baseScore)
		}
	})

	t.Run("rich summary", func(t *testing.T) {
		ev := &store.Event{StartedAt: base.StartedAt, Summary: strings.Repeat("x", 151)}
		score, _ := ScoreEvent(ev, now)
		if score-baseScore != 20 {
			t.Errorf("rich summary delta = %d, want 20", score-baseScore)
		}
	})

	t.Run("place", func(t *testing.T) {
		ev := &store.Event{StartedAt: base.StartedAt, PlaceName: "Ocean Beach"}
		score, _ := ScoreEvent(ev, now)
		if score-baseScore != 15 {
			t.Errorf("place delta = %d, want 15", score-baseScore)
		}
	})

	t.Run("emotional keywords", func(t *testing.T) {
		ev := &store.Event{StartedAt: base.StartedAt, Title: "Birthday trip", Summary: "We laughed a lot."}
		score, reason := ScoreEvent(ev, now)
		// birthday + trip + laughed = 3 matches.
		if score-baseScore != 24 {
			t.Errorf("keyword delta = %d, want 24", score-baseScore)
		}
		if reason != "emotional highlight" {
			t.Errorf("reason = %q", reason)
		}
	})

	t.Run("long duration", func(t *testing.T) {
		ev := &store.Event{StartedAt: base.StartedAt, EndedAt: base.StartedAt.Add(3 * time.Hour)}
		score, _ := ScoreEvent(ev, now)
		if score-baseScore != 10 {
			t.Errorf("duration delta = %d, want 10", score-baseScore)
		}
	})
}

func TestSelectPrefersAnniversary(t *testing.T) {
	s := newTestStore(t)
	sel := newTestSelector(s)

	anniversary := addEvent(t, s, "alice", "Beach day", "A quiet day.", now.AddDate(0, 0, -365), 0.5)
	addEvent(t, s, "alice", "Lunch", "Just lunch.", now.AddDate(0, 0, -10), 0.5)
	addEvent(t, s, "alice", "Errands", "Groceries.", now.AddDate(0, 0, -11), 0.5)

	got, err := sel.Select(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got == nil {
		t.Fatal("expected a selection")
	}
	if got.Event.ID != anniversary {
		t.Errorf("selected event %d, want the one-year anniversary %d", got.Event.ID, anniversary)
	}
	if got.Reason != "anniversary" {
		t.Errorf("reason = %q", got.Reason)
	}
	if !strings.HasPrefix(got.Notification, "1 year ago today: Beach day") {
		t.Errorf("notification = %q", got.Notification)
	}
}

func TestSelectExcludesRecentEvents(t *testing.T) {
	s := newTestStore(t)
	sel := newTestSelector(s)

	addEvent(t, s, "alice", "Yesterday", "Too fresh.", now.AddDate(0, 0, -1), 0.9)

	got, err := sel.Select(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("event younger than a week was resurfaced: %+v", got.Event)
	}
}

func TestSelectEmptyStore(t *testing.T) {
	s := newTestStore(t)
	sel := newTestSelector(s)

	got, err := sel.Select(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil selection for empty store")
	}
}

func TestSelectDiversityGuardrail(t *testing.T) {
	s := newTestStore(t)
	sel := newTestSelector(s)

	// Three events in the same 24-hour window a month back.
	day := now.AddDate(0, 0, -30)
	e1 := addEvent(t, s, "alice", "Morning", "a", day, 0.9)
	e2 := addEvent(t, s, "alice", "Noon", "b", day.Add(4*time.Hour), 0.5)
	e3 := addEvent(t, s, "alice", "Evening", "c", day.Add(8*time.Hour), 0.1)

	// Force the random pick to the last of the top three.
	sel.intn = func(n int) int {
		if n != 3 {
			t.Errorf("intn(%d), want intn(3)", n)
		}
		return 2
	}

	got, err := sel.Select(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a selection")
	}
	picked := got.Event.ID
	if picked != e1 && picked != e2 && picked != e3 {
		t.Errorf("picked %d outside the same-day trio", picked)
	}
	// With intn pinned to 2 the pick is the third-ranked candidate, not
	// the loudest one.
	if picked == e1 {
		t.Error("guardrail did not diversify away from the top candidate")
	}
}

func TestNotificationSnippetBounded(t *testing.T) {
	ev := &store.Event{
		StartedAt: now.AddDate(0, 0, -30),
		Title:     "Hike",
		Summary:   strings.Repeat("a very long summary ", 20),
	}
	n := Notification(ev, now)
	if !strings.HasPrefix(n, "4 weeks ago: Hike — ") {
		t.Errorf("notification = %q", n)
	}
	// Prefix + title + separator + at most 80-ish bytes of snippet.
	if len(n) > len("4 weeks ago: Hike — ")+90 {
		t.Errorf("notification too long: %d chars", len(n))
	}
}

func TestNotificationSnippetRuneSafe(t *testing.T) {
	ev := &store.Event{
		StartedAt: now.AddDate(0, 0, -30),
		Title:     "Dinner",
		Summary:   strings.Repeat("日本語のまとめ", 30),
	}
	n := Notification(ev, now)
	if !utf8.ValidString(n) {
		t.Errorf("notification contains invalid UTF-8: %q", n)
	}
	if !strings.HasSuffix(n, "…") {
		t.Errorf("notification = %q, want truncated with ellipsis", n)
	}
}

func TestRelativePhrase(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{730, "2 years ago today"},
		{400, "1 year ago"},
		{90, "3 months ago"},
		{21, "3 weeks ago"},
		{5, "5 days ago"},
		{1, "1 day ago"},
	}
	for _, tt := range tests {
		if got := relativePhrase(tt.days); got != tt.want {
			t.Errorf("relativePhrase(%d) = %q, want %q", tt.days, got, tt.want)
		}
	}
}
