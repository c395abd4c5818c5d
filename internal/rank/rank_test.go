package rank

import (
	"math"
	"testing"
	"time"

	"github.com/memoirhq/memoir/internal/store"
	"github.com/memoirhq/memoir/internal/temporal"
)

var ref = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func TestScoreMemoryBounds(t *testing.T) {
	full := ScoreMemory(MemorySignals{
		CosineDistance: 0,
		CapturedAt:     ref.Add(-time.Hour),
		HasPlace:       true,
		HasPeople:      true,
		HasTags:        true,
	}, ref)
	if math.Abs(full.Score-1.0) > 1e-9 {
		t.Errorf("perfect signals score = %f, want 1.0", full.Score)
	}

	empty := ScoreMemory(MemorySignals{
		CosineDistance: 2, // opposite vector
		CapturedAt:     ref.AddDate(-1, 0, 0),
	}, ref)
	if empty.Score != 0 {
		t.Errorf("worst signals score = %f, want 0", empty.Score)
	}
}

func TestScoreMemoryMonotonicInEmbed(t *testing.T) {
	prev := math.Inf(1)
	for _, d := range []float64{0, 0.3, 0.6, 1.0, 1.5, 2.0} {
		s := ScoreMemory(MemorySignals{CosineDistance: d, CapturedAt: ref}, ref)
		if s.Score > prev {
			t.Errorf("score increased as distance grew: distance %f gave %f > %f", d, s.Score, prev)
		}
		prev = s.Score
	}
}

func TestScoreMemoryTemporalBuckets(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"same day", 12 * time.Hour, WeightTemporal * 1.0},
		{"this week", 3 * 24 * time.Hour, WeightTemporal * 0.7},
		{"this month", 20 * 24 * time.Hour, WeightTemporal * 0.3},
		{"old", 100 * 24 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScoreMemory(MemorySignals{CosineDistance: 2, CapturedAt: ref.Add(-tt.age)}, ref)
			if math.Abs(s.Breakdown.Temporal-tt.want) > 1e-9 {
				t.Errorf("temporal term = %f, want %f", s.Breakdown.Temporal, tt.want)
			}
		})
	}
}

func TestBreakdownSumsToScore(t *testing.T) {
	s := ScoreMemory(MemorySignals{
		CosineDistance: 0.4,
		CapturedAt:     ref.Add(-2 * 24 * time.Hour),
		HasPlace:       true,
		HasTags:        true,
	}, ref)
	sum := s.Breakdown.Embed + s.Breakdown.Temporal + s.Breakdown.Place + s.Breakdown.People + s.Breakdown.Tags
	if math.Abs(sum-s.Score) > 1e-9 {
		t.Errorf("breakdown sum %f != score %f", sum, s.Score)
	}
}

func TestAcceptEvent(t *testing.T) {
	sf := store.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	start := ref.AddDate(0, 0, -10)
	ev := &store.Event{StartedAt: start, Confidence: 0.6, Coord: &sf}

	if !AcceptEvent(ev, EventFilters{}) {
		t.Error("no filters should accept")
	}

	after := start.Add(time.Hour)
	if AcceptEvent(ev, EventFilters{Start: &after}) {
		t.Error("event before range start accepted")
	}
	before := start.Add(-time.Hour)
	if AcceptEvent(ev, EventFilters{End: &before}) {
		t.Error("event after range end accepted")
	}
	if AcceptEvent(ev, EventFilters{MinConfidence: 0.7}) {
		t.Error("event below confidence floor accepted")
	}

	la := store.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	if AcceptEvent(ev, EventFilters{Near: &la, RadiusMeters: 1000}) {
		t.Error("event outside radius accepted")
	}
	if !AcceptEvent(ev, EventFilters{Near: &sf, RadiusMeters: 1000}) {
		t.Error("event inside radius rejected")
	}

	coordless := &store.Event{StartedAt: start, Confidence: 0.6}
	if AcceptEvent(coordless, EventFilters{Near: &sf, RadiusMeters: 1000}) {
		t.Error("coordless event accepted under a radius filter")
	}
}

func TestEventRelevance(t *testing.T) {
	if EventRelevance(0) != 1 {
		t.Error("identical vectors should give relevance 1")
	}
	if EventRelevance(2) != 0 {
		t.Error("opposite vectors should give relevance 0")
	}
	if got := EventRelevance(1); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("orthogonal relevance = %f, want 0.5", got)
	}
}

func TestEventBoost(t *testing.T) {
	t.Run("first rewards age", func(t *testing.T) {
		intent := temporal.Intent{Type: temporal.TypeFirst}
		old := EventBoost(intent, ref.AddDate(-2, 0, 0), ref)
		young := EventBoost(intent, ref.AddDate(0, 0, -30), ref)
		if old != 0.2 {
			t.Errorf("2-year-old boost = %f, want capped 0.2", old)
		}
		if young >= old {
			t.Errorf("young event boost %f not below old %f", young, old)
		}
	})

	t.Run("last rewards freshness", func(t *testing.T) {
		intent := temporal.Intent{Type: temporal.TypeLast}
		fresh := EventBoost(intent, ref.AddDate(0, 0, -1), ref)
		stale := EventBoost(intent, ref.AddDate(0, 0, -60), ref)
		if fresh <= stale {
			t.Errorf("fresh boost %f not above stale %f", fresh, stale)
		}
		if stale != 0 {
			t.Errorf("60-day-old boost = %f, want 0", stale)
		}
	})

	t.Run("around decays with distance from reference", func(t *testing.T) {
		anchor := ref.AddDate(0, 0, -20)
		intent := temporal.Intent{Type: temporal.TypeAround, Reference: &anchor}
		exact := EventBoost(intent, anchor, ref)
		if math.Abs(exact-0.3) > 1e-9 {
			t.Errorf("exact match boost = %f, want 0.3", exact)
		}
		far := EventBoost(intent, anchor.AddDate(0, 0, 10), ref)
		if far != 0 {
			t.Errorf("10-day-off boost = %f, want 0", far)
		}
	})

	t.Run("none has no boost", func(t *testing.T) {
		if EventBoost(temporal.Intent{Type: temporal.TypeNone}, ref, ref) != 0 {
			t.Error("none intent should not boost")
		}
	})
}

func TestSortEvents(t *testing.T) {
	old := &store.Event{ID: 1, StartedAt: ref.AddDate(-1, 0, 0)}
	mid := &store.Event{ID: 2, StartedAt: ref.AddDate(0, -1, 0)}
	fresh := &store.Event{ID: 3, StartedAt: ref.AddDate(0, 0, -1)}

	events := func() []ScoredEvent {
		return []ScoredEvent{
			{Event: mid, Relevance: 0.9},
			{Event: fresh, Relevance: 0.1},
			{Event: old, Relevance: 0.5},
		}
	}

	byFirst := events()
	SortEvents(temporal.Intent{Type: temporal.TypeFirst}, byFirst)
	if byFirst[0].Event.ID != 1 {
		t.Errorf("first intent: leading event = %d, want oldest", byFirst[0].Event.ID)
	}

	byLast := events()
	SortEvents(temporal.Intent{Type: temporal.TypeLast}, byLast)
	if byLast[0].Event.ID != 3 {
		t.Errorf("last intent: leading event = %d, want freshest", byLast[0].Event.ID)
	}

	byRelevance := events()
	SortEvents(temporal.Intent{Type: temporal.TypeNone}, byRelevance)
	if byRelevance[0].Event.ID != 2 {
		t.Errorf("none intent: leading event = %d, want most relevant", byRelevance[0].Event.ID)
	}
}
