// Package rank combines embedding similarity with temporal, place, people,
// and tag signals into retrieval scores. Weights are fixed constants, not
// trained; scores are heuristics in [0,1], not probabilities.
package rank

import (
	"sort"
	"time"

	"github.com/memoirhq/memoir/internal/cluster"
	"github.com/memoirhq/memoir/internal/store"
	"github.com/memoirhq/memoir/internal/temporal"
)

// Memory-level hybrid weights. They sum to 1 so the total stays in [0,1].
const (
	WeightEmbed    = 0.45
	WeightTemporal = 0.20
	WeightPlace    = 0.20
	WeightPeople   = 0.10
	WeightTags     = 0.05
)

// MemorySignals holds the per-memory inputs to the hybrid scorer.
type MemorySignals struct {
	CosineDistance float64
	CapturedAt     time.Time
	HasPlace       bool
	HasPeople      bool
	HasTags        bool
}

// Breakdown exposes each weighted term for explainability.
type Breakdown struct {
	Embed    float64 `json:"embed"`
	Temporal float64 `json:"temporal"`
	Place    float64 `json:"place"`
	People   float64 `json:"people"`
	Tags     float64 `json:"tags"`
}

// MemoryScore is a hybrid score with its term breakdown.
type MemoryScore struct {
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// ScoreMemory computes the fixed-weight hybrid score for one memory.
// reference defaults to now when zero. Place/people/tags are binary
// presence indicators: they reward annotation richness, not term match.
func ScoreMemory(sig MemorySignals, reference time.Time) MemoryScore {
	if reference.IsZero() {
		reference = time.Now()
	}

	embed := clamp01(1 - sig.CosineDistance)

	gap := reference.Sub(sig.CapturedAt)
	if gap < 0 {
		gap = -gap
	}
	var temporalSignal float64
	switch {
	case gap <= 24*time.Hour:
		temporalSignal = 1
	case gap <= 7*24*time.Hour:
		temporalSignal = 0.7
	case gap <= 30*24*time.Hour:
		temporalSignal = 0.3
	}

	b := Breakdown{
		Embed:    WeightEmbed * embed,
		Temporal: WeightTemporal * temporalSignal,
		Place:    WeightPlace * boolSignal(sig.HasPlace),
		People:   WeightPeople * boolSignal(sig.HasPeople),
		Tags:     WeightTags * boolSignal(sig.HasTags),
	}

	return MemoryScore{
		Score:     b.Embed + b.Temporal + b.Place + b.People + b.Tags,
		Breakdown: b,
	}
}

// EventFilters are caller-supplied pre-boost rejection criteria.
type EventFilters struct {
	Start         *time.Time // reject events starting before this
	End           *time.Time // reject events starting after this
	MinConfidence float64
	Near          *store.GeoPoint
	RadiusMeters  float64
}

// ScoredEvent pairs an event with its boosted relevance.
type ScoredEvent struct {
	Event     *store.Event
	Relevance float64
}

// AcceptEvent applies caller filters before any boost. Events outside the
// caller range, below the confidence floor, or outside the caller radius
// (from the event's centroid) are rejected.
func AcceptEvent(ev *store.Event, f EventFilters) bool {
	if f.Start != nil && ev.StartedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && ev.StartedAt.After(*f.End) {
		return false
	}
	if ev.Confidence < f.MinConfidence {
		return false
	}
	if f.Near != nil && f.RadiusMeters > 0 {
		if ev.Coord == nil {
			return false
		}
		if cluster.Haversine(*f.Near, *ev.Coord) > f.RadiusMeters {
			return false
		}
	}
	return true
}

// EventRelevance converts cosine distance ([0,2]) to relevance ([0,1]).
func EventRelevance(distance float64) float64 {
	return clamp01(1 - distance/2)
}

// EventBoost applies the temporal intent's post-hoc relevance boost.
func EventBoost(intent temporal.Intent, startedAt, now time.Time) float64 {
	daysSince := now.Sub(startedAt).Hours() / 24

	switch intent.Type {
	case temporal.TypeFirst:
		// Older is better.
		boost := daysSince / 365 * 0.2
		if boost > 0.2 {
			boost = 0.2
		}
		if boost < 0 {
			boost = 0
		}
		return boost
	case temporal.TypeLast:
		// Fresher is better.
		boost := 0.2 - daysSince/30*0.2
		if boost < 0 {
			boost = 0
		}
		return boost
	case temporal.TypeAround:
		if intent.Reference == nil {
			return 0
		}
		daysDiff := startedAt.Sub(*intent.Reference).Hours() / 24
		if daysDiff < 0 {
			daysDiff = -daysDiff
		}
		boost := 0.3 - daysDiff/7*0.3
		if boost < 0 {
			boost = 0
		}
		return boost
	default:
		return 0
	}
}

// SortEvents orders scored events per the intent: first by start time
// ascending, last/recent by start time descending, everything else by
// boosted relevance descending.
func SortEvents(intent temporal.Intent, events []ScoredEvent) {
	switch intent.Type {
	case temporal.TypeFirst:
		sort.Slice(events, func(i, j int) bool {
			return events[i].Event.StartedAt.Before(events[j].Event.StartedAt)
		})
	case temporal.TypeLast, temporal.TypeRecent:
		sort.Slice(events, func(i, j int) bool {
			return events[i].Event.StartedAt.After(events[j].Event.StartedAt)
		})
	default:
		sort.Slice(events, func(i, j int) bool {
			if events[i].Relevance != events[j].Relevance {
				return events[i].Relevance > events[j].Relevance
			}
			return events[i].Event.ID < events[j].Event.ID
		})
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolSignal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
