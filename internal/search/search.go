// Package search is the retrieval facade: it embeds the query, pulls
// nearest neighbors from the store, loads annotations, and hands scoring to
// the rank package.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/memoirhq/memoir/internal/embed"
	"github.com/memoirhq/memoir/internal/rank"
	"github.com/memoirhq/memoir/internal/store"
	"github.com/memoirhq/memoir/internal/temporal"
)

// overfetch widens the neighbor fetch so post-filtering still fills limit.
const overfetch = 3

// MemoryResult is one ranked memory hit.
type MemoryResult struct {
	Memory    *store.Memory
	Context   *store.MemoryContext
	Tags      []*store.MemoryTag
	People    []*store.MemoryPerson
	Score     float64
	Breakdown rank.Breakdown
}

// EventResult is one ranked event hit with its member memories.
type EventResult struct {
	Event     *store.Event
	Relevance float64
	Memories  []*store.Memory
}

// EventOptions narrows an event search beyond the query text.
type EventOptions struct {
	Start         *time.Time
	End           *time.Time
	MinConfidence float64
	Near          *store.GeoPoint
	RadiusMeters  float64
}

// Engine runs retrieval against the store.
type Engine struct {
	st       store.Store
	embedder embed.Embedder
	now      func() time.Time
}

// NewEngine creates a search engine.
func NewEngine(st store.Store, embedder embed.Embedder) *Engine {
	return &Engine{st: st, embedder: embedder, now: time.Now}
}

// SearchMemories returns the owner's memories ranked by the hybrid score.
// The query's temporal intent sets the scoring reference time.
func (e *Engine) SearchMemories(ctx context.Context, ownerID, query string, limit int) ([]MemoryResult, error) {
	if limit <= 0 {
		limit = 10
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	neighbors, err := e.st.NearestMemories(ctx, ownerID, vec, limit*overfetch)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(neighbors))
	distances := make(map[int64]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
		distances[n.ID] = n.Distance
	}

	memories, err := e.st.MemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading memories: %w", err)
	}
	contexts, err := e.st.ContextsByMemoryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading contexts: %w", err)
	}
	tags, err := e.st.TagsByMemoryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading tags: %w", err)
	}
	people, err := e.st.PeopleByMemoryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading people: %w", err)
	}

	reference := e.referenceTime(temporal.ParseAt(query, e.now()))

	results := make([]MemoryResult, 0, len(memories))
	for _, m := range memories {
		mc := contexts[m.ID]
		sig := rank.MemorySignals{
			CosineDistance: distances[m.ID],
			CapturedAt:     m.CapturedAt,
			HasPlace:       mc != nil && (mc.PlaceName != "" || mc.Coord != nil),
			HasPeople:      len(people[m.ID]) > 0,
			HasTags:        len(tags[m.ID]) > 0,
		}
		score := rank.ScoreMemory(sig, reference)
		results = append(results, MemoryResult{
			Memory:    m,
			Context:   mc,
			Tags:      tags[m.ID],
			People:    people[m.ID],
			Score:     score.Score,
			Breakdown: score.Breakdown,
		})
	}

	sortMemoryResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchEvents returns the owner's events ranked by boosted relevance. The
// query's temporal intent contributes range filters, boosts, and sort order
// on top of any caller options.
func (e *Engine) SearchEvents(ctx context.Context, ownerID, query string, opts EventOptions, limit int) ([]EventResult, error) {
	if limit <= 0 {
		limit = 10
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	neighbors, err := e.st.NearestEvents(ctx, ownerID, vec, limit*overfetch)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(neighbors))
	distances := make(map[int64]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
		distances[n.ID] = n.Distance
	}

	events, err := e.st.EventsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}

	now := e.now()
	intent := temporal.ParseAt(query, now)

	filters := rank.EventFilters{
		Start:         opts.Start,
		End:           opts.End,
		MinConfidence: opts.MinConfidence,
		Near:          opts.Near,
		RadiusMeters:  opts.RadiusMeters,
	}
	// The intent's range narrows, never widens, the caller's.
	if intent.Start != nil && (filters.Start == nil || intent.Start.After(*filters.Start)) {
		filters.Start = intent.Start
	}
	if intent.End != nil && (filters.End == nil || intent.End.Before(*filters.End)) {
		filters.End = intent.End
	}

	scored := make([]rank.ScoredEvent, 0, len(events))
	for _, ev := range events {
		if !rank.AcceptEvent(ev, filters) {
			continue
		}
		relevance := rank.EventRelevance(distances[ev.ID]) + rank.EventBoost(intent, ev.StartedAt, now)
		scored = append(scored, rank.ScoredEvent{Event: ev, Relevance: relevance})
	}

	rank.SortEvents(intent, scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]EventResult, 0, len(scored))
	for _, se := range scored {
		memIDs, err := e.st.LinkedMemoryIDs(ctx, se.Event.ID)
		if err != nil {
			return nil, fmt.Errorf("loading event members: %w", err)
		}
		members, err := e.st.MemoriesByIDs(ctx, memIDs)
		if err != nil {
			return nil, fmt.Errorf("loading event memories: %w", err)
		}
		results = append(results, EventResult{
			Event:     se.Event,
			Relevance: se.Relevance,
			Memories:  members,
		})
	}
	return results, nil
}

// referenceTime picks the scoring reference for memory ranking: an explicit
// reference or range endpoint when the intent has one, otherwise zero
// (which ScoreMemory treats as now).
func (e *Engine) referenceTime(intent temporal.Intent) time.Time {
	switch {
	case intent.Reference != nil:
		return *intent.Reference
	case intent.End != nil:
		return *intent.End
	case intent.Start != nil:
		return *intent.Start
	default:
		return time.Time{}
	}
}

func sortMemoryResults(results []MemoryResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
}
