// Package infer fills in missing context (place, people, tags) for a
// processed memory by majority vote over its nearest neighbors' annotations.
//
// Everything it writes is unconfirmed / ai-origin: inference never promotes
// an annotation to confirmed and never overwrites a confirmed value. It runs
// asynchronously after the memory's embedding exists; failures are logged
// and swallowed so the ingestion path is never blocked.
package infer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/memoirhq/memoir/internal/store"
)

const (
	// neighborFetch is how many neighbors to request; the memory itself
	// is dropped from the result, leaving up to neighborFetch-1 votes.
	neighborFetch = 16

	// minOccurrences is the vote threshold for a name or tag to count.
	minOccurrences = 2

	maxPeople = 5
	maxTags   = 10

	maxConfidence = 0.99
)

// Engine infers context for memories from their neighbors.
type Engine struct {
	st store.Store
}

// NewEngine creates a context inference engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{st: st}
}

// InferForMemory runs one inference pass for a memory. Missing embeddings
// and empty neighborhoods are not errors: the pass is simply a no-op.
// The pass is idempotent; re-running it creates no duplicate rows.
func (e *Engine) InferForMemory(ctx context.Context, memoryID int64) error {
	m, err := e.st.GetMemory(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("loading memory %d: %w", memoryID, err)
	}
	if m == nil {
		return fmt.Errorf("memory %d: %w", memoryID, store.ErrNotFound)
	}

	vec, err := e.st.GetEmbedding(ctx, store.EmbedKindMemory, memoryID)
	if err != nil {
		return fmt.Errorf("loading embedding for memory %d: %w", memoryID, err)
	}
	if vec == nil {
		// No embedding yet; nothing to vote with.
		return nil
	}

	neighbors, err := e.st.NearestMemories(ctx, m.OwnerID, vec, neighborFetch)
	if err != nil {
		return fmt.Errorf("finding neighbors for memory %d: %w", memoryID, err)
	}

	ids := make([]int64, 0, len(neighbors))
	for _, n := range neighbors {
		if n.ID == memoryID {
			continue
		}
		ids = append(ids, n.ID)
	}
	if len(ids) > neighborFetch-1 {
		ids = ids[:neighborFetch-1]
	}
	if len(ids) == 0 {
		return nil
	}

	contexts, err := e.st.ContextsByMemoryIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading neighbor contexts: %w", err)
	}
	tags, err := e.st.TagsByMemoryIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading neighbor tags: %w", err)
	}
	people, err := e.st.PeopleByMemoryIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading neighbor people: %w", err)
	}

	if err := e.inferPlace(ctx, memoryID, ids, contexts); err != nil {
		return err
	}
	if err := e.inferPeople(ctx, memoryID, ids, people); err != nil {
		return err
	}
	if err := e.inferTags(ctx, memoryID, ids, tags); err != nil {
		return err
	}
	return nil
}

// inferPlace picks the most frequent neighbor place name (ties break
// first-encountered, in neighbor distance order) and the centroid of all
// coordinate-bearing neighbors.
func (e *Engine) inferPlace(ctx context.Context, memoryID int64, ids []int64, contexts map[int64]*store.MemoryContext) error {
	nameCounts := make(map[string]int)
	bestName := ""
	bestCount := 0

	var sumLat, sumLng float64
	coordCount := 0
	qualified := 0

	for _, id := range ids {
		mc, ok := contexts[id]
		if !ok {
			continue
		}
		if mc.PlaceName == "" && mc.Coord == nil {
			continue
		}
		qualified++

		if mc.PlaceName != "" {
			nameCounts[mc.PlaceName]++
			if nameCounts[mc.PlaceName] > bestCount {
				bestCount = nameCounts[mc.PlaceName]
				bestName = mc.PlaceName
			}
		}
		if mc.Coord != nil {
			sumLat += mc.Coord.Lat
			sumLng += mc.Coord.Lng
			coordCount++
		}
	}

	if qualified < 1 {
		return nil
	}

	inferred := &store.MemoryContext{MemoryID: memoryID, PlaceName: bestName}
	if coordCount > 0 {
		inferred.Coord = &store.GeoPoint{
			Lat: sumLat / float64(coordCount),
			Lng: sumLng / float64(coordCount),
		}
	}
	if inferred.PlaceName == "" && inferred.Coord == nil {
		return nil
	}

	if err := e.st.UpsertInferredContext(ctx, inferred); err != nil {
		return fmt.Errorf("writing inferred place: %w", err)
	}
	return nil
}

func (e *Engine) inferPeople(ctx context.Context, memoryID int64, ids []int64, people map[int64][]*store.MemoryPerson) error {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, id := range ids {
		for _, p := range people[id] {
			name := strings.TrimSpace(p.Name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if _, ok := display[key]; !ok {
				display[key] = name
			}
			counts[key]++
		}
	}

	for _, key := range topKeys(counts, maxPeople) {
		if err := e.st.AddInferredPerson(ctx, memoryID, display[key], voteConfidence(counts[key])); err != nil {
			return fmt.Errorf("writing inferred person: %w", err)
		}
	}
	return nil
}

func (e *Engine) inferTags(ctx context.Context, memoryID int64, ids []int64, tags map[int64][]*store.MemoryTag) error {
	counts := make(map[string]int)
	for _, id := range ids {
		for _, t := range tags[id] {
			tag := strings.ToLower(strings.TrimSpace(t.Tag))
			if tag == "" {
				continue
			}
			counts[tag]++
		}
	}

	for _, tag := range topKeys(counts, maxTags) {
		if err := e.st.AddInferredTag(ctx, memoryID, tag, voteConfidence(counts[tag])); err != nil {
			return fmt.Errorf("writing inferred tag: %w", err)
		}
	}
	return nil
}

// voteConfidence maps a neighbor vote count to an annotation confidence.
func voteConfidence(count int) float64 {
	c := 0.5 + float64(count)/float64(neighborFetch)*0.5
	if c > maxConfidence {
		c = maxConfidence
	}
	return c
}

// topKeys returns the keys with count >= minOccurrences, ordered by count
// descending (alphabetical on ties, for stable output), capped at limit.
func topKeys(counts map[string]int, limit int) []string {
	keys := make([]string, 0, len(counts))
	for k, c := range counts {
		if c >= minOccurrences {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
