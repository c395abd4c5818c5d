// Package formation decides, for each newly-completed memory, whether to
// attach it to an existing event or synthesize a new one, and owns the
// incremental re-synthesis policy.
package formation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/memoirhq/memoir/internal/cluster"
	"github.com/memoirhq/memoir/internal/embed"
	"github.com/memoirhq/memoir/internal/store"
	"github.com/memoirhq/memoir/internal/synth"
)

// DefaultPoolSize bounds the clustering candidate pool (the owner's most
// recent completed memories with context attached).
const DefaultPoolSize = 50

// Re-synthesis policy thresholds.
const (
	stableEventSize     = 5         // events this large resist small additions
	smallAdditionMax    = 2         // "small" addition cutoff
	resynthesisCooldown = time.Hour // rate limit on churn
	growthThreshold     = 0.2       // >20% growth triggers an update
)

// Former orchestrates event formation for new memories.
type Former struct {
	st       store.Store
	synth    *synth.Adapter
	embedder embed.Embedder
	poolSize int
	now      func() time.Time

	// Per-owner serialization: two concurrent memories in the same
	// cluster must not both create duplicate events.
	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewFormer creates an event formation orchestrator.
func NewFormer(st store.Store, adapter *synth.Adapter, embedder embed.Embedder) *Former {
	return &Former{
		st:       st,
		synth:    adapter,
		embedder: embedder,
		poolSize: DefaultPoolSize,
		now:      time.Now,
		owners:   make(map[string]*sync.Mutex),
	}
}

// OnMemoryReady runs one formation pass for a completed memory. The pass is
// idempotent: re-running it against the same memory creates no duplicate
// events or links. Memories that are not completed are skipped.
func (f *Former) OnMemoryReady(ctx context.Context, memoryID int64) error {
	m, err := f.st.GetMemory(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("loading memory %d: %w", memoryID, err)
	}
	if m == nil {
		return fmt.Errorf("memory %d: %w", memoryID, store.ErrNotFound)
	}
	if m.State != store.StateCompleted {
		return nil
	}

	lock := f.ownerLock(m.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := f.st.RecentWithContext(ctx, m.OwnerID, f.poolSize)
	if err != nil {
		return fmt.Errorf("loading candidate pool: %w", err)
	}

	mc, err := f.st.GetContext(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("loading context for memory %d: %w", memoryID, err)
	}

	target := toItem(m, mc)
	candidates := make([]cluster.Item, 0, len(pool))
	for _, p := range pool {
		candidates = append(candidates, toItem(p.Memory, p.Context))
	}

	nearby := cluster.FindNearby(target, candidates, cluster.DefaultTimeWindow, cluster.DefaultDistanceThreshold)

	// The triggering memory joins the lookup so a retried pass finds the
	// event it already belongs to instead of creating another.
	lookupIDs := make([]int64, 0, len(nearby)+1)
	lookupIDs = append(lookupIDs, m.ID)
	for _, n := range nearby {
		lookupIDs = append(lookupIDs, n.ID)
	}
	eventID, err := f.st.EventIDForMemories(ctx, m.OwnerID, lookupIDs)
	if err != nil {
		return err
	}
	if eventID != 0 {
		return f.attach(ctx, eventID, m)
	}

	return f.create(ctx, m, target, nearby)
}

// attach links the memory to an existing event as supporting, then applies
// the re-synthesis policy. An already-linked memory returns early with no
// new synthesis.
func (f *Former) attach(ctx context.Context, eventID int64, m *store.Memory) error {
	attached, err := f.st.AttachMemoryToEvent(ctx, eventID, m.ID, store.RelationSupporting)
	if err != nil {
		return err
	}
	if !attached {
		return nil
	}

	ev, err := f.st.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev == nil {
		return fmt.Errorf("event %d vanished mid-attach: %w", eventID, store.ErrNotFound)
	}

	linked, err := f.st.LinkCount(ctx, eventID)
	if err != nil {
		return err
	}

	// The policy sees the pre-attach size.
	if !ShouldUpdate(linked-1, 1, f.now().Sub(ev.UpdatedAt)) {
		return nil
	}
	return f.resynthesize(ctx, ev)
}

// create synthesizes a brand-new event from the cluster, linking the
// triggering memory as primary and the rest as supporting. All writes land
// in one transaction.
func (f *Former) create(ctx context.Context, m *store.Memory, target cluster.Item, nearby []cluster.Item) error {
	items := append([]cluster.Item{target}, nearby...)
	analysis := cluster.AnalyzeCluster(items)
	location := cluster.ExtractLocation(items)

	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	memories, err := f.st.MemoriesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	contexts, err := f.st.ContextsByMemoryIDs(ctx, ids)
	if err != nil {
		return err
	}

	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CapturedAt.Before(memories[j].CapturedAt)
	})

	res := f.synth.Synthesize(ctx, synth.Input{Memories: toSynthMemories(memories, contexts)})

	confidence := analysis.Confidence
	if res.Confidence > confidence {
		confidence = res.Confidence
	}

	start, end := timeBounds(memories)

	vec, err := f.embedder.Embed(ctx, res.Title+"\n\n"+res.Summary)
	if err != nil {
		return fmt.Errorf("embedding event text: %w", err)
	}

	ev := &store.Event{
		OwnerID:    m.OwnerID,
		StartedAt:  start,
		EndedAt:    end,
		Title:      res.Title,
		Summary:    res.Summary,
		PlaceName:  location.Name,
		Coord:      location.Coord,
		Confidence: confidence,
	}

	links := make([]store.Link, 0, len(items))
	links = append(links, store.Link{MemoryID: m.ID, Relation: store.RelationPrimary})
	for _, n := range nearby {
		links = append(links, store.Link{MemoryID: n.ID, Relation: store.RelationSupporting})
	}

	if _, err := f.st.CreateEventWithLinks(ctx, ev, links, vec, f.embedder.Model()); err != nil {
		return err
	}
	return nil
}

// resynthesize re-runs synthesis over the event's full current cluster,
// passing the existing title/summary as stability hints, recomputes time
// bounds, and regenerates the event embedding in place.
func (f *Former) resynthesize(ctx context.Context, ev *store.Event) error {
	ids, err := f.st.LinkedMemoryIDs(ctx, ev.ID)
	if err != nil {
		return err
	}
	memories, err := f.st.MemoriesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(memories) == 0 {
		return nil
	}
	contexts, err := f.st.ContextsByMemoryIDs(ctx, ids)
	if err != nil {
		return err
	}

	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CapturedAt.Before(memories[j].CapturedAt)
	})

	res := f.synth.Synthesize(ctx, synth.Input{
		Memories:     toSynthMemories(memories, contexts),
		PriorTitle:   ev.Title,
		PriorSummary: ev.Summary,
	})

	items := make([]cluster.Item, len(memories))
	for i, m := range memories {
		items[i] = toItem(m, contexts[m.ID])
	}
	analysis := cluster.AnalyzeCluster(items)

	confidence := analysis.Confidence
	if res.Confidence > confidence {
		confidence = res.Confidence
	}

	ev.StartedAt, ev.EndedAt = timeBounds(memories)
	ev.Title = res.Title
	ev.Summary = res.Summary
	ev.Confidence = confidence

	vec, err := f.embedder.Embed(ctx, res.Title+"\n\n"+res.Summary)
	if err != nil {
		return fmt.Errorf("embedding event text: %w", err)
	}

	return f.st.ResynthesizeEvent(ctx, ev, vec, f.embedder.Model())
}

// ShouldUpdate decides whether an event with linkedCount memories that just
// gained added memories, last updated sinceUpdate ago, deserves re-synthesis.
// Large, stable events resist noise from small additions; updates are
// rate-limited; otherwise update on >20% growth.
func ShouldUpdate(linkedCount, added int, sinceUpdate time.Duration) bool {
	if linkedCount <= 0 {
		return false
	}
	if linkedCount >= stableEventSize && added <= smallAdditionMax {
		return false
	}
	if sinceUpdate < resynthesisCooldown {
		return false
	}
	return float64(added)/float64(linkedCount) > growthThreshold
}

func (f *Former) ownerLock(ownerID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.owners[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		f.owners[ownerID] = lock
	}
	return lock
}

func toItem(m *store.Memory, mc *store.MemoryContext) cluster.Item {
	it := cluster.Item{ID: m.ID, CapturedAt: m.CapturedAt}
	if mc != nil {
		it.PlaceName = mc.PlaceName
		it.Coord = mc.Coord
	}
	return it
}

func toSynthMemories(memories []*store.Memory, contexts map[int64]*store.MemoryContext) []synth.Memory {
	out := make([]synth.Memory, 0, len(memories))
	for _, m := range memories {
		sm := synth.Memory{CapturedAt: m.CapturedAt, Text: m.Text}
		if mc := contexts[m.ID]; mc != nil {
			sm.PlaceName = mc.PlaceName
		}
		out = append(out, sm)
	}
	return out
}

func timeBounds(memories []*store.Memory) (time.Time, time.Time) {
	start := memories[0].CapturedAt
	end := memories[0].CapturedAt
	for _, m := range memories[1:] {
		if m.CapturedAt.Before(start) {
			start = m.CapturedAt
		}
		if m.CapturedAt.After(end) {
			end = m.CapturedAt
		}
	}
	return start, end
}
