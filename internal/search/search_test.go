package search

import (
	"context"
	"testing"
	"time"

	"github.com/memoirhq/memoir/internal/store"
)

// fakeEmbedder maps known phrases to fixed vectors so similarity is
// controllable from the test.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string   { return "test/fake" }
func (f *fakeEmbedder) Dimensions() int { return 3 }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addMemory(t *testing.T, s *store.SQLiteStore, owner, text string, at time.Time, vec []float32) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateMemory(ctx, &store.Memory{
		OwnerID:    owner,
		CapturedAt: at,
		Text:       text,
		State:      store.StateCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEmbedding(ctx, store.EmbedKindMemory, id, vec, "test/fake"); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSearchMemoriesRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Both old enough that the temporal signal is zero for each.
	far := now.AddDate(0, -6, 0)
	match := addMemory(t, s, "alice", "espresso at the roastery", far, []float32{1, 0, 0})
	miss := addMemory(t, s, "alice", "evening run", far, []float32{0, 1, 0})

	e := NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{
		"coffee": {1, 0, 0},
	}})

	results, err := e.SearchMemories(ctx, "alice", "coffee", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2", len(results))
	}
	if results[0].Memory.ID != match {
		t.Errorf("top result = %d, want the similar memory %d", results[0].Memory.ID, match)
	}
	if results[0].Score <= results[1].Score {
		t.Error("similar memory did not outscore the dissimilar one")
	}
	_ = miss
}

func TestSearchMemoriesAnnotationsBoost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	far := time.Now().UTC().AddDate(0, -6, 0)

	plain := addMemory(t, s, "alice", "coffee", far, []float32{1, 0, 0})
	rich := addMemory(t, s, "alice", "coffee again", far, []float32{1, 0, 0})
	if err := s.ConfirmContext(ctx, &store.MemoryContext{MemoryID: rich, PlaceName: "Ritual"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPerson(ctx, rich, "Sam"); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{"coffee": {1, 0, 0}}})
	results, err := e.SearchMemories(ctx, "alice", "coffee", 10)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Memory.ID != rich {
		t.Errorf("annotated memory should rank first, got %d", results[0].Memory.ID)
	}
	if results[0].Breakdown.Place == 0 || results[0].Breakdown.People == 0 {
		t.Errorf("breakdown missing annotation terms: %+v", results[0].Breakdown)
	}
	_ = plain
}

func TestSearchMemoriesOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	far := time.Now().UTC().AddDate(0, -6, 0)
	addMemory(t, s, "bob", "bob's coffee", far, []float32{1, 0, 0})

	e := NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{"coffee": {1, 0, 0}}})
	results, err := e.SearchMemories(context.Background(), "alice", "coffee", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("alice saw %d of bob's memories", len(results))
	}
}

func addEvent(t *testing.T, s *store.SQLiteStore, owner, title string, startedAt time.Time, confidence float64, vec []float32) int64 {
	t.Helper()
	ctx := context.Background()
	m := addMemory(t, s, owner, title, startedAt, vec)
	ev := &store.Event{
		OwnerID:    owner,
		StartedAt:  startedAt,
		EndedAt:    startedAt.Add(time.Hour),
		Title:      title,
		Summary:    title,
		Confidence: confidence,
	}
	id, err := s.CreateEventWithLinks(ctx, ev, []store.Link{{MemoryID: m, Relation: store.RelationPrimary}}, vec, "test/fake")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSearchEventsFirstIntentOrdersOldestFirst(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	oldest := addEvent(t, s, "alice", "hike one", now.AddDate(-2, 0, 0), 0.8, []float32{1, 0, 0})
	addEvent(t, s, "alice", "hike two", now.AddDate(0, -1, 0), 0.8, []float32{1, 0, 0})

	e := NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{
		"first time I went hiking": {1, 0, 0},
	}})
	results, err := e.SearchEvents(context.Background(), "alice", "first time I went hiking", EventOptions{}, 10)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2", len(results))
	}
	if results[0].Event.ID != oldest {
		t.Errorf("first intent should lead with the oldest event, got %d", results[0].Event.ID)
	}
	if len(results[0].Memories) != 1 {
		t.Errorf("member memories not attached: %d", len(results[0].Memories))
	}
}

func TestSearchEventsConfidenceFilter(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	addEvent(t, s, "alice", "shaky cluster", now.AddDate(0, -1, 0), 0.3, []float32{1, 0, 0})
	solid := addEvent(t, s, "alice", "solid cluster", now.AddDate(0, -1, 0), 0.9, []float32{1, 0, 0})

	e := NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{"cluster": {1, 0, 0}}})
	results, err := e.SearchEvents(context.Background(), "alice", "cluster", EventOptions{MinConfidence: 0.5}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Event.ID != solid {
		t.Errorf("confidence filter failed: %+v", results)
	}
}

func TestSearchEventsIntentRangeNarrows(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	addEvent(t, s, "alice", "old dinner", now.AddDate(0, -3, 0), 0.8, []float32{1, 0, 0})
	recent := addEvent(t, s, "alice", "recent dinner", now.AddDate(0, 0, -3), 0.8, []float32{1, 0, 0})

	e := NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{
		"dinner last week": {1, 0, 0},
	}})
	results, err := e.SearchEvents(context.Background(), "alice", "dinner last week", EventOptions{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Event.ID != recent {
		t.Errorf("temporal range did not narrow results: got %d results", len(results))
	}
}
