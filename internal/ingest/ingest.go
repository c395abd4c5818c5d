// Package ingest runs the capture pipeline: persist a memory, embed its
// text, mark it completed, and enqueue event formation and context
// inference. Formation and inference are queued only after the memory and
// its embedding are committed.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memoirhq/memoir/internal/embed"
	"github.com/memoirhq/memoir/internal/formation"
	"github.com/memoirhq/memoir/internal/store"
)

// Input is one capture to ingest.
type Input struct {
	OwnerID    string
	CapturedAt time.Time
	Source     string
	MediaKind  string
	Text       string
	PlaceName  string
	Coord      *store.GeoPoint
}

// Ingestor persists captures and kicks off downstream processing.
type Ingestor struct {
	st       store.Store
	embedder embed.Embedder
	worker   *formation.Worker
}

// NewIngestor creates an ingestor. A nil worker skips downstream enqueueing,
// which is what one-shot CLI invocations that process inline want.
func NewIngestor(st store.Store, embedder embed.Embedder, worker *formation.Worker) *Ingestor {
	return &Ingestor{st: st, embedder: embedder, worker: worker}
}

// Ingest runs the full pipeline for one capture and returns the stored
// memory. The memory ends in the completed state; an embedding failure
// leaves it failed and returns the error.
func (in *Ingestor) Ingest(ctx context.Context, input Input) (*store.Memory, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, fmt.Errorf("capture text cannot be empty")
	}
	if input.CapturedAt.IsZero() {
		input.CapturedAt = time.Now()
	}

	m := &store.Memory{
		OwnerID:    input.OwnerID,
		CapturedAt: input.CapturedAt,
		Source:     input.Source,
		MediaKind:  input.MediaKind,
		Text:       input.Text,
		State:      store.StateProcessing,
	}
	if _, err := in.st.CreateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("creating memory: %w", err)
	}

	if input.PlaceName != "" || input.Coord != nil {
		mc := &store.MemoryContext{
			MemoryID:  m.ID,
			PlaceName: input.PlaceName,
			Coord:     input.Coord,
		}
		if err := in.st.ConfirmContext(ctx, mc); err != nil {
			return nil, fmt.Errorf("storing capture context: %w", err)
		}
	}

	vec, err := in.embedder.Embed(ctx, input.Text)
	if err != nil {
		if stateErr := in.st.SetMemoryState(ctx, m.ID, store.StateFailed); stateErr != nil {
			return nil, fmt.Errorf("marking memory failed after embed error %v: %w", err, stateErr)
		}
		return nil, fmt.Errorf("embedding memory text: %w", err)
	}
	if err := in.st.UpsertEmbedding(ctx, store.EmbedKindMemory, m.ID, vec, in.embedder.Model()); err != nil {
		return nil, fmt.Errorf("storing memory embedding: %w", err)
	}

	if err := in.st.SetMemoryState(ctx, m.ID, store.StateCompleted); err != nil {
		return nil, fmt.Errorf("completing memory: %w", err)
	}
	m.State = store.StateCompleted

	if in.worker != nil {
		in.worker.Enqueue(formation.TaskFormEvent, m.ID)
		in.worker.Enqueue(formation.TaskInferContext, m.ID)
	}

	return m, nil
}
