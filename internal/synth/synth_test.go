package synth

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/memoirhq/memoir/internal/llm"
)

// fakeProvider returns canned responses or errors in sequence.
type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", fmt.Errorf("no more responses")
}

func (f *fakeProvider) Name() string { return "fake" }

var cap1 = time.Date(2026, 5, 1, 15, 4, 0, 0, time.UTC)

func TestSynthesizeParsesJSON(t *testing.T) {
	p := &fakeProvider{responses: []string{
		`{"title": "Picnic at Dolores", "summary": "We had a picnic.", "confidence": 0.85}`,
	}}
	a := NewAdapter(p)

	res := a.Synthesize(context.Background(), Input{Memories: []Memory{
		{CapturedAt: cap1, PlaceName: "Dolores Park", Text: "picnic with friends"},
	}})

	if res.Fallback {
		t.Fatal("unexpected fallback")
	}
	if res.Title != "Picnic at Dolores" || res.Confidence != 0.85 {
		t.Errorf("result = %+v", res)
	}
}

func TestSynthesizeToleratesCodeFences(t *testing.T) {
	p := &fakeProvider{responses: []string{
		"```json\n{\"title\": \"T\", \"summary\": \"S\", \"confidence\": 0.6}\n```",
	}}
	res := NewAdapter(p).Synthesize(context.Background(), Input{Memories: []Memory{{CapturedAt: cap1, Text: "x"}}})
	if res.Fallback || res.Title != "T" {
		t.Errorf("result = %+v", res)
	}
}

func TestSynthesizeRetriesThenFallsBack(t *testing.T) {
	p := &fakeProvider{errs: []error{
		fmt.Errorf("boom"), fmt.Errorf("boom"), fmt.Errorf("boom"),
	}}
	res := NewAdapter(p).Synthesize(context.Background(), Input{Memories: []Memory{
		{CapturedAt: cap1, PlaceName: "Dolores Park", Text: "x"},
	}})

	if !res.Fallback {
		t.Fatal("expected fallback after exhausted retries")
	}
	if res.Confidence != 0.3 {
		t.Errorf("fallback confidence = %f, want 0.3", res.Confidence)
	}
	if p.calls != 3 {
		t.Errorf("provider called %d times, want 3 (initial + 2 retries)", p.calls)
	}
}

func TestSynthesizeMissingConfidenceDefaults(t *testing.T) {
	p := &fakeProvider{responses: []string{`{"title": "T", "summary": "S"}`}}
	res := NewAdapter(p).Synthesize(context.Background(), Input{Memories: []Memory{{CapturedAt: cap1, Text: "x"}}})
	if res.Confidence != 0.5 {
		t.Errorf("confidence = %f, want default 0.5", res.Confidence)
	}
}

func TestSynthesizeNilProviderFallsBack(t *testing.T) {
	res := NewAdapter(nil).Synthesize(context.Background(), Input{Memories: []Memory{{CapturedAt: cap1, Text: "x"}}})
	if !res.Fallback {
		t.Error("nil provider should fall back")
	}
}

func TestSynthesizePromptCarriesPriorHints(t *testing.T) {
	p := &fakeProvider{responses: []string{`{"title": "T", "summary": "S", "confidence": 0.5}`}}
	NewAdapter(p).Synthesize(context.Background(), Input{
		Memories:     []Memory{{CapturedAt: cap1, Text: "x"}},
		PriorTitle:   "Old Title",
		PriorSummary: "Old summary.",
	})
	if len(p.prompts) == 0 || !strings.Contains(p.prompts[0], "Old Title") {
		t.Error("prior title missing from prompt")
	}
}

func TestFallback(t *testing.T) {
	t.Run("with place", func(t *testing.T) {
		res := Fallback([]Memory{
			{CapturedAt: cap1.Add(time.Hour), PlaceName: "Dolores Park", Text: "a"},
			{CapturedAt: cap1, PlaceName: "Dolores Park", Text: "b"},
			{CapturedAt: cap1.Add(2 * time.Hour), PlaceName: "Mission", Text: "c"},
		})
		if res.Title != "3:04 PM at Dolores Park" {
			t.Errorf("title = %q", res.Title)
		}
		if res.Summary != "3 memories from this time period." {
			t.Errorf("summary = %q", res.Summary)
		}
	})

	t.Run("without place", func(t *testing.T) {
		res := Fallback([]Memory{{CapturedAt: cap1, Text: "a"}})
		if res.Title != "May 1 3:04 PM" {
			t.Errorf("title = %q", res.Title)
		}
		if res.Summary != "1 memory from this time period." {
			t.Errorf("summary = %q", res.Summary)
		}
	})
}
