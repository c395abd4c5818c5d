// Package synth turns a memory cluster into an event title, summary, and
// confidence. It wraps a text-generation provider and degrades to a
// deterministic fallback on any failure, so synthesis never propagates
// errors into event formation.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/memoirhq/memoir/internal/llm"
)

// fallbackConfidence marks non-semantic fallback output. Explicitly low.
const fallbackConfidence = 0.3

// defaultConfidence is used when the model's self-report is unparseable.
const defaultConfidence = 0.5

const systemPrompt = `You summarize small clusters of personal memories into one event.
Respond with JSON only: {"title": "...", "summary": "...", "confidence": 0.0}
Rules:
- The title is 2-6 words and concrete. Never generic like "Event 3".
- The summary is one paragraph, first-person past tense.
- Never invent facts absent from the supplied memories.
- If a prior title and summary are supplied, keep them stable unless the new memories materially change the picture.
- confidence is your 0-1 estimate of how coherent these memories are as one event.`

// Memory is the slice of a memory the synthesizer sees.
type Memory struct {
	CapturedAt time.Time
	PlaceName  string
	Text       string
}

// Input is an ordered memory cluster plus optional prior synthesis output.
type Input struct {
	Memories     []Memory
	PriorTitle   string
	PriorSummary string
}

// Result is a synthesized title/summary/confidence triple. Fallback reports
// whether the deterministic path produced it.
type Result struct {
	Title      string
	Summary    string
	Confidence float64
	Fallback   bool
}

// Adapter calls a text-generation provider with bounded retries.
type Adapter struct {
	provider   llm.Provider
	maxRetries int
}

// NewAdapter creates a synthesis adapter. A nil provider always falls back.
func NewAdapter(provider llm.Provider) *Adapter {
	return &Adapter{provider: provider, maxRetries: 2}
}

// Synthesize produces a title/summary/confidence for the cluster. It never
// returns an error: generation failures beyond retry yield the deterministic
// fallback of Fallback().
func (a *Adapter) Synthesize(ctx context.Context, in Input) Result {
	if a.provider == nil || len(in.Memories) == 0 {
		return Fallback(in.Memories)
	}

	prompt := buildPrompt(in)

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		raw, err := a.provider.Complete(ctx, prompt, llm.CompletionOpts{
			System:      systemPrompt,
			Format:      "json",
			Temperature: 0.3,
			MaxTokens:   512,
		})
		if err == nil {
			if res, ok := parseResult(raw); ok {
				return res
			}
			lastErr = fmt.Errorf("unparseable synthesis output")
		} else {
			lastErr = err
		}

		if attempt == a.maxRetries {
			break
		}
		backoff := time.Duration(1<<attempt) * 500 * time.Millisecond
		select {
		case <-ctx.Done():
			return Fallback(in.Memories)
		case <-time.After(backoff):
		}
	}

	log.Printf("synthesis failed after %d attempts, using fallback: %v", a.maxRetries+1, lastErr)
	return Fallback(in.Memories)
}

// buildPrompt renders the cluster as a numbered list with capture times and
// places, plus any prior title/summary hints.
func buildPrompt(in Input) string {
	var b strings.Builder
	if in.PriorTitle != "" || in.PriorSummary != "" {
		fmt.Fprintf(&b, "Prior title: %s\nPrior summary: %s\n\n", in.PriorTitle, in.PriorSummary)
	}
	fmt.Fprintf(&b, "Memories (%d):\n", len(in.Memories))
	for i, m := range in.Memories {
		fmt.Fprintf(&b, "%d. [%s", i+1, m.CapturedAt.Format("2006-01-02 15:04"))
		if m.PlaceName != "" {
			fmt.Fprintf(&b, " @ %s", m.PlaceName)
		}
		fmt.Fprintf(&b, "] %s\n", strings.TrimSpace(m.Text))
	}
	return b.String()
}

// parseResult extracts {title, summary, confidence} from model output,
// tolerating markdown code fences.
func parseResult(raw string) (Result, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed struct {
		Title      string          `json:"title"`
		Summary    string          `json:"summary"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Result{}, false
	}
	if strings.TrimSpace(parsed.Title) == "" || strings.TrimSpace(parsed.Summary) == "" {
		return Result{}, false
	}

	confidence := defaultConfidence
	if len(parsed.Confidence) > 0 {
		var v float64
		if err := json.Unmarshal(parsed.Confidence, &v); err == nil {
			confidence = v
		}
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Title:      strings.TrimSpace(parsed.Title),
		Summary:    strings.TrimSpace(parsed.Summary),
		Confidence: confidence,
	}, true
}

// Fallback builds a deterministic title/summary with fixed low confidence.
func Fallback(memories []Memory) Result {
	if len(memories) == 0 {
		return Result{
			Title:      "Untitled moment",
			Summary:    "0 memories from this time period.",
			Confidence: fallbackConfidence,
			Fallback:   true,
		}
	}

	earliest := memories[0]
	for _, m := range memories[1:] {
		if m.CapturedAt.Before(earliest.CapturedAt) {
			earliest = m
		}
	}

	title := ""
	if place := mostCommonPlace(memories); place != "" {
		title = fmt.Sprintf("%s at %s", earliest.CapturedAt.Format("3:04 PM"), place)
	} else {
		title = fmt.Sprintf("%s %s", earliest.CapturedAt.Format("Jan 2"), earliest.CapturedAt.Format("3:04 PM"))
	}

	noun := "memories"
	if len(memories) == 1 {
		noun = "memory"
	}

	return Result{
		Title:      title,
		Summary:    fmt.Sprintf("%d %s from this time period.", len(memories), noun),
		Confidence: fallbackConfidence,
		Fallback:   true,
	}
}

// mostCommonPlace picks the most frequent non-empty place name.
// Ties break on first-seen order.
func mostCommonPlace(memories []Memory) string {
	counts := make(map[string]int)
	best := ""
	bestCount := 0
	for _, m := range memories {
		if m.PlaceName == "" {
			continue
		}
		counts[m.PlaceName]++
		if counts[m.PlaceName] > bestCount {
			bestCount = counts[m.PlaceName]
			best = m.PlaceName
		}
	}
	return best
}
