package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"

	"github.com/memoirhq/memoir/internal/formation"
	"github.com/memoirhq/memoir/internal/infer"
	"github.com/memoirhq/memoir/internal/ingest"
	mcpserver "github.com/memoirhq/memoir/internal/mcp"
	"github.com/memoirhq/memoir/internal/resurface"
	"github.com/memoirhq/memoir/internal/search"
	"github.com/memoirhq/memoir/internal/synth"
)

func runSearch(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	query, limit, err := parseQueryArgs(f.rest, "memoir search <query> [--limit N]")
	if err != nil {
		return err
	}

	e, err := openEnv(f, false)
	if err != nil {
		return err
	}
	defer e.close()

	engine := search.NewEngine(e.st, e.embedder)
	results, err := engine.SearchMemories(context.Background(), e.owner, query, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No memories found.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s", i+1, r.Score, r.Memory.CapturedAt.Format("2006-01-02 15:04"))
		if r.Context != nil && r.Context.PlaceName != "" {
			fmt.Printf(" @ %s", r.Context.PlaceName)
		}
		fmt.Println()
		fmt.Printf("   %s\n", truncate(r.Memory.Text, 120))
		if len(r.People) > 0 {
			names := make([]string, len(r.People))
			for j, p := range r.People {
				names[j] = p.Name
			}
			fmt.Printf("   people: %s\n", strings.Join(names, ", "))
		}
		if len(r.Tags) > 0 {
			tags := make([]string, len(r.Tags))
			for j, t := range r.Tags {
				tags[j] = t.Tag
			}
			fmt.Printf("   tags: %s\n", strings.Join(tags, ", "))
		}
	}
	return nil
}

func runEvents(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	var opts search.EventOptions
	var rest []string
	for i := 0; i < len(f.rest); i++ {
		switch f.rest[i] {
		case "--since":
			i++
			if i >= len(f.rest) {
				return fmt.Errorf("--since requires a date")
			}
			t, err := time.Parse("2006-01-02", f.rest[i])
			if err != nil {
				return fmt.Errorf("invalid --since date: %w", err)
			}
			opts.Start = &t
		case "--until":
			i++
			if i >= len(f.rest) {
				return fmt.Errorf("--until requires a date")
			}
			t, err := time.Parse("2006-01-02", f.rest[i])
			if err != nil {
				return fmt.Errorf("invalid --until date: %w", err)
			}
			t = t.Add(24*time.Hour - time.Nanosecond)
			opts.End = &t
		case "--min-confidence":
			i++
			if i >= len(f.rest) {
				return fmt.Errorf("--min-confidence requires a value")
			}
			v, err := strconv.ParseFloat(f.rest[i], 64)
			if err != nil {
				return fmt.Errorf("invalid --min-confidence: %w", err)
			}
			opts.MinConfidence = v
		default:
			rest = append(rest, f.rest[i])
		}
	}

	query, limit, err := parseQueryArgs(rest, "memoir events <query> [--since YYYY-MM-DD] [--until YYYY-MM-DD] [--min-confidence 0.5] [--limit N]")
	if err != nil {
		return err
	}

	e, err := openEnv(f, false)
	if err != nil {
		return err
	}
	defer e.close()

	engine := search.NewEngine(e.st, e.embedder)
	results, err := engine.SearchEvents(context.Background(), e.owner, query, opts, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s", i+1, r.Relevance, r.Event.Title)
		if r.Event.PlaceName != "" {
			fmt.Printf(" @ %s", r.Event.PlaceName)
		}
		fmt.Println()
		fmt.Printf("   %s — %s (%d memories, confidence %.2f)\n",
			r.Event.StartedAt.Format("2006-01-02 15:04"),
			r.Event.EndedAt.Format("15:04"),
			len(r.Memories), r.Event.Confidence)
		fmt.Printf("   %s\n", truncate(r.Event.Summary, 160))
	}
	return nil
}

func runResurface(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	e, err := openEnv(f, false)
	if err != nil {
		return err
	}
	defer e.close()

	sel, err := resurface.NewSelector(e.st).Select(context.Background(), e.owner)
	if err != nil {
		return err
	}
	if sel == nil {
		fmt.Println("Nothing to resurface yet. Capture more memories and come back in a week.")
		return nil
	}

	fmt.Println(sel.Notification)
	fmt.Printf("  (event %d, score %d, %s)\n", sel.Event.ID, sel.Score, sel.Reason)
	return nil
}

func runServe(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	e, err := openEnv(f, true)
	if err != nil {
		return err
	}
	defer e.close()

	worker := formation.NewWorker()
	former := formation.NewFormer(e.st, synth.NewAdapter(e.provider), e.embedder)
	inferEngine := infer.NewEngine(e.st)
	worker.Register(formation.TaskFormEvent, former.OnMemoryReady)
	worker.Register(formation.TaskInferContext, inferEngine.InferForMemory)
	worker.Start()
	defer worker.Stop()

	selector := resurface.NewSelector(e.st)

	// Optional scheduled resurfacing: log one pick on a cron schedule.
	if expr := e.cfg.ResurfaceCron.Value; expr != "" {
		c := cron.New()
		_, err := c.AddFunc(expr, func() {
			sel, err := selector.Select(context.Background(), e.owner)
			if err != nil {
				log.Printf("scheduled resurfacing failed: %v", err)
				return
			}
			if sel != nil {
				log.Printf("resurfacing: %s", sel.Notification)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid resurface cron %q: %w", expr, err)
		}
		c.Start()
		defer c.Stop()
	}

	s := mcpserver.NewServer(mcpserver.ServerConfig{
		Store:     e.st,
		Search:    search.NewEngine(e.st, e.embedder),
		Ingestor:  ingest.NewIngestor(e.st, e.embedder, worker),
		Resurface: selector,
		OwnerID:   e.owner,
		Version:   version,
	})

	return server.ServeStdio(s)
}

func parseQueryArgs(rest []string, usage string) (string, int, error) {
	query := ""
	limit := 10
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--limit":
			i++
			if i >= len(rest) {
				return "", 0, fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(rest[i])
			if err != nil || n <= 0 {
				return "", 0, fmt.Errorf("invalid --limit: %s", rest[i])
			}
			limit = n
		default:
			if strings.HasPrefix(rest[i], "-") {
				return "", 0, fmt.Errorf("unknown flag: %s", rest[i])
			}
			if query != "" {
				query += " "
			}
			query += rest[i]
		}
	}
	if strings.TrimSpace(query) == "" {
		return "", 0, fmt.Errorf("usage: %s", usage)
	}
	return query, limit, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
