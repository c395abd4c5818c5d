package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/memoirhq/memoir/internal/config"
	"github.com/memoirhq/memoir/internal/embed"
	"github.com/memoirhq/memoir/internal/formation"
	"github.com/memoirhq/memoir/internal/infer"
	"github.com/memoirhq/memoir/internal/ingest"
	"github.com/memoirhq/memoir/internal/llm"
	"github.com/memoirhq/memoir/internal/store"
	"github.com/memoirhq/memoir/internal/synth"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(os.Args[2:])
	case "search":
		err = runSearch(os.Args[2:])
	case "events":
		err = runEvents(os.Args[2:])
	case "resurface":
		err = runResurface(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("memoir %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are the flags shared by every command that touches the store.
type commonFlags struct {
	db    string
	owner string
	llm   string
	embed string
	rest  []string
}

func parseCommon(args []string) (commonFlags, error) {
	var f commonFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--db", "--owner", "--llm", "--embed":
			if i+1 >= len(args) {
				return f, fmt.Errorf("%s requires a value", arg)
			}
			i++
			switch arg {
			case "--db":
				f.db = args[i]
			case "--owner":
				f.owner = args[i]
			case "--llm":
				f.llm = args[i]
			case "--embed":
				f.embed = args[i]
			}
		default:
			f.rest = append(f.rest, arg)
		}
	}
	return f, nil
}

// env is the opened set of components behind a command.
type env struct {
	cfg      config.ResolvedConfig
	st       *store.SQLiteStore
	embedder embed.Embedder
	provider llm.Provider
	owner    string
}

func openEnv(f commonFlags, needLLM bool) (*env, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		CLILLM:    f.llm,
		CLIEmbed:  f.embed,
		CLIDBPath: f.db,
		CLIOwner:  f.owner,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedFlag := cfg.EmbedProvider.Value
	if embedFlag == "" {
		embedFlag = "ollama/nomic-embed-text"
	}
	embedCfg, err := embed.ParseEmbedFlag(embedFlag)
	if err != nil {
		st.Close()
		return nil, err
	}
	if cfg.EmbedEndpoint.Value != "" {
		embedCfg.Endpoint = cfg.EmbedEndpoint.Value
	}
	if cfg.EmbedAPIKey.Value != "" {
		embedCfg.APIKey = cfg.EmbedAPIKey.Value
	}
	embedder, err := embed.NewClient(embedCfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	e := &env{cfg: cfg, st: st, embedder: embedder, owner: cfg.Owner.Value}

	if needLLM {
		llmFlag := cfg.LLMProvider.Value
		if llmFlag != "" {
			llmCfg, err := llm.ParseLLMFlag(llmFlag)
			if err != nil {
				st.Close()
				return nil, err
			}
			if key := cfg.APIKeyForProvider(llmFlag); key.Value != "" {
				llmCfg.APIKey = key.Value
			}
			provider, err := llm.NewProvider(llmCfg)
			if err != nil {
				st.Close()
				return nil, err
			}
			e.provider = provider
		}
		// A missing LLM is not fatal: synthesis degrades to its
		// deterministic fallback.
	}

	return e, nil
}

func (e *env) close() {
	e.st.Close()
}

func runIngest(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	var text, place, capturedAt, media string
	var lat, lng float64
	var hasCoord bool
	rest := f.rest
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--place":
			i++
			if i >= len(rest) {
				return fmt.Errorf("--place requires a value")
			}
			place = rest[i]
		case "--at":
			i++
			if i >= len(rest) {
				return fmt.Errorf("--at requires a value")
			}
			capturedAt = rest[i]
		case "--media":
			i++
			if i >= len(rest) {
				return fmt.Errorf("--media requires a value")
			}
			media = rest[i]
		case "--coord":
			i++
			if i >= len(rest) {
				return fmt.Errorf("--coord requires lat,lng")
			}
			parts := strings.SplitN(rest[i], ",", 2)
			if len(parts) != 2 {
				return fmt.Errorf("--coord expects lat,lng")
			}
			lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			if err != nil {
				return fmt.Errorf("invalid latitude: %w", err)
			}
			lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err != nil {
				return fmt.Errorf("invalid longitude: %w", err)
			}
			hasCoord = true
		default:
			if strings.HasPrefix(rest[i], "-") {
				return fmt.Errorf("unknown flag: %s", rest[i])
			}
			if text != "" {
				text += " "
			}
			text += rest[i]
		}
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: memoir ingest <text> [--place <name>] [--coord lat,lng] [--at <rfc3339>] [--media photo|audio]")
	}

	e, err := openEnv(f, true)
	if err != nil {
		return err
	}
	defer e.close()

	input := ingest.Input{
		OwnerID:   e.owner,
		Text:      text,
		Source:    store.SourceUpload,
		MediaKind: media,
		PlaceName: place,
	}
	if hasCoord {
		input.Coord = &store.GeoPoint{Lat: lat, Lng: lng}
	}
	if capturedAt != "" {
		t, err := time.Parse(time.RFC3339, capturedAt)
		if err != nil {
			return fmt.Errorf("invalid --at time: %w", err)
		}
		input.CapturedAt = t
	}

	ctx := context.Background()
	ingestor := ingest.NewIngestor(e.st, e.embedder, nil)
	m, err := ingestor.Ingest(ctx, input)
	if err != nil {
		return err
	}

	// One-shot CLI runs process inline instead of queueing.
	former := formation.NewFormer(e.st, synth.NewAdapter(e.provider), e.embedder)
	if err := former.OnMemoryReady(ctx, m.ID); err != nil {
		return fmt.Errorf("forming event: %w", err)
	}
	engine := infer.NewEngine(e.st)
	if err := engine.InferForMemory(ctx, m.ID); err != nil {
		return fmt.Errorf("inferring context: %w", err)
	}

	fmt.Printf("Captured memory %d (%s)\n", m.ID, m.CapturedAt.Format("2006-01-02 15:04"))
	return nil
}

func runStats(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	e, err := openEnv(f, false)
	if err != nil {
		return err
	}
	defer e.close()

	stats, err := e.st.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Memories:   %d\n", stats.MemoryCount)
	fmt.Printf("Events:     %d\n", stats.EventCount)
	fmt.Printf("Links:      %d\n", stats.LinkCount)
	fmt.Printf("Embeddings: %d\n", stats.EmbeddingCount)
	if stats.DBSizeBytes > 0 {
		fmt.Printf("DB size:    %.1f KB\n", float64(stats.DBSizeBytes)/1024)
	}
	return nil
}

func runConfig(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		CLILLM:    f.llm,
		CLIEmbed:  f.embed,
		CLIDBPath: f.db,
		CLIOwner:  f.owner,
	})
	if err != nil {
		return err
	}

	// Keys are redacted; only their sources are shown.
	redacted := cfg
	if redacted.EmbedAPIKey.Value != "" {
		redacted.EmbedAPIKey.Value = "********"
	}
	redactedKeys := map[string]config.ResolvedValue{}
	for k, v := range redacted.LLMKeys {
		v.Value = "********"
		redactedKeys[k] = v
	}
	redacted.LLMKeys = redactedKeys

	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printUsage() {
	fmt.Printf(`memoir %s — Personal memory graph: capture, cluster, recall

Usage:
  memoir <command> [arguments]

Commands:
  ingest <text>       Capture a memory (embeds, clusters, infers context)
  search <query>      Search memories with hybrid ranking
  events <query>      Search synthesized events
  resurface           Pick one past event worth revisiting today
  stats               Show store statistics
  serve               Run the MCP server on stdio (with scheduled resurfacing)
  config              Show resolved configuration and value sources
  version             Print version

Common Flags:
  --db <path>         Database path (default ~/.memoir/memoir.db)
  --owner <id>        Owner scope (default "default")
  --llm <p/model>     Text-generation provider (e.g. openrouter/openai/gpt-4o-mini)
  --embed <p/model>   Embedding provider (e.g. ollama/nomic-embed-text)

Flags:
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
