// Command ragcore is the CLI for the retrieval engine.
//
// Usage:
//
//	ragcore index --config config.yaml --text "Graphic violence throughout" --id scene-12
//	ragcore search --config config.yaml --strategy hybrid "strong language"
//	ragcore delete --config config.yaml --document-id script-7
//	ragcore health --config config.yaml
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/scriptrate/ragcore/pkg/config"
	"github.com/scriptrate/ragcore/pkg/logger"
	"github.com/scriptrate/ragcore/pkg/observability"
	"github.com/scriptrate/ragcore/pkg/rag"
	"github.com/scriptrate/ragcore/pkg/router"
	"github.com/scriptrate/ragcore/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Index   IndexCmd   `cmd:"" help:"Index documents from flags or stdin."`
	Search  SearchCmd  `cmd:"" help:"Search the knowledge base."`
	Delete  DeleteCmd  `cmd:"" help:"Delete documents by id or document id."`
	Health  HealthCmd  `cmd:"" help:"Check component health."`
	Metrics MetricsCmd `cmd:"" help:"Show router metrics for a single process run."`

	Config string `short:"c" help:"Path to config file." type:"path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ragcore version %s\n", version)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ragcore"),
		kong.Description("ragcore - retrieval engine for script content rating"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// loadConfig reads the config file, or falls back to the zero-config
// default (mock embeddings, embedded vector store).
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildEngine wires logging, tracing, and the engine from the config.
func buildEngine(ctx context.Context, path string) (*rag.Engine, func(), error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, nil, err
	}

	tracer, err := observability.NewTracer(ctx, &cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}

	eng, err := rag.New(ctx, cfg, rag.Options{Tracer: tracer})
	if err != nil {
		return nil, nil, err
	}
	return eng, func() { _ = eng.Close() }, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// IndexCmd indexes documents.
type IndexCmd struct {
	Text       string `help:"Document text. Omit to read one document per line from stdin."`
	ID         string `help:"Record id (defaults to a generated UUID)."`
	DocumentID string `name:"document-id" help:"Source document id shared across chunks."`
	Source     string `help:"Value stored under the 'source' payload key."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, cleanup, err := buildEngine(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	var payload map[string]any
	if c.Source != "" {
		payload = map[string]any{"source": c.Source}
	}

	if c.Text != "" {
		doc := rag.Document{ID: c.ID, DocumentID: c.DocumentID, Text: c.Text, Payload: payload}
		id, err := eng.IndexDocument(ctx, doc)
		if err != nil {
			return err
		}
		fmt.Printf("indexed 1 document (%s)\n", id)
		return nil
	}

	var docs []rag.Document
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		docs = append(docs, rag.Document{DocumentID: c.DocumentID, Text: line, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("nothing to index: provide --text or pipe documents on stdin")
	}

	ids, err := eng.IndexBatch(ctx, docs)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d documents\n", len(ids))
	return nil
}

// SearchCmd queries the knowledge base.
type SearchCmd struct {
	Query    string  `arg:"" help:"Query text."`
	TopK     int     `name:"top-k" short:"k" help:"Number of results." default:"10"`
	Strategy string  `help:"Routing strategy (auto, vector, lexical, hybrid)." default:"auto"`
	Filter   string  `help:"Payload filter as k=v pairs, comma separated (e.g. rating=R,source=s.txt)."`
	JSON     bool    `help:"Emit results as JSON."`
	Thresh   float32 `name:"threshold" help:"Minimum vector score." default:"0"`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, cleanup, err := buildEngine(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	strategy, err := router.ParseStrategy(c.Strategy)
	if err != nil {
		return err
	}
	filter, err := parseFilter(c.Filter)
	if err != nil {
		return err
	}

	resp, err := eng.Search(ctx, c.Query, rag.SearchOptions{
		TopK:      c.TopK,
		Strategy:  strategy,
		Filter:    filter,
		Threshold: c.Thresh,
	})
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Degraded {
		fmt.Println("warning: degraded response")
	}
	fmt.Printf("strategy=%s results=%d\n", resp.Strategy, len(resp.Results))
	for i, res := range resp.Results {
		text, _ := res.Payload["text"].(string)
		fmt.Printf("%2d. %-36s %.4f [%s] %s\n", i+1, res.ID, res.Score, res.Source, text)
	}
	return nil
}

// DeleteCmd removes documents.
type DeleteCmd struct {
	IDs        []string `help:"Record ids to delete."`
	DocumentID string   `name:"document-id" help:"Delete every chunk of this source document."`
}

func (c *DeleteCmd) Run(cli *CLI) error {
	if len(c.IDs) == 0 && c.DocumentID == "" {
		return fmt.Errorf("provide --ids or --document-id")
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng, cleanup, err := buildEngine(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(c.IDs) > 0 {
		if err := eng.DeleteDocuments(ctx, c.IDs); err != nil {
			return err
		}
		fmt.Printf("deleted %d records\n", len(c.IDs))
	}
	if c.DocumentID != "" {
		removed, err := eng.DeleteByDocumentID(ctx, c.DocumentID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d records of document %s\n", removed, c.DocumentID)
	}
	return nil
}

// HealthCmd reports component status.
type HealthCmd struct{}

func (c *HealthCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, cleanup, err := buildEngine(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	h := eng.Health(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return err
	}
	if h.Status == "unhealthy" {
		os.Exit(1)
	}
	return nil
}

// MetricsCmd prints router counters.
type MetricsCmd struct{}

func (c *MetricsCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, cleanup, err := buildEngine(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(eng.Metrics(ctx))
}

// parseFilter turns "k=v,k2=v2" into a payload filter.
func parseFilter(s string) (vector.Filter, error) {
	if s == "" {
		return nil, nil
	}
	filter := make(vector.Filter)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected k=v", pair)
		}
		filter[key] = value
	}
	return filter, nil
}
