// Command deepres is a demo CLI driving one deep-research run end to
// end: load config, resolve credentials, build provider clients and the
// tool registry, run the Supervisor, print the final report.
//
// Grounded on the teacher's cmd/godex/main.go subcommand-dispatch shape,
// narrowed to the single operation this engine exposes (there is no
// proxy/billing/admin surface to carry over — see DESIGN.md's "Dropped
// teacher modules").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jordangeorgiev/open-deep-research/internal/agentloop"
	"github.com/jordangeorgiev/open-deep-research/internal/clock"
	"github.com/jordangeorgiev/open-deep-research/internal/config"
	"github.com/jordangeorgiev/open-deep-research/internal/credstore"
	"github.com/jordangeorgiev/open-deep-research/internal/mcpext"
	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter/anthropicclient"
	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter/openaiclient"
	"github.com/jordangeorgiev/open-deep-research/internal/obslog"
	"github.com/jordangeorgiev/open-deep-research/internal/report"
	"github.com/jordangeorgiev/open-deep-research/internal/search"
	"github.com/jordangeorgiev/open-deep-research/internal/search/searxng"
	"github.com/jordangeorgiev/open-deep-research/internal/search/tavily"
	"github.com/jordangeorgiev/open-deep-research/internal/summarize"
	"github.com/jordangeorgiev/open-deep-research/internal/supervisor"
	"github.com/jordangeorgiev/open-deep-research/internal/textmode"
	"github.com/jordangeorgiev/open-deep-research/internal/toolregistry"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "--version", "version", "-v":
		fmt.Println(version)
		return
	case "research":
		if err := runResearch(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: deepres research --question <text> [--json] [--log-dir <dir>]")
}

func runResearch(args []string) error {
	fs := flag.NewFlagSet("research", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configPath := fs.String("config", config.DefaultPath(), "config file path")
	question := fs.String("question", "", "the research question")
	jsonOutput := fs.Bool("json", false, "print the result as JSON instead of Markdown")
	logDir := fs.String("log-dir", "", "directory for JSONL run logs (disabled if empty)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*question) == "" {
		return fmt.Errorf("--question is required")
	}

	cfg := config.LoadFrom(*configPath)
	creds := credstore.New(cfg.GetAPIKeysFromConfig, cfg.APIKeys)

	logger := obslog.New(obslog.Config{Dir: *logDir, RunID: runID(), RedactPaths: []string{"instructions"}})
	defer logger.Close()

	adapter, err := buildAdapter(cfg, creds)
	if err != nil {
		return err
	}

	registry, err := buildToolRegistry(context.Background(), cfg, creds, adapter)
	if err != nil {
		return err
	}

	newAgent := func() *agentloop.Agent {
		return agentloop.New(adapter, registry, cfg.ResearchModel, agentloop.Budget{
			MaxIterations: cfg.MaxIterations,
			MaxToolCalls:  cfg.MaxToolCalls,
		})
	}
	reportWriter := report.New(adapter, cfg.FinalReportModel)

	sup := supervisor.New(adapter, newAgent, reportWriter, supervisor.Config{
		Model:                 cfg.CompressionModel,
		AllowClarification:    cfg.AllowClarification,
		MaxConcurrentResearch: cfg.MaxConcurrentResearchUnits,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	result, err := sup.Run(ctx, []transcript.Message{{Role: transcript.RoleUser, Content: *question}})
	if err != nil {
		return err
	}
	logger.Emit("research_complete", map[string]any{"brief": result.Brief, "replan_rounds": result.ReplanRounds, "final_report": result.FinalReport})

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.NeedsClarification {
		fmt.Println(result.ClarifyingQuestion)
		return nil
	}
	fmt.Println(result.FinalReport)
	return nil
}

func runID() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

// buildAdapter wires a modeladapter.Adapter with one ModelClient per
// provider prefix this engine is expected to need (openai, anthropic),
// keyed from credstore, plus the TextModeToolProtocol fallback for any
// model prefix without native support.
func buildAdapter(cfg config.RuntimeConfig, creds *credstore.Store) (*modeladapter.Adapter, error) {
	clients := map[string]modeladapter.ModelClient{}

	if key, err := creds.APIKey("OPENAI_API_KEY"); err == nil {
		clients["openai"] = openaiclient.New(openaiclient.Config{APIKey: key})
	}
	if key, err := creds.APIKey("ANTHROPIC_API_KEY"); err == nil {
		clients["anthropic"] = anthropicclient.New(anthropicclient.Config{APIKey: key})
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no provider credentials configured (set OPENAI_API_KEY and/or ANTHROPIC_API_KEY)")
	}

	return modeladapter.New(clients, textmode.New(), modeladapter.Config{
		MaxStructuredOutputRetries: cfg.MaxStructuredOutputRetries,
	}), nil
}

// buildToolRegistry assembles the shared ToolRegistry: the web_search
// callable tool (backed by the configured SearchProvider), the
// ResearchComplete control-flow tool, and any configured MCP extension
// tools.
func buildToolRegistry(ctx context.Context, cfg config.RuntimeConfig, creds *credstore.Store, adapter *modeladapter.Adapter) (*toolregistry.Registry, error) {
	registry := toolregistry.New()

	provider, err := buildSearchProvider(cfg, creds)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		summarizer := summarize.New(adapter, cfg.SummarizationModel, clock.System{}.TodayString)
		webSearch := search.NewWebSearchTool(provider, summarizer, search.Config{MaxContentLength: cfg.MaxContentLength}, slog.Default())

		registry.RegisterCallable("web_search", "Search the web for information relevant to the research task.", webSearchSchema, func(ctx context.Context, input map[string]any) (string, error) {
			queries, _ := input["queries"].([]any)
			strQueries := make([]string, 0, len(queries))
			for _, q := range queries {
				if s, ok := q.(string); ok {
					strQueries = append(strQueries, s)
				}
			}
			return webSearch.Run(ctx, strQueries, 5, search.TopicGeneral)
		})
	}

	registry.RegisterSchema(agentloop.ResearchCompleteTool, "Signal that this research subtask has gathered enough information.", nil)
	registry.RegisterSchema(textmode.ThinkToolName, "Record a private reflection before deciding the next action.", nil)

	if cfg.MCP != nil {
		client := &unsupportedMCPClient{}
		if err := mcpext.Load(ctx, mcpext.Config{URL: cfg.MCP.URL, Tools: cfg.MCP.Tools, AuthRequired: cfg.MCP.AuthRequired}, creds, client, registry, slog.Default()); err != nil {
			slog.Default().Warn("mcpext: extension tools unavailable", "error", err)
		}
	}

	return registry, nil
}

var webSearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"queries": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []any{"queries"},
}

func buildSearchProvider(cfg config.RuntimeConfig, creds *credstore.Store) (search.Provider, error) {
	switch cfg.SearchAPI {
	case "tavily":
		key, err := creds.APIKey("TAVILY_API_KEY")
		if err != nil {
			return nil, nil
		}
		return tavily.New(tavily.Config{APIKey: key}), nil
	case "searxng":
		if cfg.SearxngURL == "" {
			return nil, nil
		}
		return searxng.New(searxng.Config{BaseURL: cfg.SearxngURL}), nil
	default:
		return nil, nil
	}
}

// unsupportedMCPClient is a placeholder MCPClient: the MCP wire protocol
// itself is out of scope (spec.md §1 treats it like SearchProvider and
// ModelClient — pluggable, not specified), so this demo CLI wires the
// loader but has no concrete transport to hand it.
type unsupportedMCPClient struct{}

func (unsupportedMCPClient) ListTools(ctx context.Context, bearerToken string) ([]mcpext.ToolDescriptor, error) {
	return nil, fmt.Errorf("mcpext: no MCP transport configured in this build")
}

func (unsupportedMCPClient) CallTool(ctx context.Context, bearerToken, name string, input map[string]any) (string, error) {
	return "", fmt.Errorf("mcpext: no MCP transport configured in this build")
}
