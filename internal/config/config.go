// Package config loads the engine's RuntimeConfig from a YAML file layered
// with environment-variable overrides, following the teacher's
// DefaultConfig -> LoadFrom -> ApplyEnv shape.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MCPConfig describes an optional extension-tool server reachable over the
// MCP token-exchange protocol (see internal/mcpext).
type MCPConfig struct {
	URL          string   `yaml:"url"`
	Tools        []string `yaml:"tools"`
	AuthRequired bool     `yaml:"auth_required"`
}

// RuntimeConfig is the per-run, immutable configuration named by spec.md
// §6's configuration table.
type RuntimeConfig struct {
	// Provider-prefixed model identifiers, e.g. "openai:gpt-4o-mini".
	SummarizationModel string `yaml:"summarization_model"`
	ResearchModel      string `yaml:"research_model"`
	CompressionModel   string `yaml:"compression_model"`
	FinalReportModel   string `yaml:"final_report_model"`

	// SearchAPI selects the search provider: tavily, searxng, anthropic,
	// openai, or none.
	SearchAPI string `yaml:"search_api"`
	SearxngURL string `yaml:"searxng_url"`

	MaxConcurrentResearchUnits int `yaml:"max_concurrent_research_units"`
	MaxIterations              int `yaml:"max_iterations"`
	MaxToolCalls               int `yaml:"max_tool_calls"`
	MaxStructuredOutputRetries int `yaml:"max_structured_output_retries"`
	MaxContentLength           int `yaml:"max_content_length"`
	SummarizationModelMaxTokens int `yaml:"summarization_model_max_tokens"`

	AllowClarification bool       `yaml:"allow_clarification"`
	MCP                *MCPConfig `yaml:"mcp_config"`

	// GetAPIKeysFromConfig, when true, tells internal/credstore to read
	// provider keys from APIKeys instead of the process environment.
	GetAPIKeysFromConfig bool              `yaml:"get_api_keys_from_config"`
	APIKeys              map[string]string `yaml:"api_keys"`
}

// DefaultConfig returns the engine's out-of-the-box configuration.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		SummarizationModel:          "openai:gpt-4o-mini",
		ResearchModel:               "anthropic:claude-sonnet-4-5",
		CompressionModel:            "anthropic:claude-sonnet-4-5",
		FinalReportModel:            "anthropic:claude-opus-4-1",
		SearchAPI:                   "tavily",
		SearxngURL:                  "",
		MaxConcurrentResearchUnits:  5,
		MaxIterations:               6,
		MaxToolCalls:                10,
		MaxStructuredOutputRetries:  3,
		MaxContentLength:            50000,
		SummarizationModelMaxTokens: 8192,
		AllowClarification:          true,
		MCP:                         nil,
		GetAPIKeysFromConfig:        false,
		APIKeys:                     map[string]string{},
	}
}

// DefaultPath resolves the config file location: DEEPRES_CONFIG if set,
// else ~/.config/deepres/config.yaml.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv("DEEPRES_CONFIG")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "deepres", "config.yaml")
}

// Load reads the config at DefaultPath, applying env overrides.
func Load() RuntimeConfig {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the config at path (if non-empty and readable), falling
// back to DefaultConfig on any read or parse error, then applies env
// overrides.
func LoadFrom(path string) RuntimeConfig {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if buf, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(buf, &cfg)
		}
	}
	ApplyEnv(&cfg)
	return cfg
}

// ApplyEnv overlays DEEPRES_* environment variables onto cfg.
func ApplyEnv(cfg *RuntimeConfig) {
	if v := strings.TrimSpace(os.Getenv("DEEPRES_SUMMARIZATION_MODEL")); v != "" {
		cfg.SummarizationModel = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_RESEARCH_MODEL")); v != "" {
		cfg.ResearchModel = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_COMPRESSION_MODEL")); v != "" {
		cfg.CompressionModel = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_FINAL_REPORT_MODEL")); v != "" {
		cfg.FinalReportModel = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_SEARCH_API")); v != "" {
		cfg.SearchAPI = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_SEARXNG_URL")); v != "" {
		cfg.SearxngURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_MAX_CONCURRENT_RESEARCH_UNITS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxConcurrentResearchUnits = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_MAX_ITERATIONS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_MAX_TOOL_CALLS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxToolCalls = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_MAX_STRUCTURED_OUTPUT_RETRIES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxStructuredOutputRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_MAX_CONTENT_LENGTH")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxContentLength = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_SUMMARIZATION_MODEL_MAX_TOKENS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.SummarizationModelMaxTokens = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_ALLOW_CLARIFICATION")); v != "" {
		cfg.AllowClarification = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("GET_API_KEYS_FROM_CONFIG")); v != "" {
		cfg.GetAPIKeysFromConfig = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("DEEPRES_MCP_URL")); v != "" {
		if cfg.MCP == nil {
			cfg.MCP = &MCPConfig{}
		}
		cfg.MCP.URL = v
	}
}

func parseInt(val string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(val))
}

func parseBool(val string) bool {
	val = strings.TrimSpace(strings.ToLower(val))
	return val == "1" || val == "true" || val == "yes"
}
