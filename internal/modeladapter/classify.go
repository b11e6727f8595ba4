package modeladapter

import (
	"errors"
	"strings"
)

// nativeToolCallingProviders lists provider prefixes whose ModelClient
// implements real tool-calling; anything else falls back to
// TextModeToolProtocol. Grounded on original_source/utils.py's model-prefix
// dispatch (is_token_limit_exceeded, get_api_key_for_model) which recognizes
// openai/anthropic/google as first-class providers.
var nativeToolCallingProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// nativeStructuredOutputProviders lists provider prefixes whose ModelClient
// can produce schema-conformant output natively. spec.md §4.1 names exactly
// these four prefixes.
var nativeStructuredOutputProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"google":    true,
	"gemini":    true,
}

// unsupportedProviders are prefixes known not to support either native
// mechanism; listed explicitly (rather than left merely "unknown") because
// spec.md §4.1 calls for "a fixed supported list and a fixed unsupported
// list" — present in original_source/utils.py's MODEL_TOKEN_LIMITS table,
// which carries a cohere entry with no special-cased API-key or
// token-limit handling of its own.
var unsupportedProviders = map[string]bool{
	"cohere": true,
}

// providerPrefix splits a provider-prefixed model identifier
// ("openai:gpt-4o-mini") into its prefix ("openai") and the bare model name
// ("gpt-4o-mini"). A model string with no ":" has an empty prefix.
func providerPrefix(model string) (prefix, bare string) {
	if i := strings.IndexByte(model, ':'); i >= 0 {
		return model[:i], model[i+1:]
	}
	return "", model
}

func supportsNativeTools(model string) bool {
	prefix, _ := providerPrefix(model)
	return nativeToolCallingProviders[prefix]
}

func supportsNativeStructuredOutput(model string) bool {
	prefix, _ := providerPrefix(model)
	return nativeStructuredOutputProviders[prefix]
}

// tokenLimitPattern describes one provider family's way of signalling that
// a request was rejected for being too large. Grounded on
// original_source/utils.py's _check_openai_token_limit /
// _check_anthropic_token_limit / _check_gemini_token_limit.
type tokenLimitPattern struct {
	provider      string
	kinds         []string // exact (case-sensitive) error-kind matches
	messageSubstr []string // case-insensitive substrings checked against Message
	explicitCode  string   // exact Code match, if the provider supplies one
}

var tokenLimitPatterns = []tokenLimitPattern{
	{
		provider:      "openai",
		kinds:         []string{"BadRequestError", "InvalidRequestError"},
		messageSubstr: []string{"token", "context", "length", "maximum context", "reduce"},
		explicitCode:  "context_length_exceeded",
	},
	{
		provider:      "anthropic",
		kinds:         []string{"BadRequestError"},
		messageSubstr: []string{"prompt is too long"},
	},
	{
		provider: "gemini",
		kinds:    []string{"ResourceExhausted", "GoogleGenerativeAIFetchError"},
	},
	{
		provider: "google",
		kinds:    []string{"ResourceExhausted", "GoogleGenerativeAIFetchError"},
	},
}

// IsTokenLimitExceeded classifies err as a token/context-limit rejection.
// When modelHint is non-empty, only that provider's prefix pattern is
// checked; an empty hint tries every known pattern, matching
// original_source/utils.py's fallback behavior when no model_name is given.
func IsTokenLimitExceeded(err error, modelHint string) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return false
	}

	hintPrefix, _ := providerPrefix(modelHint)

	for _, pat := range tokenLimitPatterns {
		if hintPrefix != "" && pat.provider != hintPrefix {
			continue
		}
		if matchesPattern(perr, pat) {
			return true
		}
	}
	return false
}

func matchesPattern(perr *ProviderError, pat tokenLimitPattern) bool {
	if pat.explicitCode != "" && perr.Code == pat.explicitCode {
		return true
	}
	kindMatches := false
	for _, k := range pat.kinds {
		if perr.Kind == k {
			kindMatches = true
			break
		}
	}
	if !kindMatches {
		return false
	}
	if len(pat.messageSubstr) == 0 {
		return true
	}
	lower := strings.ToLower(perr.Message)
	for _, sub := range pat.messageSubstr {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// modelContextWindows mirrors original_source/utils.py's MODEL_TOKEN_LIMITS:
// a substring match over bare model names to an approximate context-window
// size in tokens. adapter.go's checkMinimalPromptFitsWindow uses this to
// fail fast, before looping, when even the un-truncatable floor of a
// prompt can't fit.
var modelContextWindows = map[string]int{
	"gpt-4.1":           1047576,
	"gpt-4o":            128000,
	"o1":                200000,
	"o3":                200000,
	"o4":                200000,
	"claude-opus-4":     200000,
	"claude-sonnet-4":   200000,
	"claude-3-7-sonnet": 200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"gemini-1.5-pro":    2097152,
	"gemini-1.5-flash":  1048576,
	"gemini-pro":        32768,
	"command-r-plus":    128000,
}

// ModelContextWindow returns the approximate context window for model, or
// ok=false if no table entry's key is a substring of the bare model name.
func ModelContextWindow(model string) (size int, ok bool) {
	_, bare := providerPrefix(model)
	for key, limit := range modelContextWindows {
		if strings.Contains(bare, key) {
			return limit, true
		}
	}
	return 0, false
}
