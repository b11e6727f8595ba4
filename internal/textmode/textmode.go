// Package textmode implements TextModeToolProtocol: prompting-based tool
// use emulation for models without native tool-calling support. It
// renders tool descriptions into a system message instructing a
// Thought/Action/Action-Input (or Thought/Final-Answer) response shape,
// and parses that shape back out of free text.
//
// Grounded on taipm-go-deep-agent/agent/react_parser.go's regex-driven
// THOUGHT/ACTION/FINAL step parser, narrowed to spec.md §4.6's simpler
// three-way classification (no explicit THOUGHT/OBSERVATION step types of
// its own — those fold into the surrounding free text).
package textmode

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
)

// ThinkToolName is the reflection tool whose sole parameter accepts
// several synonymous aliases (spec.md §4.6).
const ThinkToolName = "think"

var finalAnswerRegex = regexp.MustCompile(`(?is)final\s+answer\s*:\s*(.*)$`)
var actionRegex = regexp.MustCompile(`(?im)^\s*action\s*:\s*(\S+)\s*$`)
var actionInputRegex = regexp.MustCompile(`(?is)action\s+input\s*:\s*(.*)$`)

// reflectionAliases are the accepted synonyms for the think tool's
// "reflection" parameter, in priority order.
var reflectionAliases = []string{"prompt", "thought", "thinking", "question", "input", "content"}

// Protocol implements modeladapter.TextModeProtocol.
type Protocol struct{}

// New returns a Protocol. It has no state; render/parse behavior is pure
// functions of their input.
func New() *Protocol { return &Protocol{} }

// Render prepends a system message enumerating every tool's name,
// description, and parameter list, and instructs the model to reply with
// exactly one of two shapes.
func (p *Protocol) Render(tools []modeladapter.ToolSpec) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if params := describeParameters(t.Parameters); params != "" {
			fmt.Fprintf(&b, "  parameters: %s\n", params)
		}
	}
	b.WriteString("\nRespond with exactly one of the following two formats.\n\n")
	b.WriteString("To call a tool:\n")
	b.WriteString("Thought: <your reasoning>\n")
	b.WriteString("Action: <tool name>\n")
	b.WriteString("Action Input: <JSON object of arguments>\n\n")
	b.WriteString("To answer without calling a tool:\n")
	b.WriteString("Thought: <your reasoning>\n")
	b.WriteString("Final Answer: <your answer>\n\n")
	b.WriteString("Call at most one tool per response.\n")
	return b.String()
}

func describeParameters(schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// Parse classifies response as final_answer, tool_call, or none, per
// spec.md §4.6, and normalizes the extracted tool input's parameters.
func (p *Protocol) Parse(response string) modeladapter.TextModeResult {
	if m := finalAnswerRegex.FindStringSubmatch(response); m != nil {
		return modeladapter.TextModeResult{Kind: modeladapter.TextModeFinalAnswer, FinalAnswer: strings.TrimSpace(m[1])}
	}

	actionMatch := actionRegex.FindStringSubmatch(response)
	inputMatch := actionInputRegex.FindStringSubmatch(response)
	if actionMatch == nil || inputMatch == nil {
		return modeladapter.TextModeResult{Kind: modeladapter.TextModeNone}
	}

	toolName := strings.TrimSpace(actionMatch[1])
	body := strings.TrimSpace(inputMatch[1])

	var input map[string]any
	if obj, ok := extractFirstJSONObject(body); ok {
		_ = json.Unmarshal([]byte(obj), &input)
	}
	if input == nil {
		input = map[string]any{"input": body}
	}

	input = NormalizeParameters(toolName, input)
	return modeladapter.TextModeResult{Kind: modeladapter.TextModeToolCall, ToolName: toolName, ToolInput: input}
}

// NormalizeParameters applies the two per-tool aliasing rules spec.md
// §4.6 names: think's reflection-parameter synonyms, and any search
// tool's singular/plural queries coercion.
func NormalizeParameters(toolName string, input map[string]any) map[string]any {
	if input == nil {
		input = map[string]any{}
	}
	if toolName == ThinkToolName {
		input = normalizeReflection(input)
	}
	if isSearchTool(toolName) {
		input = normalizeQueries(input)
	}
	return input
}

func isSearchTool(toolName string) bool {
	return strings.Contains(strings.ToLower(toolName), "search")
}

// normalizeReflection ensures input has a "reflection" key, preferring an
// existing one, then the first matching synonym, then (for a
// single-field object) that field's sole value, then a placeholder.
func normalizeReflection(input map[string]any) map[string]any {
	if _, ok := input["reflection"]; ok {
		return input
	}
	for _, alias := range reflectionAliases {
		if v, ok := input[alias]; ok {
			input["reflection"] = v
			return input
		}
	}
	if len(input) == 1 {
		for _, v := range input {
			input["reflection"] = v
			return input
		}
	}
	input["reflection"] = "(no reflection provided)"
	return input
}

// normalizeQueries ensures input has a "queries" list, coercing a
// singular "query" scalar into a one-element list, and wrapping a scalar
// "queries" value into a list.
func normalizeQueries(input map[string]any) map[string]any {
	if q, ok := input["queries"]; ok {
		if _, isList := q.([]any); !isList {
			input["queries"] = []any{q}
		}
		return input
	}
	if q, ok := input["query"]; ok {
		input["queries"] = []any{q}
		delete(input, "query")
	}
	return input
}

// extractFirstJSONObject scans text for the first balanced {...} span,
// respecting string literals so braces inside quoted strings don't
// confuse the scan.
func extractFirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

var _ modeladapter.TextModeProtocol = (*Protocol)(nil)
