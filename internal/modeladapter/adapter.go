package modeladapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jordangeorgiev/open-deep-research/internal/schema"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// Config holds the retry/budget knobs an Adapter needs from RuntimeConfig.
// Kept as a narrow struct (rather than importing internal/config directly)
// so modeladapter has no dependency on the config package's YAML/env
// plumbing.
type Config struct {
	// MaxRetries bounds InvokeText/InvokeWithTools retries on transient
	// failure, not counting the one token-limit-recovery retry.
	MaxRetries int
	// MaxStructuredOutputRetries bounds InvokeStructured's
	// parse/validate-failure retry loop.
	MaxStructuredOutputRetries int
}

// Adapter is the concrete ModelAdapter: it wraps a set of provider-specific
// ModelClients plus a TextModeProtocol, and hides both model families (and
// token-limit recovery, and retries) behind InvokeText / InvokeWithTools /
// InvokeStructured.
//
// Grounded on the teacher's pkg/harness.loggerHarness: a decorator that
// wraps the same interface it implements to add a cross-cutting concern
// (there: logging; here: retries and recovery).
type Adapter struct {
	clients  map[string]ModelClient
	textMode TextModeProtocol
	cfg      Config
}

// New builds an Adapter. clients is keyed by provider prefix ("openai",
// "anthropic", ...); textMode handles any model whose prefix isn't in
// classify.go's native-capability tables.
func New(clients map[string]ModelClient, textMode TextModeProtocol, cfg Config) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxStructuredOutputRetries <= 0 {
		cfg.MaxStructuredOutputRetries = 3
	}
	return &Adapter{clients: clients, textMode: textMode, cfg: cfg}
}

func (a *Adapter) clientFor(model string) (ModelClient, error) {
	prefix, _ := providerPrefix(model)
	c, ok := a.clients[prefix]
	if !ok {
		return nil, fmt.Errorf("modeladapter: no client registered for provider %q (model %q)", prefix, model)
	}
	return c, nil
}

// InvokeText sends a plain chat turn, retrying on transient failure and
// recovering once from a token-limit rejection by truncating the
// transcript (spec.md §4.1).
func (a *Adapter) InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	client, err := a.clientFor(model)
	if err != nil {
		return "", err
	}
	if err := checkMinimalPromptFitsWindow(model, messages); err != nil {
		return "", err
	}

	attemptMessages := messages
	truncated := false

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		text, err := client.InvokeText(ctx, model, attemptMessages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if IsTokenLimitExceeded(err, model) && !truncated {
			attemptMessages = transcript.TruncateFromLastAssistant(attemptMessages)
			truncated = true
			if len(attemptMessages) == 0 {
				return "", fmt.Errorf("%w: transcript truncation exhausted", ErrTokenLimitExceeded)
			}
			attempt--
			continue
		}
		if IsTokenLimitExceeded(err, model) {
			return "", fmt.Errorf("%w: %v", ErrTokenLimitExceeded, err)
		}
	}
	return "", fmt.Errorf("modeladapter: InvokeText failed after retries: %w", lastErr)
}

// InvokeWithTools sends messages with tool definitions, using the
// provider's native tool-calling mechanism when available and
// TextModeToolProtocol otherwise.
func (a *Adapter) InvokeWithTools(ctx context.Context, model string, messages []transcript.Message, tools []ToolSpec) (transcript.Message, error) {
	client, err := a.clientFor(model)
	if err != nil {
		return transcript.Message{}, err
	}
	if err := checkMinimalPromptFitsWindow(model, messages); err != nil {
		return transcript.Message{}, err
	}

	attemptMessages := messages
	truncated := false

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return transcript.Message{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		var msg transcript.Message
		var err error
		if supportsNativeTools(model) {
			msg, err = client.InvokeNativeTools(ctx, model, attemptMessages, tools)
		} else {
			msg, err = a.invokeTextModeTools(ctx, client, model, attemptMessages, tools)
		}
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if IsTokenLimitExceeded(err, model) && !truncated {
			attemptMessages = transcript.TruncateFromLastAssistant(attemptMessages)
			truncated = true
			if len(attemptMessages) == 0 {
				return transcript.Message{}, fmt.Errorf("%w: transcript truncation exhausted", ErrTokenLimitExceeded)
			}
			attempt--
			continue
		}
		if IsTokenLimitExceeded(err, model) {
			return transcript.Message{}, fmt.Errorf("%w: %v", ErrTokenLimitExceeded, err)
		}
	}
	return transcript.Message{}, fmt.Errorf("modeladapter: InvokeWithTools failed after retries: %w", lastErr)
}

func (a *Adapter) invokeTextModeTools(ctx context.Context, client ModelClient, model string, messages []transcript.Message, tools []ToolSpec) (transcript.Message, error) {
	if a.textMode == nil {
		return transcript.Message{}, fmt.Errorf("modeladapter: model %q requires text-mode tool emulation but no TextModeProtocol is configured", model)
	}

	rendered := append([]transcript.Message{
		{Role: transcript.RoleSystem, Content: a.textMode.Render(tools)},
	}, messages...)

	text, err := client.InvokeText(ctx, model, rendered)
	if err != nil {
		return transcript.Message{}, err
	}

	result := a.textMode.Parse(text)
	switch result.Kind {
	case TextModeFinalAnswer:
		return transcript.Message{Role: transcript.RoleAssistant, Content: result.FinalAnswer}, nil
	case TextModeToolCall:
		args, err := json.Marshal(result.ToolInput)
		if err != nil {
			return transcript.Message{}, fmt.Errorf("modeladapter: encode text-mode tool input: %w", err)
		}
		return transcript.Message{
			Role:    transcript.RoleAssistant,
			Content: text,
			ToolCalls: []transcript.ToolCall{
				{CallID: "textmode-1", Name: result.ToolName, Arguments: string(args)},
			},
		}, nil
	default:
		return transcript.Message{Role: transcript.RoleAssistant, Content: text}, nil
	}
}

// InvokeStructured returns a value conforming to schema, using the
// provider's native structured-output mechanism when available and a
// prompted-JSON-extraction fallback otherwise.
func (a *Adapter) InvokeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, rawSchema map[string]any) (json.RawMessage, error) {
	client, err := a.clientFor(model)
	if err != nil {
		return nil, err
	}

	if supportsNativeStructuredOutput(model) {
		return a.invokeNativeStructuredWithRetry(ctx, client, model, messages, schemaName, rawSchema)
	}
	return a.invokeTextModeStructured(ctx, client, model, messages, rawSchema)
}

func (a *Adapter) invokeNativeStructuredWithRetry(ctx context.Context, client ModelClient, model string, messages []transcript.Message, schemaName string, rawSchema map[string]any) (json.RawMessage, error) {
	attemptMessages := messages
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxStructuredOutputRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		raw, err := client.InvokeNativeStructured(ctx, model, attemptMessages, schemaName, rawSchema)
		if err != nil {
			if IsTokenLimitExceeded(err, model) {
				attemptMessages = transcript.TruncateFromLastAssistant(attemptMessages)
				if len(attemptMessages) == 0 {
					return nil, fmt.Errorf("%w: transcript truncation exhausted", ErrTokenLimitExceeded)
				}
			}
			lastErr = err
			continue
		}

		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			lastErr = fmt.Errorf("parse native structured output: %w", err)
			attemptMessages = appendFeedback(attemptMessages, lastErr)
			continue
		}
		if err := schema.Validate(rawSchema, decoded); err != nil {
			lastErr = fmt.Errorf("validate native structured output: %w", err)
			attemptMessages = appendFeedback(attemptMessages, lastErr)
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrStructuredOutputInvalid, lastErr)
}

func (a *Adapter) invokeTextModeStructured(ctx context.Context, client ModelClient, model string, messages []transcript.Message, rawSchema map[string]any) (json.RawMessage, error) {
	attemptMessages := appendJSONInstruction(messages, rawSchema)

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxStructuredOutputRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		text, err := client.InvokeText(ctx, model, attemptMessages)
		if err != nil {
			if IsTokenLimitExceeded(err, model) {
				attemptMessages = transcript.TruncateFromLastAssistant(attemptMessages)
				if len(attemptMessages) == 0 {
					return nil, fmt.Errorf("%w: transcript truncation exhausted", ErrTokenLimitExceeded)
				}
				continue
			}
			lastErr = err
			continue
		}

		obj, ok := extractFirstJSONObject(text)
		if !ok {
			lastErr = fmt.Errorf("no JSON object found in text-mode response")
			attemptMessages = appendFeedback(attemptMessages, lastErr)
			continue
		}

		var decoded any
		if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
			lastErr = fmt.Errorf("parse extracted JSON: %w", err)
			attemptMessages = appendFeedback(attemptMessages, lastErr)
			continue
		}
		if err := schema.Validate(rawSchema, decoded); err != nil {
			lastErr = fmt.Errorf("validate extracted JSON: %w", err)
			attemptMessages = appendFeedback(attemptMessages, lastErr)
			continue
		}
		return json.RawMessage(obj), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrStructuredOutputInvalid, lastErr)
}

// charsPerToken approximates the character-to-token ratio for the
// pre-flight window check, the way original_source/utils.py's callers
// estimate cheaply rather than invoking a real tokenizer.
const charsPerToken = 4

// checkMinimalPromptFitsWindow fails fast when even the irreducible part
// of a prompt — its system message plus the latest user turn, the floor
// transcript.TruncateFromLastAssistant can ever shrink to — already
// exceeds model's context window. Retrying or truncating further
// couldn't help in that case, so InvokeText/InvokeWithTools skip the
// retry loop entirely instead of looping to a guaranteed rejection.
func checkMinimalPromptFitsWindow(model string, messages []transcript.Message) error {
	window, ok := ModelContextWindow(model)
	if !ok {
		return nil
	}

	var chars int
	for _, m := range messages {
		if m.Role == transcript.RoleSystem {
			chars += len(m.Content)
		}
	}
	if last, ok := lastMessageWithRole(messages, transcript.RoleUser); ok {
		chars += len(last.Content)
	}

	estimated := (chars + charsPerToken - 1) / charsPerToken
	if estimated > window {
		return fmt.Errorf("%w: minimal prompt estimated at ~%d tokens, exceeding %q's ~%d token context window",
			ErrTokenLimitExceeded, estimated, model, window)
	}
	return nil
}

func lastMessageWithRole(messages []transcript.Message, role transcript.Role) (transcript.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i], true
		}
	}
	return transcript.Message{}, false
}

func appendFeedback(messages []transcript.Message, err error) []transcript.Message {
	return append(messages, transcript.Message{
		Role:    transcript.RoleUser,
		Content: fmt.Sprintf("Your previous response was invalid: %v. Please respond again, correcting the issue.", err),
	})
}

// appendJSONInstruction appends a JSON-emission instruction to the final
// user message, listing each schema field's name, type, and description,
// per spec.md §4.1.
func appendJSONInstruction(messages []transcript.Message, rawSchema map[string]any) []transcript.Message {
	instruction := "Respond with a single JSON object matching this shape:\n" + describeSchemaFields(rawSchema) +
		"\nReturn only the JSON object, optionally inside a fenced code block."

	out := make([]transcript.Message, len(messages))
	copy(out, messages)
	out = append(out, transcript.Message{Role: transcript.RoleUser, Content: instruction})
	return out
}

func describeSchemaFields(rawSchema map[string]any) string {
	props, _ := rawSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}
	var b strings.Builder
	for name, v := range props {
		prop, _ := v.(map[string]any)
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		fmt.Fprintf(&b, "- %s (%s): %s\n", name, typ, desc)
	}
	return b.String()
}
