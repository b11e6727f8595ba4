// Package supervisor implements the top-level Supervisor state machine:
// accepts a user question, optionally clarifies, produces a research
// brief, plans and dispatches concurrent ToolLoopAgent instances bounded
// by a semaphore, compresses their notes, and drives report synthesis,
// with additional gap-driven planning rounds up to a configured maximum.
//
// Phase sequencing is grounded on the other_examples go-research
// think_deep loop.go (brief -> draft/coordinate -> final report, with a
// bounded diffusion loop in between). Semaphore-bounded dispatch and
// index-preserving fan-in are grounded on the other_examples go-research
// supervisor.go (SupervisorAgent.Coordinate, executeParallelResearch).
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordangeorgiev/open-deep-research/internal/agentloop"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// DefaultMaxReplanRounds is the default cap on additional gap-driven
// planning rounds beyond the initial plan, per spec.md §4.5.
const DefaultMaxReplanRounds = 3

// ModelAdapter is the subset of modeladapter.Adapter the supervisor calls
// through directly for its own structured decisions (clarify, brief,
// plan, compress). Declared locally, as elsewhere in this module, to
// avoid depending on the concrete Adapter type.
type ModelAdapter interface {
	InvokeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error)
}

// AgentFactory builds a fresh ToolLoopAgent for one SubTask. Supervisor
// owns the shared ModelAdapter/ToolRegistry/model; a factory lets each
// dispatched agent get its own Budget while sharing those collaborators,
// mirroring think_deep's per-delegation executeSubResearch callback.
type AgentFactory func() *agentloop.Agent

// ReportWriter is the subset of report.Writer the supervisor invokes for
// final synthesis.
type ReportWriter interface {
	Write(ctx context.Context, brief string, notes []string) string
}

// SubTask is one unit of dispatched research, per spec.md §3.
type SubTask struct {
	ID    string
	Brief string
}

// Config bounds a Supervisor run.
type Config struct {
	Model                 string
	AllowClarification    bool
	MaxConcurrentResearch int
	MaxReplanRounds       int
	MaxSubTasksPerPlan    int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentResearch <= 0 {
		c.MaxConcurrentResearch = 3
	}
	if c.MaxReplanRounds <= 0 {
		c.MaxReplanRounds = DefaultMaxReplanRounds
	}
	if c.MaxSubTasksPerPlan <= 0 {
		c.MaxSubTasksPerPlan = c.MaxConcurrentResearch * 2
	}
	return c
}

// Result is a terminated Supervisor run's output.
type Result struct {
	// NeedsClarification is set when AllowClarification determined a
	// follow-up question is required; execution halts here and
	// ClarifyingQuestion holds the text to surface to the caller. No
	// other fields are populated.
	NeedsClarification bool
	ClarifyingQuestion string

	Brief        string
	Notes        []string
	ReplanRounds int
	FinalReport  string
	Cancelled    bool
}

// Supervisor drives one research request through the clarify -> brief ->
// plan -> dispatch -> compress -> report phases.
type Supervisor struct {
	adapter      ModelAdapter
	newAgent     AgentFactory
	reportWriter ReportWriter
	cfg          Config
}

// New builds a Supervisor. newAgent is invoked once per dispatched
// SubTask to build an independent ToolLoopAgent sharing the caller's
// collaborators.
func New(adapter ModelAdapter, newAgent AgentFactory, reportWriter ReportWriter, cfg Config) *Supervisor {
	return &Supervisor{adapter: adapter, newAgent: newAgent, reportWriter: reportWriter, cfg: cfg.withDefaults()}
}

// Run drives a full research request to completion (or to a
// clarification halt, or to cancellation).
func (s *Supervisor) Run(ctx context.Context, userMessages []transcript.Message) (Result, error) {
	if s.cfg.AllowClarification {
		question, needed, err := s.clarify(ctx, userMessages)
		if err != nil {
			return Result{}, err
		}
		if needed {
			return Result{NeedsClarification: true, ClarifyingQuestion: question}, nil
		}
	}

	brief, err := s.generateBrief(ctx, userMessages)
	if err != nil {
		return Result{}, err
	}

	var allNotes []string
	gaps := []string{brief}
	round := 0

	for {
		if ctx.Err() != nil {
			return Result{Brief: brief, Notes: allNotes, ReplanRounds: round, Cancelled: true}, nil
		}

		subtasks, err := s.plan(ctx, brief, gaps, round)
		if err != nil {
			return Result{}, err
		}
		if len(subtasks) == 0 {
			break
		}

		notes := s.dispatch(ctx, subtasks)
		allNotes = append(allNotes, notes...)

		if ctx.Err() != nil {
			return Result{Brief: brief, Notes: allNotes, ReplanRounds: round, Cancelled: true}, nil
		}

		compressed, err := s.compress(ctx, brief, allNotes)
		if err != nil {
			return Result{}, err
		}
		allNotes = compressed.BulletFindings

		if len(compressed.OpenGaps) == 0 || round >= s.cfg.MaxReplanRounds {
			break
		}
		gaps = compressed.OpenGaps
		round++
	}

	report := s.reportWriter.Write(ctx, brief, allNotes)
	return Result{Brief: brief, Notes: allNotes, ReplanRounds: round, FinalReport: report}, nil
}

var clarifySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"needs_clarification": map[string]any{"type": "boolean"},
		"question":            map[string]any{"type": "string"},
	},
	"required": []any{"needs_clarification"},
}

type clarifyResult struct {
	NeedsClarification bool   `json:"needs_clarification"`
	Question           string `json:"question"`
}

// clarify asks a one-shot structured question: does this request need a
// clarifying follow-up before research can begin.
func (s *Supervisor) clarify(ctx context.Context, userMessages []transcript.Message) (question string, needed bool, err error) {
	prompt := "Given the conversation so far, decide whether a clarifying question is needed before research can begin. If so, set needs_clarification and supply question."
	messages := append(append([]transcript.Message{}, userMessages...), transcript.Message{Role: transcript.RoleUser, Content: prompt})

	raw, err := s.adapter.InvokeStructured(ctx, s.cfg.Model, messages, "ClarifyDecision", clarifySchema)
	if err != nil {
		return "", false, fmt.Errorf("supervisor: clarify: %w", err)
	}
	var result clarifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("supervisor: clarify: decode structured output: %w", err)
	}
	return result.Question, result.NeedsClarification, nil
}

var briefSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"brief": map[string]any{"type": "string"},
	},
	"required": []any{"brief"},
}

type briefResult struct {
	Brief string `json:"brief"`
}

// generateBrief converts the user's messages into a canonical
// ResearchBrief string via a single structured call.
func (s *Supervisor) generateBrief(ctx context.Context, userMessages []transcript.Message) (string, error) {
	prompt := "Convert the conversation above into a single, self-contained research brief: a canonical statement of what needs to be researched."
	messages := append(append([]transcript.Message{}, userMessages...), transcript.Message{Role: transcript.RoleUser, Content: prompt})

	raw, err := s.adapter.InvokeStructured(ctx, s.cfg.Model, messages, "ResearchBrief", briefSchema)
	if err != nil {
		return "", fmt.Errorf("supervisor: generate brief: %w", err)
	}
	var result briefResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("supervisor: generate brief: decode structured output: %w", err)
	}
	return result.Brief, nil
}

var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"subtasks": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []any{"subtasks"},
}

type planResult struct {
	SubTasks []string `json:"subtasks"`
}

// plan produces an ordered list of SubTask briefs. On round 0 it plans
// against the full brief; on replanning rounds it plans only against the
// gaps the previous compression round surfaced, per spec.md §4.5 ("each
// additional round dispatches only new SubTasks for gaps").
func (s *Supervisor) plan(ctx context.Context, brief string, gaps []string, round int) ([]SubTask, error) {
	var prompt string
	if round == 0 {
		prompt = fmt.Sprintf("Research brief:\n%s\n\nProduce an ordered list of independent research subtasks (at most %d) that together cover the brief.", brief, s.cfg.MaxSubTasksPerPlan)
	} else {
		prompt = fmt.Sprintf("Research brief:\n%s\n\nThe following gaps remain open after prior research rounds:\n%s\n\nProduce an ordered list of new research subtasks (at most %d) addressing only these gaps.", brief, joinBullets(gaps), s.cfg.MaxSubTasksPerPlan)
	}

	raw, err := s.adapter.InvokeStructured(ctx, s.cfg.Model, []transcript.Message{{Role: transcript.RoleUser, Content: prompt}}, "ResearchPlan", planSchema)
	if err != nil {
		return nil, fmt.Errorf("supervisor: plan: %w", err)
	}
	var result planResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("supervisor: plan: decode structured output: %w", err)
	}

	subtasks := make([]SubTask, 0, len(result.SubTasks))
	for i, brief := range result.SubTasks {
		subtasks = append(subtasks, SubTask{ID: fmt.Sprintf("r%d-%d", round, i), Brief: brief})
	}
	return subtasks, nil
}

func joinBullets(items []string) string {
	out := ""
	for _, item := range items {
		out += "- " + item + "\n"
	}
	return out
}

// dispatch launches one ToolLoopAgent per subtask, bounded by a counting
// semaphore of size MaxConcurrentResearch. Results are collected into an
// index-tagged slice so notes are merged in dispatch order (spec.md §5),
// and a failed subtask yields an empty-notes error note rather than
// aborting its siblings (spec.md §4.5, §7).
func (s *Supervisor) dispatch(ctx context.Context, subtasks []SubTask) []string {
	type indexed struct {
		index int
		notes []string
	}

	sem := make(chan struct{}, s.cfg.MaxConcurrentResearch)
	results := make(chan indexed, len(subtasks))

	for i, task := range subtasks {
		i, task := i, task
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			notes := s.runSubTask(ctx, task)
			results <- indexed{index: i, notes: notes}
		}()
	}

	ordered := make([][]string, len(subtasks))
	for range subtasks {
		r := <-results
		ordered[r.index] = r.notes
	}

	var merged []string
	for _, notes := range ordered {
		merged = append(merged, notes...)
	}
	return merged
}

func (s *Supervisor) runSubTask(ctx context.Context, task SubTask) []string {
	agent := s.newAgent()
	result := agent.Run(ctx, []transcript.Message{{Role: transcript.RoleUser, Content: task.Brief}})
	if result.Reason == agentloop.ReasonError || result.Reason == agentloop.ReasonTokenLimitExhausted {
		errMsg := "unknown error"
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		return []string{fmt.Sprintf("[subtask %s failed: %s] %s", task.ID, result.Reason, errMsg)}
	}

	notes := make([]string, 0, len(result.Notes))
	for _, note := range result.Notes {
		notes = append(notes, note.Content)
	}
	return notes
}

var compressSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"bullet_findings": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"open_gaps": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []any{"bullet_findings", "open_gaps"},
}

// CompressedNotes is the structured result of condensing aggregated raw
// notes against the original brief (spec.md §9 Open Question, resolved
// in DESIGN.md). OpenGaps drives additional replanning rounds.
type CompressedNotes struct {
	BulletFindings []string `json:"bullet_findings"`
	OpenGaps       []string `json:"open_gaps"`
}

func (s *Supervisor) compress(ctx context.Context, brief string, notes []string) (CompressedNotes, error) {
	prompt := fmt.Sprintf(
		"Research brief:\n%s\n\nCondense the following raw research notes into a deduplicated list of bullet findings, and a list of any open gaps still unaddressed relative to the brief.\n\n<notes>\n%s\n</notes>",
		brief, joinBullets(notes),
	)

	raw, err := s.adapter.InvokeStructured(ctx, s.cfg.Model, []transcript.Message{{Role: transcript.RoleUser, Content: prompt}}, "CompressedNotes", compressSchema)
	if err != nil {
		return CompressedNotes{}, fmt.Errorf("supervisor: compress: %w", err)
	}
	var result CompressedNotes
	if err := json.Unmarshal(raw, &result); err != nil {
		return CompressedNotes{}, fmt.Errorf("supervisor: compress: decode structured output: %w", err)
	}
	return result, nil
}
