package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
)

const refinePromptFormat = `You are refining a task plan based on feedback.

Current Plan:
%s

Feedback:
%s

Please provide the refined plan following the same format.`

// rawFallbackLimit bounds how much unparseable oracle output is carried into
// the fallback task description.
const rawFallbackLimit = 500

// LLM plans by sending a decomposition prompt to an oracle and parsing its
// numbered reply. The reply format is a soft contract: output that yields no
// steps collapses into a single task holding the raw text.
type LLM struct {
	oracle  oracle.Oracle
	prompts *prompt.Registry
	counter *oracle.TokenCounter
	logger  *zap.Logger
}

// NewLLM creates an oracle-backed planner using the default prompt registry.
func NewLLM(o oracle.Oracle, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{
		oracle:  o,
		prompts: prompt.Defaults(),
		logger:  logger.With(zap.String("component", "planner_llm")),
	}
}

// WithPrompts swaps in a custom prompt registry.
func (l *LLM) WithPrompts(r *prompt.Registry) *LLM {
	if r != nil {
		l.prompts = r
	}
	return l
}

// WithTokenCounter installs a counter whose budget truncates oversized
// planning prompts before they reach the oracle.
func (l *LLM) WithTokenCounter(c *oracle.TokenCounter) *LLM {
	l.counter = c
	return l
}

func (l *LLM) Name() string { return "llm" }

// Plan asks the oracle to decompose the goal and parses the reply. Without
// an oracle it degrades to a single task wrapping the goal.
func (l *LLM) Plan(ctx context.Context, goal string, vars map[string]any) ([]TaskSpec, error) {
	if l.oracle == nil {
		return []TaskSpec{{
			Key:         StepKey(1),
			Name:        "Execute goal",
			Description: goal,
			Complexity:  ComplexityMedium,
			Priority:    graph.PriorityMedium,
		}}, nil
	}

	tmpl, ok := l.prompts.Get(prompt.PlanningTemplate)
	if !ok {
		return nil, fmt.Errorf("planning prompt template %q not registered", prompt.PlanningTemplate)
	}
	text := tmpl.Format(map[string]any{
		"goal":         goal,
		"context_info": contextInfo(vars),
	})
	text = l.budgeted(text)

	resp, err := l.oracle.Complete(ctx, oracle.Request{Prompt: text, Vars: vars})
	if err != nil {
		return nil, fmt.Errorf("planning oracle: %w", err)
	}

	parse := ParsePlan(resp.Content)
	if !parse.Recognized() {
		l.logger.Warn("plan text had no recognizable steps, collapsing to one task",
			zap.Int("raw_len", len(parse.Raw)))
		return []TaskSpec{{
			Key:         StepKey(1),
			Name:        "Execute task",
			Description: truncateRunes(parse.Raw, rawFallbackLimit),
			Complexity:  ComplexityMedium,
			Priority:    graph.PriorityMedium,
		}}, nil
	}
	l.logger.Debug("plan parsed", zap.Int("steps", len(parse.Specs)))
	return parse.Specs, nil
}

// Refine sends the current plan and feedback back to the oracle. If the
// revised reply has no recognizable steps the original plan is kept, so a
// malformed refinement can't destroy a working plan.
func (l *LLM) Refine(ctx context.Context, plan []TaskSpec, feedback string) ([]TaskSpec, error) {
	if l.oracle == nil {
		return plan, nil
	}

	text := l.budgeted(fmt.Sprintf(refinePromptFormat, FormatPlan(plan), feedback))

	resp, err := l.oracle.Complete(ctx, oracle.Request{Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("refinement oracle: %w", err)
	}

	parse := ParsePlan(resp.Content)
	if !parse.Recognized() {
		l.logger.Warn("refined plan had no recognizable steps, keeping original plan")
		return plan, nil
	}
	return parse.Specs, nil
}

// budgeted applies the token budget to a prompt. A failing counter degrades
// to the untruncated prompt rather than blocking the plan.
func (l *LLM) budgeted(text string) string {
	if l.counter == nil {
		return text
	}
	cut, err := l.counter.Truncate(text)
	if err != nil {
		l.logger.Warn("token counter unavailable, sending untruncated prompt", zap.Error(err))
		return text
	}
	return cut
}

// contextInfo renders caller vars the way planning prompts expect: a Context
// header with indented JSON, or empty when there is nothing to show.
func contextInfo(vars map[string]any) string {
	if len(vars) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return ""
	}
	return "Context:\n" + string(data)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
