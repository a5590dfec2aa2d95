package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
	"github.com/taskflowhq/taskflow/types"
)

// TypeInteractive names the multi-round conversation strategy.
const TypeInteractive = "interactive"

// InputProvider supplies the next user turn given the conversation so far.
// Returning ok=false ends the conversation.
type InputProvider func(history []types.Message) (input string, ok bool)

// CompletionChecker decides whether the conversation has reached its goal.
type CompletionChecker func(history []types.Message) bool

// closingPhrases mark an assistant turn that wraps up the conversation.
var closingPhrases = []string{
	"is there anything else",
	"anything else i can help",
	"let me know if you need",
	"conversation complete",
}

// InteractiveConfig controls the conversation strategy.
type InteractiveConfig struct {
	// MaxRounds bounds the number of assistant turns.
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`
	// SystemPrompt is prepended to the conversation when set.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	// Input supplies user turns; nil ends after the first assistant turn.
	Input InputProvider `json:"-" yaml:"-"`
	// Completion overrides the default closing-phrase check.
	Completion CompletionChecker `json:"-" yaml:"-"`
}

// DefaultInteractiveConfig returns the documented interactive defaults.
func DefaultInteractiveConfig() InteractiveConfig {
	return InteractiveConfig{MaxRounds: 10}
}

// Interactive holds a multi-round conversation toward the goal. The goal is
// the opening user message; each round produces one assistant turn and asks
// the input provider for the next user turn.
type Interactive struct {
	Base
	cfg     InteractiveConfig
	oracle  oracle.Oracle
	prompts *prompt.Registry

	cmu          sync.RWMutex
	conversation []types.Message
}

// NewInteractive builds an interactive workflow from dependencies and config.
func NewInteractive(deps Deps, cfg InteractiveConfig) *Interactive {
	deps = deps.normalized()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultInteractiveConfig().MaxRounds
	}
	return &Interactive{
		Base:    newBase(TypeInteractive, deps.Logger),
		cfg:     cfg,
		oracle:  deps.Oracle,
		prompts: deps.Prompts,
	}
}

// InteractiveFactory is the Factory for the interactive strategy.
func InteractiveFactory(deps Deps, cfg Config) (Workflow, error) {
	return NewInteractive(deps, cfg.Interactive), nil
}

// Validate accepts any non-empty goal.
func (w *Interactive) Validate(goal string) bool {
	return strings.TrimSpace(goal) != ""
}

// Conversation returns a copy of the transcript so far.
func (w *Interactive) Conversation() []types.Message {
	w.cmu.RLock()
	defer w.cmu.RUnlock()
	out := make([]types.Message, len(w.conversation))
	copy(out, w.conversation)
	return out
}

// Execute runs the conversation until it completes, input runs out or the
// round limit is reached. Reaching the round limit is not a failure.
func (w *Interactive) Execute(ctx context.Context, goal string, vars map[string]any) (*Result, error) {
	res := w.newResult(goal)
	if !w.markRunning() {
		return w.conclude(res), nil
	}
	rctx, stop := w.runCtx(ctx)
	defer stop()
	w.setSteps(w.cfg.MaxRounds)

	var history []types.Message
	if w.cfg.SystemPrompt != "" {
		history = append(history, types.NewSystemMessage(w.cfg.SystemPrompt))
	}
	history = append(history, types.NewUserMessage(goal))
	w.store(history)

	completed := false
	for round := 0; round < w.cfg.MaxRounds; round++ {
		if gateErr := w.pauseGate(ctx); gateErr != nil {
			if errors.Is(gateErr, errCancelled) {
				break
			}
			w.chatDetails(res, history, completed)
			return w.conclude(res), gateErr
		}

		reply, err := w.respond(rctx, history, vars)
		if err != nil {
			if w.cancelledNow() {
				break
			}
			w.chatDetails(res, history, completed)
			if cause := ctx.Err(); cause != nil {
				return w.conclude(res), cause
			}
			res.Error = err.Error()
			return w.conclude(res), nil
		}
		history = append(history, types.NewAssistantMessage(reply))
		w.store(history)
		w.setStep(round + 1)

		if w.isComplete(history) {
			completed = true
			break
		}
		if w.cfg.Input == nil {
			break
		}
		input, ok := w.cfg.Input(append([]types.Message(nil), history...))
		if !ok {
			break
		}
		history = append(history, types.NewUserMessage(input))
		w.store(history)
	}

	w.chatDetails(res, history, completed)
	res.Output = lastAssistant(history)
	res.Success = true
	return w.conclude(res), nil
}

// respond produces the next assistant turn. The last history entry is the
// pending user message.
func (w *Interactive) respond(ctx context.Context, history []types.Message, vars map[string]any) (string, error) {
	if w.oracle == nil {
		return "I'm sorry, I don't have an oracle to respond with.", nil
	}
	last := history[len(history)-1]
	transcript := FormatTranscript(history[:len(history)-1])

	p := transcript + "\n\nUser: " + last.Content
	if tmpl, ok := w.prompts.Get(prompt.InteractiveTemplate); ok {
		p = tmpl.Format(map[string]any{
			"conversation_history": transcript,
			"user_input":           last.Content,
		})
	}
	resp, err := w.oracle.Complete(ctx, oracle.Request{Prompt: p, Vars: vars})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// isComplete runs the configured completion check, defaulting to scanning
// the last assistant turn for a closing phrase.
func (w *Interactive) isComplete(history []types.Message) bool {
	if w.cfg.Completion != nil {
		return w.cfg.Completion(history)
	}
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Role != types.RoleAssistant {
		return false
	}
	content := strings.ToLower(last.Content)
	for _, phrase := range closingPhrases {
		if strings.Contains(content, phrase) {
			return true
		}
	}
	return false
}

func (w *Interactive) store(history []types.Message) {
	w.cmu.Lock()
	w.conversation = append(w.conversation[:0], history...)
	w.cmu.Unlock()
}

func (w *Interactive) chatDetails(res *Result, history []types.Message, completed bool) {
	rounds := 0
	for _, m := range history {
		if m.Role == types.RoleUser {
			rounds++
		}
	}
	res.Details["total_rounds"] = rounds
	res.Details["conversation"] = append([]types.Message(nil), history...)
	res.Details["completed"] = completed
}

func lastAssistant(history []types.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}
