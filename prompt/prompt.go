// Package prompt manages the prompt templates used by oracle-backed
// components. Templates are keyed by name, grouped by workflow type, and
// substitute {placeholder} variables.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Template is a prompt template bound to a workflow type. Vars supplies
// default values; callers override them at format time.
type Template struct {
	Name         string
	WorkflowType string
	System       string
	Task         string
	Vars         map[string]any
}

// Format renders the task prompt, replacing each {key} placeholder with the
// corresponding value. Caller-supplied vars win over template defaults;
// unknown placeholders are left in place.
func (t *Template) Format(vars map[string]any) string {
	out := t.Task
	for k, v := range t.Vars {
		if _, overridden := vars[k]; overridden {
			continue
		}
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	return out
}

// FormatSystem renders the system prompt with the given variables.
func (t *Template) FormatSystem(vars map[string]any) string {
	out := t.System
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	return out
}

// Registry is a concurrency-safe collection of templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register stores a template under its name, replacing any previous one.
func (r *Registry) Register(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
}

// Get returns the template registered under name.
func (r *Registry) Get(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// ForWorkflow returns all templates bound to a workflow type.
func (r *Registry) ForWorkflow(workflowType string) []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0)
	for _, t := range r.templates {
		if t.WorkflowType == workflowType {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names lists registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template names registered by Defaults.
const (
	PlanningTemplate    = "default_planning"
	SequentialTemplate  = "default_sequential"
	InteractiveTemplate = "default_interactive"
	CodeExecuteTemplate = "default_code_execute"
	CodeRefineTemplate  = "default_code_refine"
	HumanLoopTemplate   = "default_human_loop"
)

// Defaults returns a registry holding the built-in template for every
// workflow type.
func Defaults() *Registry {
	r := NewRegistry()

	r.Register(&Template{
		Name:         PlanningTemplate,
		WorkflowType: "planning",
		System: `You are an expert task planner. Your job is to break down complex goals into clear, actionable steps.

For each task, provide:
1. Task name (short and clear)
2. Detailed description
3. Dependencies (which tasks must be completed first)
4. Complexity level (simple/medium/complex)
5. Priority (low/medium/high/critical)

Think step by step and create a comprehensive plan.`,
		Task: `Goal: {goal}

{context_info}

Please create a detailed step-by-step plan to achieve this goal.

Format your response as a numbered list, with each step including:
- Name
- Description
- Dependencies
- Complexity
- Priority`,
	})

	r.Register(&Template{
		Name:         SequentialTemplate,
		WorkflowType: "sequential",
		System:       `You are a reliable workflow executor. You execute steps sequentially and carefully.`,
		Task: `Execute step: {step_name}

Description: {description}

Context: {context}`,
	})

	r.Register(&Template{
		Name:         InteractiveTemplate,
		WorkflowType: "interactive",
		System:       `You are a helpful conversational AI assistant. Engage in natural, friendly dialogue.`,
		Task: `{conversation_history}

User: {user_input}

Provide a helpful response.`,
	})

	r.Register(&Template{
		Name:         CodeExecuteTemplate,
		WorkflowType: "code_execute_refine",
		System: `You are an expert programmer. Write clean, efficient, and well-documented code.

Always:
1. Write complete, executable code
2. Include error handling
3. Add comments for clarity
4. Follow best practices
5. Consider edge cases`,
		Task: `Write {language} code for the following requirement:

Requirement: {goal}

{context_info}

Provide only the executable code, no explanations.`,
	})

	r.Register(&Template{
		Name:         CodeRefineTemplate,
		WorkflowType: "code_execute_refine",
		System:       `You are an expert at debugging and refining code. Analyze errors and provide fixes.`,
		Task: `The following code failed:

Original Code:
{current_code}

Error/Issue:
{error_info}

Output:
{output}

Please refine the code to fix the issue. Provide only the corrected code.`,
	})

	r.Register(&Template{
		Name:         HumanLoopTemplate,
		WorkflowType: "human_loop",
		System:       `You are a helpful AI assistant. When proposing actions, be clear and provide all necessary details for human review.`,
		Task: `Goal: {goal}

{context_info}

Propose an action to make progress toward this goal.

Provide:
1. Action type (create/modify/analyze/review/etc.)
2. Description of what you will do
3. Details of the action

Format as JSON.`,
	})

	return r
}
