package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/taskflowhq/taskflow/graph"
)

// Parse is the outcome of reading free-form plan text. Specs is empty when
// no step structure was recognized; Raw always holds the original text so
// callers can fall back to it.
type Parse struct {
	Specs []TaskSpec
	Raw   string
}

// Recognized reports whether the text yielded at least one step.
func (p Parse) Recognized() bool {
	return len(p.Specs) > 0
}

var (
	numberedStep = regexp.MustCompile(`^(\d+)[.):]\s*(.*)$`)
	wordedStep   = regexp.MustCompile(`(?i)^step\s+(\d+)\s*[:.]\s*(.*)$`)
	digitRun     = regexp.MustCompile(`\d+`)
)

// ParsePlan reads a numbered free-text plan into task specs. The format is a
// soft contract: numbered or "Step N:" lines open a step, bare lines extend
// its description, and dashed lines carry complexity, priority, and
// dependency annotations. Dependency digits reference earlier step numbers
// and resolve to step keys; self and forward references are dropped. Text
// with no recognizable steps returns an unrecognized Parse.
func ParsePlan(text string) Parse {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	specs := make([]TaskSpec, 0)
	var cur *TaskSpec
	flush := func() {
		if cur != nil {
			specs = append(specs, *cur)
			cur = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if rest, ok := matchStep(line); ok {
			flush()
			n := len(specs) + 1
			name := cleanName(rest)
			if name == "" {
				name = fmt.Sprintf("Step %d", n)
			}
			cur = &TaskSpec{
				Key:        StepKey(n),
				Name:       name,
				Complexity: ComplexityMedium,
				Priority:   graph.PriorityMedium,
			}
			continue
		}

		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			if cur == nil {
				continue
			}
			applyAnnotation(cur, line, len(specs)+1)
			continue
		}

		if cur != nil {
			if cur.Description == "" {
				cur.Description = line
			} else {
				cur.Description += " " + line
			}
		}
	}
	flush()

	return Parse{Specs: specs, Raw: text}
}

func matchStep(line string) (rest string, ok bool) {
	if m := numberedStep.FindStringSubmatch(line); m != nil {
		return m[2], true
	}
	if m := wordedStep.FindStringSubmatch(line); m != nil {
		return m[2], true
	}
	return "", false
}

// cleanName strips markdown emphasis and trailing separators from a step
// title.
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*#`")
	s = strings.TrimSuffix(strings.TrimSpace(s), ":")
	return strings.TrimSpace(s)
}

// applyAnnotation folds one dashed metadata line into the current spec.
// Keyword values are scanned after the colon when one is present, so the
// annotation label itself never matches a level name.
func applyAnnotation(spec *TaskSpec, line string, stepNum int) {
	lower := strings.ToLower(line)
	value := lower
	if i := strings.Index(lower, ":"); i >= 0 {
		value = lower[i+1:]
	}

	switch {
	case strings.Contains(lower, "complexity"):
		for _, level := range []Complexity{ComplexitySimple, ComplexityMedium, ComplexityComplex} {
			if strings.Contains(value, string(level)) {
				spec.Complexity = level
				break
			}
		}
	case strings.Contains(lower, "priority"):
		for _, level := range []graph.Priority{graph.PriorityLow, graph.PriorityMedium, graph.PriorityHigh, graph.PriorityCritical} {
			if strings.Contains(value, string(level)) {
				spec.Priority = level
				break
			}
		}
	case strings.Contains(lower, "depend"):
		for _, d := range digitRun.FindAllString(value, -1) {
			n, err := strconv.Atoi(d)
			if err != nil || n < 1 || n >= stepNum {
				continue
			}
			key := StepKey(n)
			if !containsKey(spec.DependsOn, key) {
				spec.DependsOn = append(spec.DependsOn, key)
			}
		}
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// FormatPlan renders a plan back into the numbered text format ParsePlan
// reads, for inclusion in refinement prompts.
func FormatPlan(specs []TaskSpec) string {
	var b strings.Builder
	for i, spec := range specs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, spec.Name)
		desc := spec.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&b, "   %s\n", desc)
		fmt.Fprintf(&b, "   - Complexity: %s\n", spec.Complexity)
		fmt.Fprintf(&b, "   - Priority: %s\n", spec.Priority)
		if len(spec.DependsOn) > 0 {
			nums := make([]string, 0, len(spec.DependsOn))
			for _, key := range spec.DependsOn {
				nums = append(nums, strings.TrimPrefix(key, "step-"))
			}
			fmt.Fprintf(&b, "   - Dependencies: %s\n", strings.Join(nums, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
