package workflow

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/taskflowhq/taskflow/types"
)

// langLine matches a bare language identifier on the opening fence line.
var langLine = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_+#.-]*$`)

// CodeExtract is the tagged result of pulling code out of an oracle reply.
// Fenced reports whether a code fence was found; without one the whole
// trimmed reply is taken as code.
type CodeExtract struct {
	Code   string
	Fenced bool
	Raw    string
}

// ExtractCode returns the first fenced code block in text. A language
// identifier on the fence line is dropped. A missing closing fence takes
// everything after the opening fence; no fence at all takes the full text.
func ExtractCode(text string) CodeExtract {
	start := strings.Index(text, "```")
	if start < 0 {
		return CodeExtract{Code: strings.TrimSpace(text), Raw: text}
	}
	body := text[start+3:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if first := strings.TrimSpace(body[:nl]); first != "" && langLine.MatchString(first) {
			body = body[nl+1:]
		}
	}
	return CodeExtract{Code: strings.TrimSpace(body), Fenced: true, Raw: text}
}

// ProposalExtract is the tagged result of parsing an action proposal from an
// oracle reply. Parsed is false when no JSON object could be decoded; the
// caller decides the fallback.
type ProposalExtract struct {
	Parsed      bool
	ActionType  string
	Description string
	Details     map[string]any
	Raw         string
}

// ExtractProposal decodes a JSON action proposal from text. It prefers a
// ```json fenced block and otherwise tries the span from the first '{' to
// the last '}'.
func ExtractProposal(text string) ProposalExtract {
	payload := ""
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			payload = rest[:j]
		} else {
			payload = rest
		}
	} else if i := strings.IndexByte(text, '{'); i >= 0 {
		if j := strings.LastIndexByte(text, '}'); j > i {
			payload = text[i : j+1]
		}
	}
	if strings.TrimSpace(payload) == "" {
		return ProposalExtract{Raw: text}
	}

	var body struct {
		ActionType  string         `json:"action_type"`
		Description string         `json:"description"`
		Details     map[string]any `json:"details"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return ProposalExtract{Raw: text}
	}
	if body.ActionType == "" {
		body.ActionType = "general"
	}
	return ProposalExtract{
		Parsed:      true,
		ActionType:  body.ActionType,
		Description: body.Description,
		Details:     body.Details,
		Raw:         text,
	}
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// contextJSON renders caller vars for embedding into a prompt.
func contextJSON(vars map[string]any) string {
	if len(vars) == 0 {
		return "none"
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return "none"
	}
	return string(b)
}

// FormatTranscript renders a conversation as bracketed role-tagged lines,
// the shape interactive prompts expect.
func FormatTranscript(history []types.Message) string {
	var b strings.Builder
	for i, msg := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[")
		b.WriteString(roleLabel(msg.Role))
		b.WriteString("]: ")
		b.WriteString(msg.Content)
	}
	return b.String()
}

func roleLabel(r types.Role) string {
	switch r {
	case types.RoleSystem:
		return "System"
	case types.RoleUser:
		return "User"
	case types.RoleAssistant:
		return "Assistant"
	default:
		s := string(r)
		if s == "" {
			return "Unknown"
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}
