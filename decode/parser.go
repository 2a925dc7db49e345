package decode

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
)

// Fields is the structured narrative payload of one model turn.
type Fields struct {
	Story        string   `json:"story"`
	Summary      string   `json:"summary"`
	CharacterLog []string `json:"character_log,omitempty"`
	InventoryLog []string `json:"inventory_log,omitempty"`
	QuestLog     []string `json:"quest_log,omitempty"`
	WorldLog     []string `json:"world_log,omitempty"`
	IsCorrection bool     `json:"isCorrection,omitempty"`
}

// PartialResult is what TolerantParse could recover from a possibly
// incomplete response body.
type PartialResult struct {
	Analysis string
	Fields   Fields
}

// wireShape is the structured response the model is instructed to emit.
// The flat fields carry the legacy variant kept parseable for turns
// persisted by earlier versions.
type wireShape struct {
	Analysis string  `json:"analysis"`
	Response *Fields `json:"response"`

	Story      string `json:"story"`
	Summary    string `json:"summary"`
	Correction *bool  `json:"correction"`
}

func (w *wireShape) toResult() PartialResult {
	res := PartialResult{Analysis: w.Analysis}
	if w.Response != nil {
		res.Fields = *w.Response
		return res
	}
	res.Fields.Story = w.Story
	res.Fields.Summary = w.Summary
	if w.Correction != nil {
		res.Fields.IsCorrection = *w.Correction
	}
	return res
}

// TolerantParse decodes a complete or truncated response body. It reports
// complete=true only when the body parsed without repair. Repair rules, in
// order: markdown-fence stripping, comment/trailing-comma normalization,
// unterminated-string and brace balancing, and finally targeted field-level
// extraction of the analysis and story strings.
func TolerantParse(data []byte) (PartialResult, bool) {
	text := stripFences(strings.TrimSpace(string(data)))
	normalized := string(jsonc.ToJSON([]byte(text)))

	var wire wireShape
	if err := json.Unmarshal([]byte(normalized), &wire); err == nil {
		return wire.toResult(), true
	}

	repaired := repairJSON(normalized)
	wire = wireShape{}
	if err := json.Unmarshal([]byte(repaired), &wire); err == nil {
		return wire.toResult(), false
	}

	return PartialResult{
		Analysis: extractStringField(text, "analysis"),
		Fields: Fields{
			Story:   extractStringField(text, "story"),
			Summary: extractStringField(text, "summary"),
		},
	}, false
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)(?:```\\s*)?$")

// stripFences removes a surrounding markdown code fence, including an
// unterminated one on a truncated stream.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// repairJSON closes an unterminated string and balances any open braces and
// brackets so a truncated object becomes syntactically valid.
func repairJSON(text string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(text)
	if inString {
		if escaped {
			// Drop the dangling backslash before closing the string.
			s := sb.String()
			sb.Reset()
			sb.WriteString(s[:len(s)-1])
		}
		sb.WriteByte('"')
	}
	out := strings.TrimRight(sb.String(), " \t\n\r")
	out = strings.TrimSuffix(out, ",")
	if strings.HasSuffix(out, ":") {
		out += "null"
	}
	var closers strings.Builder
	closers.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closers.WriteByte('}')
		} else {
			closers.WriteByte(']')
		}
	}
	return closers.String()
}

// extractStringField pulls a possibly unterminated string value for the
// named field out of raw text. Used for live previews before the object is
// syntactically complete, and as the last-resort parse.
func extractStringField(text, name string) string {
	re := fieldRes[name]
	if re == nil {
		re = regexp.MustCompile(`"` + regexp.QuoteMeta(name) + `"\s*:\s*"((?:[^"\\]|\\.)*)`)
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return unescapePartial(m[1])
}

var fieldRes = map[string]*regexp.Regexp{
	"analysis": regexp.MustCompile(`"analysis"\s*:\s*"((?:[^"\\]|\\.)*)`),
	"story":    regexp.MustCompile(`"story"\s*:\s*"((?:[^"\\]|\\.)*)`),
	"summary":  regexp.MustCompile(`"summary"\s*:\s*"((?:[^"\\]|\\.)*)`),
}

// unescapePartial decodes JSON string escapes in a fragment that may end
// mid-escape. A dangling backslash or truncated \u sequence is dropped
// rather than surfaced.
func unescapePartial(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			break
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '"', '\\', '/':
			sb.WriteByte(s[i])
		case 'u':
			if i+4 < len(s) {
				var quoted = `"\u` + s[i+1:i+5] + `"`
				var decoded string
				if err := json.Unmarshal([]byte(quoted), &decoded); err == nil {
					sb.WriteString(decoded)
				}
				i += 4
			} else {
				i = len(s)
			}
		}
	}
	return sb.String()
}
