package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTolerantParseComplete(t *testing.T) {
	body := `{"analysis":"tense standoff","response":{"story":"She lowers the blade.","summary":"standoff defused","inventory_log":["- blade drawn"],"isCorrection":false}}`
	res, complete := TolerantParse([]byte(body))
	require.True(t, complete)
	require.Equal(t, "tense standoff", res.Analysis)
	require.Equal(t, "She lowers the blade.", res.Fields.Story)
	require.Equal(t, "standoff defused", res.Fields.Summary)
	require.Equal(t, []string{"- blade drawn"}, res.Fields.InventoryLog)
	require.False(t, res.Fields.IsCorrection)
}

func TestTolerantParseLegacyFlatShape(t *testing.T) {
	body := `{"story":"old save text","summary":"old summary","correction":true}`
	res, complete := TolerantParse([]byte(body))
	require.True(t, complete)
	require.Equal(t, "old save text", res.Fields.Story)
	require.Equal(t, "old summary", res.Fields.Summary)
	require.True(t, res.Fields.IsCorrection)
}

func TestTolerantParseFencedBody(t *testing.T) {
	body := "```json\n{\"analysis\":\"a\",\"response\":{\"story\":\"s\",\"summary\":\"su\"}}\n```"
	res, complete := TolerantParse([]byte(body))
	require.True(t, complete)
	require.Equal(t, "s", res.Fields.Story)

	// Unterminated fence on a truncated stream.
	truncated := "```json\n{\"analysis\":\"a\",\"response\":{\"story\":\"cut off"
	res, complete = TolerantParse([]byte(truncated))
	require.False(t, complete)
	require.Equal(t, "cut off", res.Fields.Story)
}

func TestTolerantParseTruncated(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		story string
	}{
		{"mid string", `{"analysis":"a","response":{"story":"the door opens`, "the door opens"},
		{"dangling escape", `{"analysis":"a","response":{"story":"she said \`, "she said "},
		{"after comma", `{"analysis":"a","response":{"story":"done",`, "done"},
		{"after colon", `{"analysis":"a","response":{"story":"done","summary":`, "done"},
		{"escaped newline", `{"response":{"story":"line one\nline two`, "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, complete := TolerantParse([]byte(tt.body))
			require.False(t, complete)
			require.Equal(t, tt.story, res.Fields.Story)
		})
	}
}

func TestTolerantParseCommentsAndTrailingCommas(t *testing.T) {
	body := `{
		// model added a comment
		"analysis": "a",
		"response": {"story": "s", "summary": "su",},
	}`
	res, _ := TolerantParse([]byte(body))
	require.Equal(t, "s", res.Fields.Story)
	require.Equal(t, "su", res.Fields.Summary)
}

func TestTolerantParseRegexFallback(t *testing.T) {
	// Broken beyond brace repair: field extraction still recovers text.
	body := `garbage "analysis":"saw it coming" noise "story":"the bridge gives way…" {{{`
	res, complete := TolerantParse([]byte(body))
	require.False(t, complete)
	require.Equal(t, "saw it coming", res.Analysis)
	require.Equal(t, "the bridge gives way…", res.Fields.Story)
}

func TestTolerantParseEmpty(t *testing.T) {
	res, complete := TolerantParse(nil)
	require.False(t, complete)
	require.Empty(t, res.Fields.Story)
}

func TestUnescapePartial(t *testing.T) {
	require.Equal(t, "a\nb\tc\"d\\e/f", unescapePartial(`a\nb\tc\"d\\e\/f`))
	require.Equal(t, "…", unescapePartial(`…`))
	// Truncated escapes are dropped, not surfaced.
	require.Equal(t, "x", unescapePartial(`x\`))
	require.Equal(t, "x", unescapePartial(`x\u20`))
}
