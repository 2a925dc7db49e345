// Package summary folds archived narrative turns into cache-stable text
// blocks. A block is sealed after a fixed number of model turns and is never
// mutated again: the prompt-caching backend keys on an exact byte prefix, so
// any text that might still grow must stay out of sealed blocks. The
// remainder lives in a leftover buffer that is recomputed on every call.
package summary

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/llm"
)

// SealTurnCount is the number of model turns folded into one sealed block.
// Sealing is mandatory-by-count: only a strictly full buffer is promoted.
const SealTurnCount = 10

var (
	calendarRe = regexp.MustCompile(`\[\s*(\d{1,4}[./-]\d{1,2}[./-]\d{1,2})\s*\]`)
	timeRe     = regexp.MustCompile(`\[T\s+([^\]]+?)\s*\]`)
)

// Block is a sealed, immutable summary chunk. Text stays byte-identical
// across calls so the server-side prompt cache keeps hitting on it.
type Block struct {
	Text      string `json:"text"`
	TurnCount int    `json:"turn_count"`
}

// Compressor incrementally folds archived turns into sealed blocks. It
// assumes the archived list only ever grows at the tail between calls, which
// lets it skip everything already consumed instead of re-scanning sealed
// content.
type Compressor struct {
	actHeader    string
	sealed       []Block
	consumed     int
	pending      []string
	pendingTurns int
	headerSealed bool
}

// NewCompressor creates a compressor. actHeader is the one-time act-start
// text prefixed to the first sealed block; if no block is ever sealed the
// assembler places the header instead.
func NewCompressor(actHeader string) *Compressor {
	return &Compressor{actHeader: actHeader}
}

// Compress folds any newly archived turns and returns all sealed blocks, the
// current leftover buffer text, and whether the act-start header has been
// placed inside a sealed block. Idempotent for a repeated archived prefix.
func (c *Compressor) Compress(archived []*loom.Turn) (blocks []Block, leftover string, headerPlaced bool) {
	for ; c.consumed < len(archived); c.consumed++ {
		t := archived[c.consumed]
		if t.Role != llm.Model {
			continue
		}
		c.pending = append(c.pending, DeltaLine(t))
		c.pendingTurns++
		if c.pendingTurns == SealTurnCount {
			c.seal()
		}
	}
	return c.sealed, strings.Join(c.pending, "\n\n"), c.headerSealed
}

func (c *Compressor) seal() {
	text := strings.Join(c.pending, "\n\n")
	if len(c.sealed) == 0 && c.actHeader != "" {
		text = c.actHeader + "\n\n" + text
		c.headerSealed = true
	}
	c.sealed = append(c.sealed, Block{Text: text, TurnCount: c.pendingTurns})
	c.pending = nil
	c.pendingTurns = 0
}

// DeltaLine renders one archived model turn as a compact summary line: the
// narrative summary for story-intent turns (raw content otherwise), a
// date/time header extracted from the turn text, and any non-empty state
// log deltas as inline tagged lists.
func DeltaLine(t *loom.Turn) string {
	var sb strings.Builder
	if header := TimeHeader(t.Text); header != "" {
		sb.WriteString(header)
		sb.WriteString("\n")
	}
	if t.Intent.IsStory() && t.Summary != "" {
		sb.WriteString(t.Summary)
	} else {
		sb.WriteString(t.Text)
	}
	writeTagged(&sb, "Character", t.Logs.Character)
	writeTagged(&sb, "Inventory", t.Logs.Inventory)
	writeTagged(&sb, "Quest", t.Logs.Quest)
	writeTagged(&sb, "World", t.Logs.World)
	return sb.String()
}

func writeTagged(sb *strings.Builder, tag string, entries []string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n[%s] %s", tag, strings.Join(entries, " | "))
}

// TimeHeader extracts a date/time header from raw turn text. Calendar
// markers look like [2201.4.12]; time markers look like [T 08:30]. Multiple
// time markers in one turn collapse into a start~end range. Returns "" when
// the turn carries no markers.
func TimeHeader(text string) string {
	var date string
	if m := calendarRe.FindStringSubmatch(text); m != nil {
		date = m[1]
	}
	times := timeRe.FindAllStringSubmatch(text, -1)
	var clock string
	switch len(times) {
	case 0:
	case 1:
		clock = times[0][1]
	default:
		clock = times[0][1] + "~" + times[len(times)-1][1]
	}
	switch {
	case date != "" && clock != "":
		return "## " + date + " " + clock
	case date != "":
		return "## " + date
	case clock != "":
		return "## " + clock
	}
	return ""
}
