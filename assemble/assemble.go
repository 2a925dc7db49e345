// Package assemble builds the final ordered message list sent to the model:
// sealed summary blocks first, then the leftover summary buffer merged into
// the recent turns, with the act-start header placed exactly once and the
// knowledge base attached either by cache reference or inline.
package assemble

import (
	"strings"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/summary"
)

// Injection markers. Injected segments start with one of these lines so a
// later rebuild can strip them from persisted turn text instead of
// injecting twice.
const (
	KnowledgeMarker = "[[reference-docs]]"
	SystemMarker    = "[[system-note]]"
)

// Input is everything the assembler needs for one call.
type Input struct {
	// Recent turns, sent verbatim.
	Recent []*loom.Turn

	// Blocks are the sealed summary blocks, in original order.
	Blocks []summary.Block

	// Leftover is the unsealed summary buffer text, recomputed per call.
	Leftover string

	// ActHeader is the one-time act-start header. HeaderPlaced is true
	// when the summary compressor already sealed it into the first block.
	ActHeader    string
	HeaderPlaced bool

	// Knowledge is the combined knowledge-base text. It is inlined into
	// the first message only when neither CacheActive nor KnowledgeFileURI
	// applies; an active cache carries it server-side.
	Knowledge   string
	CacheActive bool

	// KnowledgeFileURI references an uploaded knowledge file on providers
	// that store files instead of caches. Mutually exclusive with
	// CacheActive.
	KnowledgeFileURI string
}

// BuildContext produces the ordered message list for a generation call.
//
// The act-start header appears exactly once, at the earliest of: the first
// sealed block (handled by the compressor), the local act-start anchor turn
// inside the recent window, or the first recent message.
func BuildContext(in Input) []*llm.Message {
	headerPlaced := in.HeaderPlaced || in.ActHeader == ""

	messages := make([]*llm.Message, 0, len(in.Blocks)+len(in.Recent)+1)
	for _, t := range in.Recent {
		msg := turnToMessage(t)
		if !headerPlaced && t.Role == llm.Model && t.ID == loom.LocalStartTurnID {
			msg.AppendText("\n\n" + in.ActHeader)
			headerPlaced = true
		}
		messages = append(messages, msg)
	}

	// Merge the leftover buffer (and the header, if it still has no home)
	// into the first recent message.
	var prefix []string
	if !headerPlaced {
		prefix = append(prefix, in.ActHeader)
		headerPlaced = true
	}
	if in.Leftover != "" {
		prefix = append(prefix, in.Leftover)
	}
	if len(prefix) > 0 {
		text := strings.Join(prefix, "\n\n")
		if len(messages) == 0 {
			messages = append(messages, llm.NewUserTextMessage(text))
		} else {
			messages[0].PrependText(text + "\n\n")
		}
	}

	// Sealed blocks go in front, byte-identical across calls.
	if len(in.Blocks) > 0 {
		head := make([]*llm.Message, 0, len(in.Blocks))
		for _, b := range in.Blocks {
			head = append(head, llm.NewUserTextMessage(b.Text))
		}
		messages = append(head, messages...)
	}

	// Without an active cache the knowledge base rides at the very front,
	// either as an uploaded-file reference or inline text.
	switch {
	case in.CacheActive:
	case in.KnowledgeFileURI != "":
		part := llm.Part{FileURI: in.KnowledgeFileURI, MIMEType: "text/plain"}
		if len(messages) == 0 {
			messages = append(messages, &llm.Message{Role: llm.User, Parts: []llm.Part{part}})
		} else {
			messages[0].Parts = append([]llm.Part{part}, messages[0].Parts...)
		}
	case in.Knowledge != "":
		inline := KnowledgeMarker + "\n" + in.Knowledge + "\n\n"
		if len(messages) == 0 {
			messages = append(messages, llm.NewUserTextMessage(inline))
		} else {
			messages[0].PrependText(inline)
		}
	}

	return messages
}

// turnToMessage maps one recent turn to a provider message. Thought parts
// without a reusable signature are dropped (the provider cannot replay
// them), previously injected marker segments are stripped, and a model
// turn's own state delta is re-appended so the model does not regenerate
// state it already emitted.
func turnToMessage(t *loom.Turn) *llm.Message {
	msg := &llm.Message{Role: t.Role}
	if len(t.Parts) > 0 {
		for _, p := range t.Parts {
			if p.Thought && len(p.ThoughtSignature) == 0 {
				continue
			}
			if p.Text != "" && !p.Thought {
				p.Text = StripInjected(p.Text)
				if p.Text == "" {
					continue
				}
			}
			msg.Parts = append(msg.Parts, p)
		}
	} else if text := StripInjected(t.Text); text != "" {
		msg.Parts = append(msg.Parts, llm.Part{Text: text})
	}
	if t.Role == llm.Model {
		if delta := stateDelta(t); delta != "" {
			msg.AppendText("\n\n" + delta)
		}
	}
	return msg
}

// stateDelta renders the summary and state logs a model turn emitted.
func stateDelta(t *loom.Turn) string {
	if t.Summary == "" && t.Logs.Empty() {
		return ""
	}
	synthetic := &loom.Turn{
		Role:    llm.Model,
		Intent:  t.Intent,
		Summary: t.Summary,
		Text:    t.Summary,
		Logs:    t.Logs,
	}
	return SystemMarker + "\n" + summary.DeltaLine(synthetic)
}

// StripInjected removes previously injected marker segments from persisted
// turn text. A marker line and everything through the next blank line is
// dropped.
func StripInjected(text string) string {
	if !strings.Contains(text, KnowledgeMarker) && !strings.Contains(text, SystemMarker) {
		return text
	}
	lines := strings.Split(text, "\n")
	var kept []string
	skipping := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == KnowledgeMarker || trimmed == SystemMarker {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" {
				skipping = false
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
