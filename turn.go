package loom

import (
	"github.com/google/uuid"

	"github.com/storyloom/loom/llm"
)

// Intent classifies what a turn was trying to do. Story-intent model turns
// carry a narrative summary and derived state logs; other intents are sent
// raw when archived.
type Intent string

const (
	IntentStory      Intent = "story"
	IntentMeta       Intent = "meta"
	IntentCorrection Intent = "correction"
)

// IsStory reports whether the intent produces narrative state.
func (i Intent) IsStory() bool {
	return i == IntentStory || i == IntentCorrection
}

// TurnFlags mark how a turn participates in context assembly.
type TurnFlags struct {
	// ReferenceOnly excludes the turn from generated context. Set by
	// correction compensation; the turn stays in history for audit.
	ReferenceOnly bool `json:"reference_only,omitempty"`

	// Hidden excludes the turn from context and from display.
	Hidden bool `json:"hidden,omitempty"`

	// Correction marks a model turn that retroactively invalidated an
	// earlier story turn.
	Correction bool `json:"correction,omitempty"`

	// Failed marks a turn whose generation hit a transport error.
	Failed bool `json:"failed,omitempty"`
}

// DerivedLogs are the incremental world-state deltas a story turn emitted.
type DerivedLogs struct {
	Character []string `json:"character,omitempty"`
	Inventory []string `json:"inventory,omitempty"`
	Quest     []string `json:"quest,omitempty"`
	World     []string `json:"world,omitempty"`
}

// Empty reports whether no deltas were emitted.
func (d DerivedLogs) Empty() bool {
	return len(d.Character) == 0 && len(d.Inventory) == 0 &&
		len(d.Quest) == 0 && len(d.World) == 0
}

// Turn is one entry in the conversation. Turns are created on user input or
// model completion, mutated only by correction and rewind operations, and
// immutable once archived into a sealed summary block.
type Turn struct {
	ID      string      `json:"id"`
	Role    llm.Role    `json:"role"`
	Text    string      `json:"text"`
	Parts   []llm.Part  `json:"parts,omitempty"`
	Usage   *llm.Usage  `json:"usage,omitempty"`
	Flags   TurnFlags   `json:"flags,omitempty"`
	Intent  Intent      `json:"intent,omitempty"`
	Logs    DerivedLogs `json:"logs,omitempty"`
	Summary string      `json:"summary,omitempty"`
}

// NewUserTurn creates a user turn with a fresh ID.
func NewUserTurn(text string) *Turn {
	return &Turn{ID: uuid.NewString(), Role: llm.User, Text: text, Intent: IntentStory}
}

// NewModelTurn creates a model turn with a fresh ID.
func NewModelTurn(text string) *Turn {
	return &Turn{ID: uuid.NewString(), Role: llm.Model, Text: text, Intent: IntentStory}
}

// HasFunctionResponse reports whether the turn carries a tool result. Such
// turns stay visible to the model even when reference-only, to preserve
// call/response pairing.
func (t *Turn) HasFunctionResponse() bool {
	for _, p := range t.Parts {
		if p.FunctionResponse != nil {
			return true
		}
	}
	return false
}

// MarkCorrected walks backward through turns for the most recent
// non-reference, story-intent model turn and marks it and its paired user
// turn reference-only. This is a compensating transaction: nothing is
// deleted, so audit history and sunk usage survive. Returns the corrected
// model turn, or nil if none was found.
func MarkCorrected(turns []*Turn) *Turn {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != llm.Model || t.Flags.ReferenceOnly || !t.Intent.IsStory() {
			continue
		}
		t.Flags.ReferenceOnly = true
		if i > 0 && turns[i-1].Role == llm.User {
			turns[i-1].Flags.ReferenceOnly = true
		}
		return t
	}
	return nil
}
