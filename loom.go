// Package loom contains the core domain types for a turn-based interactive
// narrative driven by a streaming LLM provider: conversation turns, derived
// world-state logs, and the append-only usage history that backs cost
// accounting.
//
// The packages under this module split the pipeline the way the data flows:
// history selects and windows turns, summary folds archived turns into
// cache-stable blocks, assemble produces the final message list, promptcache
// keeps the server-side prompt cache alive, decode reconstructs structured
// fields from the response stream, and cost turns usage into dollars.
package loom

// HistoryMode selects how much raw history is sent to the model verbatim.
type HistoryMode string

const (
	// HistoryModeFull sends every eligible turn verbatim.
	HistoryModeFull HistoryMode = "full"

	// HistoryModeSmart keeps the most recent turns verbatim and
	// summarizes the rest.
	HistoryModeSmart HistoryMode = "smart"

	// HistoryModeSummarized keeps only the last exchange verbatim.
	HistoryModeSummarized HistoryMode = "summarized"
)

// LocalStartTurnID identifies the locally generated opening turn of an act.
// The assembler anchors the act-start header to this turn when it is still
// inside the recent window.
const LocalStartTurnID = "local-start"
