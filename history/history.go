// Package history selects the turns eligible for model context and splits
// them into an archived half (bound for summarization) and a recent half
// (sent verbatim).
package history

import (
	"github.com/storyloom/loom"
)

// Recent-window sizes per mode.
const (
	smartRecentTurns      = 20
	summarizedRecentTurns = 2
)

// FilterEligible returns the turns visible to the model. Reference-only and
// hidden turns are dropped, except that a reference-only turn carrying a
// tool response stays: dropping it would orphan the model's tool call.
func FilterEligible(turns []*loom.Turn) []*loom.Turn {
	eligible := make([]*loom.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Flags.Hidden {
			continue
		}
		if t.Flags.ReferenceOnly && !t.HasFunctionResponse() {
			continue
		}
		eligible = append(eligible, t)
	}
	return eligible
}

// SplitWindow divides eligible turns into archived and recent halves
// according to mode. The returned slices share backing storage with the
// input; callers must not mutate.
func SplitWindow(turns []*loom.Turn, mode loom.HistoryMode) (archived, recent []*loom.Turn) {
	split := splitIndex(len(turns), mode)
	return turns[:split], turns[split:]
}

func splitIndex(n int, mode loom.HistoryMode) int {
	var keep int
	switch mode {
	case loom.HistoryModeFull:
		return 0
	case loom.HistoryModeSummarized:
		keep = summarizedRecentTurns
	default:
		keep = smartRecentTurns
	}
	if keep >= n {
		return 0
	}
	return n - keep
}

// Select filters and splits in one step.
func Select(turns []*loom.Turn, mode loom.HistoryMode) (archived, recent []*loom.Turn) {
	return SplitWindow(FilterEligible(turns), mode)
}
