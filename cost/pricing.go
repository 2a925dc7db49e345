// Package cost converts token usage into dollars: per-turn generation cost
// against tiered model pricing, continuous storage accrual while a prompt
// cache is alive, and replay of historical usage against alternate tiers.
package cost

import (
	"sync"

	"github.com/storyloom/loom/llm"
)

// Tier holds USD rates per one million tokens. StorageRate is per one
// million cached tokens per hour. PromptThreshold scopes the tier: it
// applies when the prompt token count exceeds the threshold.
type Tier struct {
	InputRate       float64 `json:"input_rate" yaml:"input_rate"`
	OutputRate      float64 `json:"output_rate" yaml:"output_rate"`
	CachedRate      float64 `json:"cached_rate" yaml:"cached_rate"`
	StorageRate     float64 `json:"storage_rate" yaml:"storage_rate"`
	PromptThreshold int     `json:"prompt_threshold,omitempty" yaml:"prompt_threshold,omitempty"`
}

// Pricing is the tier table for one model, ordered by ascending threshold
// with the base tier (threshold 0) first.
type Pricing struct {
	Model string `json:"model" yaml:"model"`
	Tiers []Tier `json:"tiers" yaml:"tiers"`
}

// TierFor selects the tier applying to the given prompt size.
func (p Pricing) TierFor(promptTokens int) Tier {
	if len(p.Tiers) == 0 {
		return Tier{}
	}
	selected := p.Tiers[0]
	for _, t := range p.Tiers[1:] {
		if promptTokens > t.PromptThreshold {
			selected = t
		}
	}
	return selected
}

// TurnCost prices one generation call. Fresh input is the prompt minus the
// cached prefix; when a provider reports more cached than prompt tokens the
// full prompt count is used instead of going negative. That clamp mirrors
// inconsistent provider accounting and is deliberately conservative.
func TurnCost(u llm.Usage, t Tier) float64 {
	fresh := u.PromptTokens - u.CachedTokens
	if u.CachedTokens > u.PromptTokens {
		fresh = u.PromptTokens
	}
	return float64(fresh)/1e6*t.InputRate +
		float64(u.OutputTokens)/1e6*t.OutputRate +
		float64(u.CachedTokens)/1e6*t.CachedRate
}

// Replay recomputes the total cost of a usage history against an arbitrary
// pricing table, without touching the network. Used for "what if I'd used
// model X" comparisons.
func Replay(history []llm.Usage, p Pricing) float64 {
	var total float64
	for _, u := range history {
		total += TurnCost(u, p.TierFor(u.PromptTokens))
	}
	return total
}

// Accountant accumulates a session's token usage and spend. Totals and the
// sunk-usage history are append-only: deleting or rewinding turns moves
// their usage into the sunk list, it never subtracts.
type Accountant struct {
	mu        sync.Mutex
	totals    llm.Usage
	records   []llm.Usage
	sunk      []llm.Usage
	totalCost float64
}

// NewAccountant creates an empty accountant.
func NewAccountant() *Accountant {
	return &Accountant{}
}

// RecordTurn adds one turn's usage and returns the cost charged for it.
func (a *Accountant) RecordTurn(u llm.Usage, p Pricing) float64 {
	c := TurnCost(u, p.TierFor(u.PromptTokens))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals.Add(&u)
	a.records = append(a.records, u)
	a.totalCost += c
	return c
}

// Sink records usage belonging to a turn that was deleted or rewound. The
// spend already happened, so it is preserved rather than discarded.
func (a *Accountant) Sink(u llm.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sunk = append(a.sunk, u)
}

// Totals returns the cumulative usage.
func (a *Accountant) Totals() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// TotalCost returns the cumulative generation spend in USD.
func (a *Accountant) TotalCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCost
}

// Records returns a copy of the per-turn usage history.
func (a *Accountant) Records() []llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Usage(nil), a.records...)
}

// SunkHistory returns a copy of the sunk-usage list.
func (a *Accountant) SunkHistory() []llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Usage(nil), a.sunk...)
}

// Snapshot is the accountant's persisted form.
type Snapshot struct {
	Totals    llm.Usage   `json:"totals"`
	Records   []llm.Usage `json:"records,omitempty"`
	Sunk      []llm.Usage `json:"sunk,omitempty"`
	TotalCost float64     `json:"total_cost"`
}

// Snapshot returns the current state for persistence.
func (a *Accountant) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Totals:    a.totals,
		Records:   append([]llm.Usage(nil), a.records...),
		Sunk:      append([]llm.Usage(nil), a.sunk...),
		TotalCost: a.totalCost,
	}
}

// Restore replaces the accountant state from a persisted snapshot.
func (a *Accountant) Restore(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals = s.Totals
	a.records = append([]llm.Usage(nil), s.Records...)
	a.sunk = append([]llm.Usage(nil), s.Sunk...)
	a.totalCost = s.TotalCost
}
