// internal/models/ledger.go
package models

// LedgerEntry records token consumption for one stage.
type LedgerEntry struct {
	Stage  string `json:"stage"`
	Tokens int    `json:"tokens"`
}

// TokenLedger accumulates per-stage token usage across a single pipeline run.
// The orchestrator owns it and updates it from one goroutine; parallel source
// executions report their usage through the execution stage total.
type TokenLedger struct {
	entries []LedgerEntry
	index   map[string]int
}

// NewTokenLedger returns an empty ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{index: make(map[string]int)}
}

// Add accumulates tokens for a stage. Negative counts are ignored.
func (l *TokenLedger) Add(stage string, tokens int) {
	if tokens <= 0 {
		return
	}
	if i, ok := l.index[stage]; ok {
		l.entries[i].Tokens += tokens
		return
	}
	l.index[stage] = len(l.entries)
	l.entries = append(l.entries, LedgerEntry{Stage: stage, Tokens: tokens})
}

// Total returns the sum over all stages.
func (l *TokenLedger) Total() int {
	total := 0
	for _, e := range l.entries {
		total += e.Tokens
	}
	return total
}

// StageTokens returns the count recorded for one stage.
func (l *TokenLedger) StageTokens(stage string) int {
	if i, ok := l.index[stage]; ok {
		return l.entries[i].Tokens
	}
	return 0
}

// Entries returns a copy of the per-stage records in insertion order.
func (l *TokenLedger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByStage returns the counts as a map.
func (l *TokenLedger) ByStage() map[string]int {
	out := make(map[string]int, len(l.entries))
	for _, e := range l.entries {
		out[e.Stage] = e.Tokens
	}
	return out
}

// Credits converts total tokens to billing credits, rounding any partial
// block up. 999 tokens and 1000 tokens both cost one credit at block 1000;
// 1001 costs two.
func (l *TokenLedger) Credits(tokensPerCredit int) int {
	if tokensPerCredit <= 0 {
		tokensPerCredit = 1000
	}
	total := l.Total()
	if total == 0 {
		return 0
	}
	return (total + tokensPerCredit - 1) / tokensPerCredit
}
