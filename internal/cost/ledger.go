package cost

import (
	"sort"
	"strings"
	"sync"

	"github.com/jgarizk/brainpro/internal/config"
)

// Operation is one priced model call.
type Operation struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type ModelTotals struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Ledger accumulates token usage and spend per model. It is shared by every
// turn a process runs, so all methods are safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	prices map[string]config.PriceConfig
	totals map[string]*ModelTotals
}

func NewLedger(prices map[string]config.PriceConfig) *Ledger {
	copied := make(map[string]config.PriceConfig, len(prices))
	for model, p := range prices {
		copied[strings.ToLower(model)] = p
	}
	return &Ledger{
		prices: copied,
		totals: make(map[string]*ModelTotals),
	}
}

// Price returns the price for model. Entries ending in '*' match by prefix,
// and the longest matching prefix wins over shorter ones.
func (l *Ledger) Price(model string) (config.PriceConfig, bool) {
	key := strings.ToLower(model)
	if p, ok := l.prices[key]; ok {
		return p, true
	}
	best, bestLen, found := config.PriceConfig{}, -1, false
	for pattern, p := range l.prices {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			best, bestLen, found = p, len(prefix), true
		}
	}
	return best, found
}

// Record adds one call's usage. Unpriced models are tracked at zero cost.
func (l *Ledger) Record(model string, inputTokens, outputTokens int) Operation {
	if l == nil {
		return Operation{Model: model, InputTokens: inputTokens, OutputTokens: outputTokens}
	}
	price, _ := l.Price(model)
	op := Operation{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      (float64(inputTokens)*price.Input + float64(outputTokens)*price.Output) / 1_000_000,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.totals[model]
	if !ok {
		t = &ModelTotals{Model: model}
		l.totals[model] = t
	}
	t.Calls++
	t.InputTokens += inputTokens
	t.OutputTokens += outputTokens
	t.CostUSD += op.CostUSD
	return op
}

// Totals returns per-model totals ordered by model name.
func (l *Ledger) Totals() []ModelTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ModelTotals, 0, len(l.totals))
	for _, t := range l.totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, t := range l.totals {
		sum += t.CostUSD
	}
	return sum
}
