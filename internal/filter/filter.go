// Package filter implements the Symbol Filter: a per-symbol minimum
// liquidity admission rule whose rule set can be swapped atomically at
// runtime without blocking concurrent readers.
package filter

import (
	"sync/atomic"

	"github.com/qzavyer/hypernode-orderfeed/internal/metrics"
	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

// Filter gates order admission on price*size against a per-symbol minimum.
// Rule replacement is lock-free: readers always see a complete, consistent
// snapshot, never a partially-updated rule set.
type Filter struct {
	rules   atomic.Pointer[map[string]ordermodel.SymbolRule]
	metrics *metrics.Registry
}

// New creates a Filter with an initial rule set.
func New(rules []ordermodel.SymbolRule) *Filter {
	f := &Filter{}
	f.Replace(rules)
	return f
}

// SetMetrics installs the counters Admit reports admission and rejection
// counts to. Every call site (the Store and the Reactive Search Engine
// both gate through Admit) is covered by wiring it in once here.
func (f *Filter) SetMetrics(m *metrics.Registry) {
	f.metrics = m
}

// Replace atomically swaps in a new rule set. In-flight Admits using the
// old snapshot complete against it; nothing observes a partial update.
func (f *Filter) Replace(rules []ordermodel.SymbolRule) {
	m := make(map[string]ordermodel.SymbolRule, len(rules))
	for _, r := range rules {
		m[r.Symbol] = r
	}
	f.rules.Store(&m)
}

// Admit reports whether an order of the given symbol, price and size meets
// the symbol's minimum liquidity. A symbol with no configured rule is
// rejected: admission requires an explicit rule.
func (f *Filter) Admit(symbol string, price, size float64) bool {
	admitted := f.admit(symbol, price, size)
	if f.metrics != nil {
		if admitted {
			f.metrics.Admitted.Inc()
		} else {
			f.metrics.FilterRejected.Inc()
		}
	}
	return admitted
}

func (f *Filter) admit(symbol string, price, size float64) bool {
	snapshot := f.rules.Load()
	if snapshot == nil {
		return false
	}
	rule, ok := (*snapshot)[symbol]
	if !ok {
		return false
	}
	return price*size >= rule.MinimumLiquidity
}

// Rule returns the currently configured rule for symbol, if any.
func (f *Filter) Rule(symbol string) (ordermodel.SymbolRule, bool) {
	snapshot := f.rules.Load()
	if snapshot == nil {
		return ordermodel.SymbolRule{}, false
	}
	rule, ok := (*snapshot)[symbol]
	return rule, ok
}
