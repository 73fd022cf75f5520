package exit

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds exit rules in priority order; the first rule that fires wins.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
	index map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// DefaultRegistry returns the single-sided policy in evaluation order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, rule := range []Rule{
		profitTarget{},
		trailingProfit{},
		stopLoss{},
		nearResolution{},
		likelyLoser{},
		stale{},
		maxHold{},
	} {
		r.Register(rule)
	}
	return r
}

// Register appends rule; a rule with an existing ID replaces it in place.
func (r *Registry) Register(rule Rule) {
	if r == nil || rule == nil {
		return
	}
	id := strings.TrimSpace(rule.ID())
	if id == "" {
		panic("exit rule registration: empty ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		r.rules[i] = rule
		return
	}
	r.index[id] = len(r.rules)
	r.rules = append(r.rules, rule)
}

func (r *Registry) Rule(id string) (Rule, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	return r.rules[i], true
}

func (r *Registry) MustRule(id string) Rule {
	if rule, ok := r.Rule(id); ok {
		return rule
	}
	panic(fmt.Sprintf("exit rule not registered: %s", id))
}

// IDs returns rule IDs in evaluation order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.ID()
	}
	return out
}

// Evaluate runs the rules in order and returns the first verdict.
func (r *Registry) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	r.mu.RLock()
	rules := append([]Rule(nil), r.rules...)
	r.mu.RUnlock()
	for _, rule := range rules {
		if v, ok := rule.Evaluate(p, th); ok {
			return v, true
		}
	}
	return Verdict{}, false
}
