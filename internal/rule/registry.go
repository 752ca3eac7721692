package rule

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NoRuleFoundError reports a request no registered rule can satisfy. Known
// lists the registered output types to make typos diagnosable.
type NoRuleFoundError struct {
	Request Request
	Known   []string
}

func (e *NoRuleFoundError) Error() string {
	return fmt.Sprintf("no rule produces %q (registered outputs: %s)", e.Request.Key(), strings.Join(e.Known, ", "))
}

// AmbiguousRuleError reports a request more than one registered rule could
// satisfy, listing every candidate.
type AmbiguousRuleError struct {
	Request    Request
	Candidates []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("request %q matches %d rules: %s", e.Request.Key(), len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// ErrRegistryFrozen reports a registration attempt after scheduling began.
type ErrRegistryFrozen struct {
	Rule string
}

func (e *ErrRegistryFrozen) Error() string {
	return fmt.Sprintf("cannot register rule %q: registry is frozen", e.Rule)
}

// Registry holds all registered rules for one engine instance. It has a
// two-phase lifecycle: open for registration at startup, frozen before the
// first scheduling call.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	byName   map[string]*Rule
	byOutput map[string][]*Rule
}

// NewRegistry creates an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Rule),
		byOutput: make(map[string][]*Rule),
	}
}

// Register adds a rule. It fails on a frozen registry, a duplicate name, or
// a rule missing its name, output, body, or codec.
func (r *Registry) Register(rl *Rule) error {
	if rl.Name == "" || rl.Output == "" {
		return fmt.Errorf("rule must declare a name and an output type, got name=%q output=%q", rl.Name, rl.Output)
	}
	if rl.Body == nil {
		return fmt.Errorf("rule %q has no body", rl.Name)
	}
	if rl.Codec == nil {
		return fmt.Errorf("rule %q has no codec", rl.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return &ErrRegistryFrozen{Rule: rl.Name}
	}
	if _, exists := r.byName[rl.Name]; exists {
		return fmt.Errorf("rule with name %q already registered", rl.Name)
	}
	r.byName[rl.Name] = rl
	r.byOutput[rl.Output] = append(r.byOutput[rl.Output], rl)
	return nil
}

// Freeze closes the registry for registration. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether scheduling may begin.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the rule registered under name.
func (r *Registry) Lookup(name string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.byName[name]
	return rl, ok
}

// Resolve finds the single rule able to satisfy the request: exact output
// type match, narrowed by selector when the request carries one.
func (r *Registry) Resolve(req Request) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.byOutput[req.Type]
	if req.Selector != "" {
		var narrowed []*Rule
		for _, rl := range candidates {
			if rl.Selector == req.Selector {
				narrowed = append(narrowed, rl)
			}
		}
		candidates = narrowed
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return nil, &NoRuleFoundError{Request: req, Known: r.knownOutputsLocked()}
	default:
		names := make([]string, len(candidates))
		for i, rl := range candidates {
			names[i] = rl.Name
		}
		sort.Strings(names)
		return nil, &AmbiguousRuleError{Request: req, Candidates: names}
	}
}

func (r *Registry) knownOutputsLocked() []string {
	outputs := make([]string, 0, len(r.byOutput))
	for out := range r.byOutput {
		outputs = append(outputs, out)
	}
	sort.Strings(outputs)
	return outputs
}
