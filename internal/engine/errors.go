package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/store"
)

// Kind classifies engine errors so callers can decide whether to retry.
type Kind int

const (
	KindUnknown Kind = iota
	KindCyclicDependency
	KindNoRuleFound
	KindAmbiguousRule
	KindNotFound
	KindExecutionFailure
	KindTimeout
	KindCancelled
	KindInfrastructure
	KindConfiguration
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCyclicDependency:
		return "cyclic-dependency"
	case KindNoRuleFound:
		return "no-rule-found"
	case KindAmbiguousRule:
		return "ambiguous-rule"
	case KindNotFound:
		return "not-found"
	case KindExecutionFailure:
		return "execution-failure"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindInfrastructure:
		return "infrastructure"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the structured engine error: a kind, the node that reported it,
// and the dependency chain from that node down to the root cause
// (innermost last).
type Error struct {
	Kind  Kind
	Node  string
	Chain []string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Node != "" {
		fmt.Fprintf(&b, ": node %s", e.Node)
	}
	if len(e.Chain) > 0 {
		fmt.Fprintf(&b, " (via %s)", strings.Join(e.Chain, " -> "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from any error produced by the engine.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return classify(err)
}

// classify maps foreign errors onto kinds.
func classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case store.IsNotFound(err):
		return KindNotFound
	default:
		var noRule *rule.NoRuleFoundError
		var ambiguous *rule.AmbiguousRuleError
		var frozen *rule.ErrRegistryFrozen
		switch {
		case errors.As(err, &noRule):
			return KindNoRuleFound
		case errors.As(err, &ambiguous):
			return KindAmbiguousRule
		case errors.As(err, &frozen):
			return KindConfiguration
		}
		return KindExecutionFailure
	}
}

// wrapNode wraps an error with the identity of the node reporting it,
// extending the dependency chain so the top-level caller sees the full
// causal path.
func wrapNode(node string, err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		chain := make([]string, 0, len(inner.Chain)+1)
		if inner.Node != "" {
			chain = append(chain, inner.Node)
		}
		chain = append(chain, inner.Chain...)
		return &Error{Kind: inner.Kind, Node: node, Chain: chain, Err: err}
	}
	return &Error{Kind: classify(err), Node: node, Err: err}
}

// memoizable reports whether a failure should be memoized for the epoch.
// Cancellation and timeouts are transient: a later demand retries.
func memoizable(err error) bool {
	if err == nil {
		return true
	}
	k := KindOf(err)
	return k != KindCancelled && k != KindTimeout
}
