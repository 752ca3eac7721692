package rule

import (
	"context"
	"strings"

	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// Param is one named input parameter of a request. Parameter order is
// significant: it is part of node identity.
type Param struct {
	Name  string
	Value string
}

// Params is the ordered parameter list of a request or node.
type Params []Param

// Encode renders the params canonically for node identity and cache keys.
// '\x1f' and '\x1e' are unit/record separators, chosen so no printable
// parameter value can collide with the framing.
func (p Params) Encode() string {
	var b strings.Builder
	for _, param := range p {
		b.WriteString(param.Name)
		b.WriteByte('\x1f')
		b.WriteString(param.Value)
		b.WriteByte('\x1e')
	}
	return b.String()
}

// Get returns the value of the named parameter, or "".
func (p Params) Get(name string) string {
	for _, param := range p {
		if param.Name == name {
			return param.Value
		}
	}
	return ""
}

// Request is a typed ask for a value producible by exactly one rule. Type
// names the output type; Selector optionally disambiguates between rules
// producing the same type.
type Request struct {
	Type     string `json:"type"`
	Selector string `json:"selector,omitempty"`
	Params   Params `json:"params,omitempty"`
}

// Key renders the request canonically, for logs and replay records.
func (r Request) Key() string {
	key := r.Type
	if r.Selector != "" {
		key += "@" + r.Selector
	}
	if len(r.Params) > 0 {
		key += "{" + r.Params.Encode() + "}"
	}
	return key
}

// Value is a computed result: the decoded in-memory form plus the digest of
// its canonical encoding in the content store.
type Value struct {
	Digest digest.Digest
	Data   any
}

// Exec is the dependency-resolution capability handed to a rule body. Get
// suspends the calling computation until the dependency's result is
// available; GetAll resolves siblings concurrently. DeclarePath registers a
// filesystem dependency of the current node for change invalidation.
type Exec interface {
	Get(ctx context.Context, req Request) (Value, error)
	GetAll(ctx context.Context, reqs ...Request) ([]Value, error)
	DeclarePath(path string)
}

// BodyFunc is a rule body. It must be deterministic given the realized
// dependency results it observes through Exec.
type BodyFunc func(ctx context.Context, ex Exec, params Params) (any, error)

// Rule is a registered computation. Output (plus Selector) is what requests
// resolve against; Codec turns the body's return value into the canonical
// bytes that get digested and stored.
//
// SideEffecting marks rules whose bodies touch the world outside the graph
// (process execution). Their cache key additionally includes the engine's
// environment fingerprint.
type Rule struct {
	Name          string
	Output        string
	Selector      string
	Body          BodyFunc
	Codec         Codec
	SideEffecting bool
}
