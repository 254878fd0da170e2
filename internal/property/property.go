// Package property resolves node properties that are either static values or
// expressions evaluated against a tree's blackboard.
//
// Resolution is polled, never awaited: a Resolver returns Pending until the
// value is available, and callers ask again on a later tick. Errors are
// returned as values so that the caller can turn them into a node Failure.
//
// Three resolvers are provided. Static returns literal values. Expr compiles
// expr-lang expressions and evaluates them synchronously, with the
// blackboard contents as the environment. JS evaluates JavaScript
// expressions on a goja event loop and is therefore asynchronous: the first
// request for a value dispatches it and returns Pending. Mux selects between
// them by the descriptor's language.
package property

import (
	"errors"
	"fmt"
)

// Lang names an expression language.
type Lang string

const (
	// LangDefault defers to the resolver's configured default language.
	LangDefault Lang = ""
	LangExpr    Lang = "expr"
	LangJS      Lang = "js"
)

// ErrUnsupportedLang is returned when no resolver is registered for a
// descriptor's language.
var ErrUnsupportedLang = errors.New("unsupported expression language")

// Descriptor declares a property: either a static Value, or an expression
// Source in language Lang.
type Descriptor struct {
	Value  any
	Source string
	Lang   Lang
}

// Literal returns a static descriptor.
func Literal(v any) Descriptor { return Descriptor{Value: v} }

// Expression returns a descriptor evaluated from source.
func Expression(lang Lang, source string) Descriptor {
	return Descriptor{Source: source, Lang: lang}
}

// IsStatic reports whether the descriptor holds a literal value.
func (d Descriptor) IsStatic() bool { return d.Source == "" }

// IsZero reports whether nothing was declared.
func (d Descriptor) IsZero() bool { return d.Source == "" && d.Value == nil }

func (d Descriptor) String() string {
	if d.IsStatic() {
		return fmt.Sprintf("%v", d.Value)
	}
	if d.Lang == LangDefault {
		return fmt.Sprintf("{source: %q}", d.Source)
	}
	return fmt.Sprintf("{%s: %q}", d.Lang, d.Source)
}

// Parse converts a decoded document value into a Descriptor. A map holding a
// "source" key is an expression (with an optional "lang"); a map holding
// exactly one of the keys "expr" or "js" is an expression in that language;
// anything else is a literal.
func Parse(v any) Descriptor {
	m, ok := v.(map[string]any)
	if !ok {
		return Literal(v)
	}
	if src, ok := m["source"].(string); ok {
		lang, _ := m["lang"].(string)
		return Expression(Lang(lang), src)
	}
	if len(m) == 1 {
		for _, lang := range []Lang{LangExpr, LangJS} {
			if src, ok := m[string(lang)].(string); ok {
				return Expression(lang, src)
			}
		}
	}
	return Literal(v)
}

// State is the outcome class of a resolution attempt.
type State uint8

const (
	StatePending State = iota
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Result is returned by Resolve.
type Result struct {
	State State
	Value any
	Err   error
}

// Pending returns a result asking the caller to poll again later.
func Pending() Result { return Result{State: StatePending} }

// Ready returns a resolved value.
func Ready(v any) Result { return Result{State: StateReady, Value: v} }

// Failed returns a resolution error.
func Failed(err error) Result { return Result{State: StateError, Err: err} }

// Request identifies one resolution. Key and Epoch let asynchronous
// resolvers match a poll to the evaluation they dispatched: the engine uses
// the requesting node and property as Key, and the node's run count as Epoch,
// so a result computed for an earlier run is never handed to a later one.
type Request struct {
	Key        any
	Epoch      uint64
	Scope      *Scope
	Descriptor Descriptor
}

// Resolver turns a property request into a value.
type Resolver interface {
	Resolve(req Request) Result
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(req Request) Result

func (f ResolverFunc) Resolve(req Request) Result { return f(req) }

// Static resolves literal descriptors only; expressions are an error.
var Static Resolver = ResolverFunc(func(req Request) Result {
	if !req.Descriptor.IsStatic() {
		return Failed(fmt.Errorf("%w: %q (static resolver)", ErrUnsupportedLang, req.Descriptor.Lang))
	}
	return Ready(req.Descriptor.Value)
})

// Mux dispatches expression descriptors by language. Literal descriptors are
// always ready.
type Mux struct {
	// Default is used for descriptors that do not name a language.
	Default   Lang
	resolvers map[Lang]Resolver
}

// NewMux returns a Mux with no languages registered.
func NewMux(def Lang) *Mux {
	return &Mux{Default: def, resolvers: make(map[Lang]Resolver)}
}

// Handle registers r for lang.
func (m *Mux) Handle(lang Lang, r Resolver) *Mux {
	m.resolvers[lang] = r
	return m
}

// Resolve implements Resolver.
func (m *Mux) Resolve(req Request) Result {
	d := req.Descriptor
	if d.IsStatic() {
		return Ready(d.Value)
	}
	lang := d.Lang
	if lang == LangDefault {
		lang = m.Default
	}
	r, ok := m.resolvers[lang]
	if !ok {
		return Failed(fmt.Errorf("%w: %q", ErrUnsupportedLang, lang))
	}
	return r.Resolve(req)
}

// Forgetter is implemented by resolvers that cache per-scope state.
type Forgetter interface {
	Forget(scope *Scope)
}

// Forget passes scope to every registered resolver implementing Forgetter.
func (m *Mux) Forget(scope *Scope) {
	for _, r := range m.resolvers {
		if f, ok := r.(Forgetter); ok {
			f.Forget(scope)
		}
	}
}
