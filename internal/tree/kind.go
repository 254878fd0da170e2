package tree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned by ParseKind for type names that do not map to a
// node kind.
var ErrUnknownKind = errors.New("unknown node kind")

// Kind is the closed set of node types understood by the engine.
type Kind uint8

const (
	// KindInvalid is the zero value, never assigned to a live node.
	KindInvalid Kind = iota
	KindAction
	KindSequence
	KindSequencer
	KindSelector
	KindAll
	KindAny
	KindUntilAll
	KindInverter
	KindRepeater
	KindSucceeder
	KindIdentity
	KindDelay
	KindWait
	KindTimeout
	KindGuard
	KindSubtree

	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid:   "invalid",
	KindAction:    "action",
	KindSequence:  "sequence",
	KindSequencer: "sequencer",
	KindSelector:  "selector",
	KindAll:       "all",
	KindAny:       "any",
	KindUntilAll:  "until_all",
	KindInverter:  "inverter",
	KindRepeater:  "repeater",
	KindSucceeder: "succeeder",
	KindIdentity:  "identity",
	KindDelay:     "delay",
	KindWait:      "wait",
	KindTimeout:   "timeout",
	KindGuard:     "guard",
	KindSubtree:   "subtree",
}

// kindAliases are accepted by ParseKind in addition to the canonical names.
var kindAliases = map[string]Kind{
	"gate":     KindGuard,
	"untilall": KindUntilAll,
	"fallback": KindSelector,
	"parallel": KindAll,
	"not":      KindInverter,
}

// String returns the canonical document type name.
func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a document type name (case-insensitive, '-' treated as '_')
// to a Kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for k := KindAction; k < kindCount; k++ {
		if kindNames[k] == n {
			return k, nil
		}
	}
	if k, ok := kindAliases[n]; ok {
		return k, nil
	}
	return KindInvalid, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// IsComposite reports whether nodes of this kind aggregate over any number
// of children.
func (k Kind) IsComposite() bool {
	switch k {
	case KindSequence, KindSequencer, KindSelector, KindAll, KindAny, KindUntilAll:
		return true
	}
	return false
}

// IsDecorator reports whether nodes of this kind wrap a single child.
func (k Kind) IsDecorator() bool {
	switch k {
	case KindInverter, KindRepeater, KindSucceeder, KindIdentity, KindDelay,
		KindWait, KindTimeout, KindGuard, KindSubtree:
		return true
	}
	return false
}

// IsParallel reports whether more than one child may hold the cursor at once.
func (k Kind) IsParallel() bool {
	switch k {
	case KindAll, KindAny, KindUntilAll:
		return true
	}
	return false
}
