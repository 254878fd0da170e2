package engine

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/joeycumines/ticktree/internal/action"
	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/tree"
)

// Payloads are owned by their node. Evaluators mutate only their own node's
// payload; everything visible to other nodes goes through commands.

type leafPayload struct {
	action action.Action
}

func (p *leafPayload) Reset() {
	if r, ok := p.action.(tree.Resetter); ok {
		r.Reset()
	}
}

// Action returns the leaf behind an action node's payload.
func Action(payload any) (action.Action, bool) {
	p, ok := payload.(*leafPayload)
	if !ok {
		return nil, false
	}
	return p.action, true
}

type sequencerPayload struct {
	random bool
	seed   uint64
	order  []int
	// orderSeed is the seed order was computed from.
	orderSeed uint64
}

// visit returns the child visiting order for n children.
func (p *sequencerPayload) visit(n int) []int {
	if len(p.order) == n && p.orderSeed == p.seed {
		return p.order
	}
	p.order = make([]int, n)
	for i := range p.order {
		p.order[i] = i
	}
	if p.random {
		r := rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))
		r.Shuffle(n, func(i, j int) { p.order[i], p.order[j] = p.order[j], p.order[i] })
	}
	p.orderSeed = p.seed
	return p.order
}

// RepeatPolicy selects when a Repeater stops re-running its child.
type RepeatPolicy uint8

const (
	RepeatForever RepeatPolicy = iota
	RepeatTimes
	RepeatUntilSuccess
	RepeatUntilFailure
)

func (p RepeatPolicy) String() string {
	switch p {
	case RepeatForever:
		return "forever"
	case RepeatTimes:
		return "times"
	case RepeatUntilSuccess:
		return "until_success"
	case RepeatUntilFailure:
		return "until_failure"
	default:
		return fmt.Sprintf("RepeatPolicy(%d)", uint8(p))
	}
}

// RepeaterPayload is exported so that callers can inspect the counter.
type RepeaterPayload struct {
	Policy   RepeatPolicy
	N        int
	Repeated int
}

// Reset implements tree.Resetter.
func (p *RepeaterPayload) Reset() { p.Repeated = 0 }

// parseRepeat accepts "forever", "until_success", "until_failure", an
// integer, or a mapping {times: n}.
func parseRepeat(v any) (RepeaterPayload, error) {
	switch t := v.(type) {
	case nil:
		return RepeaterPayload{Policy: RepeatForever}, nil
	case string:
		switch strings.ReplaceAll(strings.ToLower(t), "-", "_") {
		case "forever", "":
			return RepeaterPayload{Policy: RepeatForever}, nil
		case "until_success", "until_succeed", "until_succeeds":
			return RepeaterPayload{Policy: RepeatUntilSuccess}, nil
		case "until_failure", "until_fail", "until_fails":
			return RepeaterPayload{Policy: RepeatUntilFailure}, nil
		}
	case map[string]any:
		if n, ok := t["times"]; ok && len(t) == 1 {
			return parseTimes(n)
		}
	default:
		return parseTimes(v)
	}
	return RepeaterPayload{}, fmt.Errorf("invalid repeat policy %v", v)
}

func parseTimes(v any) (RepeaterPayload, error) {
	n, err := property.AsInt(v)
	if err != nil {
		return RepeaterPayload{}, fmt.Errorf("repeat times: %w", err)
	}
	if n < 0 {
		return RepeaterPayload{}, fmt.Errorf("repeat times must not be negative, got %d", n)
	}
	return RepeaterPayload{Policy: RepeatTimes, N: n}, nil
}

// timerPayload backs Delay, Wait and Timeout.
type timerPayload struct {
	duration property.Descriptor
	fail     property.Descriptor

	start    time.Time
	resolved bool
	d        time.Duration
}

func (p *timerPayload) Reset() {
	p.start = time.Time{}
	p.resolved = false
	p.d = 0
}

func (p *timerPayload) started(now time.Time) { p.start = now }

type guardPayload struct {
	cond property.Descriptor
}

type subtreePayload struct {
	path    string
	handle  document.Handle
	loading bool
	release func(document.Handle)
}

// Reset drops an in-flight load, returning its handle to the loader.
func (p *subtreePayload) Reset() {
	if p.loading && p.release != nil {
		p.release(p.handle)
	}
	p.loading = false
	p.release = nil
}

// starter is implemented by payloads that latch state when their node is
// started.
type starter interface {
	started(now time.Time)
}
