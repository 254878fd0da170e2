package engine

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/joeycumines/ticktree/internal/action"
	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/tree"
)

// eval is the view of one node handed to its evaluator.
type eval struct {
	w     *World
	id    tree.NodeID
	n     *tree.Node
	fresh bool
}

func (e *eval) push(c command) {
	c.node = e.id
	e.w.cmds = append(e.w.cmds, c)
}

func (e *eval) succeed() { e.push(command{op: opComplete, status: tree.Success}) }

func (e *eval) fail(err error) { e.push(command{op: opComplete, status: tree.Failure, err: err}) }

func (e *eval) finish(s tree.Status) {
	if s == tree.Success {
		e.succeed()
	} else {
		e.fail(nil)
	}
}

func (e *eval) delegate(child tree.NodeID) { e.push(command{op: opDelegate, child: child}) }

func (e *eval) fork(child tree.NodeID) { e.push(command{op: opFork, child: child}) }

func (e *eval) yield() { e.push(command{op: opYield}) }

func (e *eval) shortCircuit(s tree.Status, err error) {
	e.push(command{op: opShortCircuit, status: s, err: err})
}

func (e *eval) child(id tree.NodeID) *tree.Node { return e.w.store.Node(id) }

// warn logs a structural problem once per run.
func (e *eval) warn(msg string, args ...any) {
	if !e.fresh {
		return
	}
	e.w.logger.Warn(msg, append([]any{"node", e.id, "name", e.n.Name, "kind", e.n.Kind.String()}, args...)...)
}

// failStructural fails the node for a wiring defect.
func (e *eval) failStructural(format string, args ...any) {
	err := fmt.Errorf("%w: "+format, append([]any{tree.ErrMalformedTree}, args...)...)
	e.w.logger.Warn("structural failure", "node", e.id, "name", e.n.Name, "kind", e.n.Kind.String(), "error", err)
	e.fail(err)
}

// single returns the decorated child. Extra children are ignored with a
// warning.
func (e *eval) single() (tree.NodeID, bool) {
	switch len(e.n.Children) {
	case 0:
		return tree.None, false
	case 1:
	default:
		e.warn("decorator has more than one child, using the first", "children", len(e.n.Children))
	}
	return e.n.Children[0], true
}

// linked reports whether child exists and points back at this node.
func (e *eval) linked(child tree.NodeID) bool {
	c := e.child(child)
	return c != nil && c.Parent == e.id
}

// passThrough is Identity over child: delegate when idle, copy the result
// when done.
func (e *eval) passThrough(child tree.NodeID) {
	c := e.child(child)
	switch {
	case c == nil:
		e.failStructural("child %d not found", child)
	case c.Status == tree.Idle:
		e.delegate(child)
	case c.Status.Done():
		e.finish(c.Status)
	default:
		e.yield()
	}
}

type propKey struct {
	node tree.NodeID
	name string
}

// resolve resolves a property of this node in its tree's scope.
func (e *eval) resolve(name string, d property.Descriptor) property.Result {
	if d.IsStatic() {
		return property.Ready(d.Value)
	}
	return e.w.resolver.Resolve(property.Request{
		Key:        propKey{e.id, name},
		Epoch:      e.w.Runs(e.id),
		Scope:      e.w.Scope(e.id),
		Descriptor: d,
	})
}

// resolveFailed logs and fails on a resolution error.
func (e *eval) resolveFailed(name string, err error) {
	e.w.logger.Error("property resolution failed", "node", e.id, "name", e.n.Name, "kind", e.n.Kind.String(), "property", name, "error", err)
	e.fail(fmt.Errorf("resolve %s: %w", name, err))
}

var evaluators = map[tree.Kind]func(*eval){
	tree.KindAction:    evalAction,
	tree.KindSequence:  evalSequence,
	tree.KindSequencer: evalSequencer,
	tree.KindSelector:  evalSelector,
	tree.KindAll:       evalAll,
	tree.KindAny:       evalAny,
	tree.KindUntilAll:  evalUntilAll,
	tree.KindInverter:  evalInverter,
	tree.KindRepeater:  evalRepeater,
	tree.KindSucceeder: evalSucceeder,
	tree.KindIdentity:  evalIdentity,
	tree.KindDelay:     evalDelay,
	tree.KindWait:      evalWait,
	tree.KindTimeout:   evalTimeout,
	tree.KindGuard:     evalGuard,
	tree.KindSubtree:   evalSubtree,
}

func evalUnknown(e *eval) {
	e.failStructural("no evaluator for kind %s", e.n.Kind)
}

func evaluatorFor(k tree.Kind) func(*eval) {
	if f, ok := evaluators[k]; ok {
		return f
	}
	return evalUnknown
}

func evalAction(e *eval) {
	a, ok := Action(e.n.Payload)
	if !ok {
		e.failStructural("action node without an action")
		return
	}
	if len(e.n.Children) > 0 {
		e.warn("action node has children, ignoring them", "children", len(e.n.Children))
	}
	w := e.w
	scope := w.Scope(e.id)
	ctx := &action.Context{
		Ctx:    w.ctx,
		Node:   e.id,
		Name:   e.n.Name,
		Tick:   w.tick,
		Now:    w.clock.Now(),
		Scope:  scope,
		Logger: w.logger,
		Fresh:  e.fresh,
		Resolver: func(key string, d property.Descriptor) property.Result {
			return e.resolve(key, d)
		},
	}
	status, err := tickAction(a, ctx)
	switch {
	case err != nil:
		w.logger.Error("action failed", "node", e.id, "name", e.n.Name, "error", err)
		e.fail(err)
	case status == tree.Running:
	case status.Done():
		e.finish(status)
	default:
		e.fail(fmt.Errorf("action returned %s", status))
	}
}

func tickAction(a action.Action, ctx *action.Context) (status tree.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = tree.Failure, fmt.Errorf("action panic: %v\n%s", r, debug.Stack())
		}
	}()
	return a.Tick(ctx)
}

// sequence visits children in order: the first failure fails, the first
// idle child is delegated to, and all successes succeed.
func sequence(e *eval, order []int) {
	for _, i := range order {
		cid := e.n.Children[i]
		c := e.child(cid)
		if c == nil {
			e.failStructural("child %d not found", cid)
			return
		}
		switch c.Status {
		case tree.Success:
			continue
		case tree.Failure:
			e.fail(nil)
		case tree.Idle:
			e.delegate(cid)
		default:
			e.yield()
		}
		return
	}
	e.succeed()
}

func inOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func evalSequence(e *eval) { sequence(e, inOrder(len(e.n.Children))) }

func evalSequencer(e *eval) {
	p, ok := e.n.Payload.(*sequencerPayload)
	if !ok {
		e.failStructural("sequencer without payload")
		return
	}
	sequence(e, p.visit(len(e.n.Children)))
}

func evalSelector(e *eval) {
	for _, cid := range e.n.Children {
		c := e.child(cid)
		if c == nil {
			e.failStructural("child %d not found", cid)
			return
		}
		switch c.Status {
		case tree.Failure:
			continue
		case tree.Success:
			e.succeed()
		case tree.Idle:
			e.delegate(cid)
		default:
			e.yield()
		}
		return
	}
	if len(e.n.Children) == 0 {
		e.succeed()
		return
	}
	e.fail(nil)
}

// parallel starts every idle child and then yields. The node completes with
// trigger, halting its other children, as soon as any child resolves to
// trigger, and with the opposite status once every child resolved the other
// way. Running children keep their own cursor.
func parallel(e *eval, trigger tree.Status) {
	var idle []tree.NodeID
	done := 0
	for _, cid := range e.n.Children {
		c := e.child(cid)
		if c == nil {
			e.failStructural("child %d not found", cid)
			return
		}
		switch {
		case c.Status == trigger:
			e.shortCircuit(trigger, nil)
			return
		case c.Status.Done():
			done++
		case c.Status == tree.Idle:
			idle = append(idle, cid)
		}
	}
	if done == len(e.n.Children) {
		if len(e.n.Children) == 0 {
			e.succeed()
		} else if trigger == tree.Failure {
			e.succeed()
		} else {
			e.fail(nil)
		}
		return
	}
	for _, cid := range idle {
		e.delegate(cid)
	}
	e.yield()
}

func evalAll(e *eval) { parallel(e, tree.Failure) }

func evalAny(e *eval) { parallel(e, tree.Success) }

// evalUntilAll is All plus a parent-link check on every child, every tick.
func evalUntilAll(e *eval) {
	for _, cid := range e.n.Children {
		if !e.linked(cid) {
			e.failStructural("child %d is not linked to until_all node %d", cid, e.id)
			return
		}
	}
	parallel(e, tree.Failure)
}

func evalInverter(e *eval) {
	cid, ok := e.single()
	if !ok {
		e.succeed()
		return
	}
	c := e.child(cid)
	switch {
	case c == nil:
		e.failStructural("child %d not found", cid)
	case c.Status == tree.Success:
		e.fail(nil)
	case c.Status == tree.Failure:
		e.succeed()
	case c.Status == tree.Idle:
		e.delegate(cid)
	default:
		e.yield()
	}
}

func evalSucceeder(e *eval) {
	cid, ok := e.single()
	if !ok {
		e.succeed()
		return
	}
	if !e.linked(cid) {
		e.failStructural("child %d is not linked to succeeder %d", cid, e.id)
		return
	}
	c := e.child(cid)
	switch {
	case c.Status.Done():
		e.succeed()
	case c.Status == tree.Idle:
		e.delegate(cid)
	default:
		e.yield()
	}
}

func evalIdentity(e *eval) {
	cid, ok := e.single()
	if !ok {
		e.failStructural("identity has no child")
		return
	}
	e.passThrough(cid)
}

func evalRepeater(e *eval) {
	p, ok := e.n.Payload.(*RepeaterPayload)
	if !ok {
		e.failStructural("repeater without payload")
		return
	}
	cid, ok := e.single()
	if !ok {
		e.succeed()
		return
	}
	c := e.child(cid)
	if c == nil {
		e.failStructural("child %d not found", cid)
		return
	}
	if e.fresh {
		p.Repeated = 0
	}

	rerun := false
	switch c.Status {
	case tree.Idle:
		rerun = true
	case tree.Running:
		e.yield()
		return
	case tree.Success:
		rerun = p.Policy == RepeatForever || p.Policy == RepeatTimes || p.Policy == RepeatUntilFailure
	case tree.Failure:
		rerun = p.Policy == RepeatForever || p.Policy == RepeatTimes || p.Policy == RepeatUntilSuccess
	}
	if rerun && p.Policy == RepeatTimes && p.Repeated >= p.N {
		rerun = false
	}
	if !rerun {
		p.Repeated = 0
		e.succeed()
		return
	}
	if p.Policy == RepeatTimes {
		p.Repeated++
	}
	e.delegate(cid)
}

// timer resolves the node's duration once per run. It reports false while
// the duration is pending or after failing the node.
func (e *eval) timer() (*timerPayload, bool) {
	p, ok := e.n.Payload.(*timerPayload)
	if !ok {
		e.failStructural("%s without payload", e.n.Kind)
		return nil, false
	}
	if p.start.IsZero() {
		p.start = e.w.clock.Now()
	}
	if p.resolved {
		return p, true
	}
	r := e.resolve("duration", p.duration)
	switch r.State {
	case property.StatePending:
		return nil, false
	case property.StateError:
		e.resolveFailed("duration", r.Err)
		return nil, false
	}
	d, err := property.AsDuration(r.Value)
	if err != nil {
		e.resolveFailed("duration", err)
		return nil, false
	}
	p.d, p.resolved = d, true
	return p, true
}

func (p *timerPayload) expired(e *eval) bool {
	return e.w.clock.Now().Sub(p.start) > p.d
}

// deadline reports whether a Timeout's budget is spent. The bound is
// inclusive so a duration of T fails no later than tick T.
func (p *timerPayload) deadline(e *eval) bool {
	return e.w.clock.Now().Sub(p.start) >= p.d
}

func evalDelay(e *eval) {
	cid, ok := e.single()
	if !ok {
		e.failStructural("delay has no child")
		return
	}
	if c := e.child(cid); c != nil && c.Status != tree.Idle {
		e.passThrough(cid)
		return
	}
	p, ok := e.timer()
	if !ok || !p.expired(e) {
		return
	}
	e.passThrough(cid)
}

func evalWait(e *eval) {
	p, ok := e.timer()
	if !ok || !p.expired(e) {
		return
	}
	if len(e.n.Children) > 0 {
		e.warn("wait ignores its children", "children", len(e.n.Children))
	}
	if p.fail.IsZero() {
		e.succeed()
		return
	}
	r := e.resolve("fail", p.fail)
	switch r.State {
	case property.StatePending:
		return
	case property.StateError:
		e.resolveFailed("fail", r.Err)
		return
	}
	fail, err := property.AsBool(r.Value)
	if err != nil {
		e.resolveFailed("fail", err)
		return
	}
	if fail {
		e.fail(nil)
	} else {
		e.succeed()
	}
}

// ErrTimeout is the error attached to failures forced by a Timeout node.
var ErrTimeout = errors.New("timed out")

// evalTimeout keeps the cursor while its child runs so that it is
// evaluated every tick, and aborts the whole subtree once the deadline
// passes.
func evalTimeout(e *eval) {
	p, ok := e.timer()
	if !ok {
		return
	}
	if p.deadline(e) {
		e.shortCircuit(tree.Failure, fmt.Errorf("%w after %v", ErrTimeout, p.d))
		return
	}
	cid, ok := e.single()
	if !ok {
		e.failStructural("timeout has no child")
		return
	}
	c := e.child(cid)
	switch {
	case c == nil:
		e.failStructural("child %d not found", cid)
	case c.Status == tree.Idle:
		e.fork(cid)
	case c.Status.Done():
		e.finish(c.Status)
	}
}

func evalGuard(e *eval) {
	p, ok := e.n.Payload.(*guardPayload)
	if !ok {
		e.failStructural("guard without payload")
		return
	}
	cid, ok := e.single()
	if !ok {
		e.failStructural("guard has no child")
		return
	}
	if c := e.child(cid); c != nil && c.Status != tree.Idle {
		e.passThrough(cid)
		return
	}
	r := e.resolve("condition", p.cond)
	switch r.State {
	case property.StatePending:
		return
	case property.StateError:
		e.resolveFailed("condition", r.Err)
		return
	}
	pass, err := property.AsBool(r.Value)
	if err != nil {
		e.resolveFailed("condition", err)
		return
	}
	if !pass {
		e.fail(nil)
		return
	}
	e.passThrough(cid)
}

func evalSubtree(e *eval) {
	p, ok := e.n.Payload.(*subtreePayload)
	if !ok {
		e.failStructural("subtree without payload")
		return
	}
	if cid, ok := e.single(); ok {
		e.passThrough(cid)
		return
	}
	loader := e.w.loader
	if loader == nil {
		e.failStructural("no document loader for subtree %q", p.path)
		return
	}
	if !p.loading {
		p.handle = loader.Load(p.path)
		p.loading = true
		if r, ok := loader.(document.Releaser); ok {
			p.release = r.Release
		}
	}
	doc, ready, err := loader.Poll(p.handle)
	if !ready {
		return
	}
	p.Reset()
	switch {
	case err != nil:
		e.w.logger.Error("subtree load failed", "node", e.id, "name", e.n.Name, "path", p.path, "error", err)
		e.fail(err)
	case doc == nil || doc.Root == nil:
		e.failStructural("subtree %q is empty", p.path)
	default:
		e.push(command{op: opGraft, doc: doc})
	}
}
