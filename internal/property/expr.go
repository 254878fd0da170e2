package property

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultProgramCacheSize bounds the number of compiled expr programs kept by
// an Expr resolver.
const DefaultProgramCacheSize = 512

// ProgramCache is a bounded, thread-safe LRU cache of compiled expr-lang
// programs keyed by source.
type ProgramCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	hits    int64
	misses  int64
}

type programEntry struct {
	source  string
	program *vm.Program
}

// NewProgramCache returns a cache holding at most maxSize programs.
func NewProgramCache(maxSize int) *ProgramCache {
	if maxSize < 1 {
		maxSize = DefaultProgramCacheSize
	}
	return &ProgramCache{
		entries: make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached program for source, marking it recently used.
func (c *ProgramCache) Get(source string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[source]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*programEntry).program, true
}

// Put stores program for source, evicting the least recently used entry when
// over capacity.
func (c *ProgramCache) Put(source string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[source]; ok {
		elem.Value.(*programEntry).program = program
		c.lru.MoveToFront(elem)
		return
	}
	c.entries[source] = c.lru.PushFront(&programEntry{source: source, program: program})
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		delete(c.entries, back.Value.(*programEntry).source)
		c.lru.Remove(back)
	}
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns hit and miss counts.
func (c *ProgramCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *ProgramCache) String() string {
	hits, misses := c.Stats()
	return fmt.Sprintf("ProgramCache{size=%d, hits=%d, misses=%d}", c.Len(), hits, misses)
}

// Expr evaluates expr-lang expressions synchronously. The environment is the
// scope's blackboard: every key is available as a top-level variable, and
// the whole snapshot is also bound to "bb" for keys that are not valid
// identifiers (bb["my-key"]). Unknown variables evaluate to nil.
type Expr struct {
	cache *ProgramCache
}

// NewExpr returns an Expr resolver with its own program cache.
func NewExpr() *Expr {
	return &Expr{cache: NewProgramCache(DefaultProgramCacheSize)}
}

// Cache exposes the program cache, mostly for inspection in tests.
func (e *Expr) Cache() *ProgramCache { return e.cache }

// Resolve implements Resolver. It never returns Pending.
func (e *Expr) Resolve(req Request) Result {
	d := req.Descriptor
	if d.IsStatic() {
		return Ready(d.Value)
	}
	program, err := e.compile(d.Source)
	if err != nil {
		return Failed(fmt.Errorf("compile %q: %w", d.Source, err))
	}
	env := map[string]any{}
	if req.Scope != nil && req.Scope.Blackboard != nil {
		snap := req.Scope.Blackboard.Snapshot()
		for k, v := range snap {
			env[k] = v
		}
		env["bb"] = snap
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return Failed(fmt.Errorf("evaluate %q: %w", d.Source, err))
	}
	return Ready(out)
}

func (e *Expr) compile(source string) (*vm.Program, error) {
	if p, ok := e.cache.Get(source); ok {
		return p, nil
	}
	p, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.cache.Put(source, p)
	return p, nil
}
