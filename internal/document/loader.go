package document

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
)

// ErrNotFound is returned by Poll for handles the loader never issued.
var ErrNotFound = errors.New("document handle not found")

// Handle identifies a load request.
type Handle uint64

// Loader loads documents without blocking the caller. Load starts (or
// joins) a load and returns immediately; Poll reports whether it finished.
type Loader interface {
	Load(path string) Handle
	Poll(h Handle) (doc *Document, ready bool, err error)
}

// Releaser is implemented by loaders that track handles. Callers release a
// handle once they are done polling it.
type Releaser interface {
	Release(h Handle)
}

// FSLoader loads and parses documents from an fs.FS on background
// goroutines. Parsed documents are cached by path and shared between
// handles, so callers must treat them as read-only.
type FSLoader struct {
	fsys fs.FS

	mu      sync.Mutex
	next    Handle
	handles map[Handle]*load
	byPath  map[string]*load
}

type load struct {
	path string
	done chan struct{}
	doc  *Document
	err  error
}

// NewFSLoader returns a loader reading from fsys.
func NewFSLoader(fsys fs.FS) *FSLoader {
	return &FSLoader{
		fsys:    fsys,
		handles: make(map[Handle]*load),
		byPath:  make(map[string]*load),
	}
}

// Load implements Loader. Failed loads are not cached; a later Load of the
// same path retries.
func (l *FSLoader) Load(p string) Handle {
	p = path.Clean(p)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	h := l.next
	if ld, ok := l.byPath[p]; ok {
		select {
		case <-ld.done:
			if ld.err == nil {
				l.handles[h] = ld
				return h
			}
		default:
			l.handles[h] = ld
			return h
		}
	}
	ld := &load{path: p, done: make(chan struct{})}
	l.byPath[p] = ld
	l.handles[h] = ld
	go l.read(ld)
	return h
}

func (l *FSLoader) read(ld *load) {
	defer close(ld.done)
	data, err := fs.ReadFile(l.fsys, ld.path)
	if err != nil {
		ld.err = fmt.Errorf("load %s: %w", ld.path, err)
		return
	}
	doc, err := Parse(data)
	if err != nil {
		ld.err = fmt.Errorf("load %s: %w", ld.path, err)
		return
	}
	ld.doc = doc
}

// Poll implements Loader.
func (l *FSLoader) Poll(h Handle) (*Document, bool, error) {
	l.mu.Lock()
	ld, ok := l.handles[h]
	l.mu.Unlock()
	if !ok {
		return nil, true, fmt.Errorf("%w: %d", ErrNotFound, h)
	}
	select {
	case <-ld.done:
		return ld.doc, true, ld.err
	default:
		return nil, false, nil
	}
}

// Release forgets h. Cached documents stay cached.
func (l *FSLoader) Release(h Handle) {
	l.mu.Lock()
	delete(l.handles, h)
	l.mu.Unlock()
}

// Handles returns the number of handles not yet released.
func (l *FSLoader) Handles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

// Wait blocks until the load behind h has finished.
func (l *FSLoader) Wait(h Handle) (*Document, error) {
	l.mu.Lock()
	ld, ok := l.handles[h]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, h)
	}
	<-ld.done
	return ld.doc, ld.err
}

// Static is a Loader over documents already in memory. Every handle is
// ready immediately. Useful for tests and for embedding trees in Go code.
type Static struct {
	mu    sync.Mutex
	docs  map[string]*Document
	loads []string
}

// NewStatic returns a loader serving docs by path.
func NewStatic(docs map[string]*Document) *Static {
	return &Static{docs: docs}
}

// Load implements Loader.
func (s *Static) Load(p string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, p)
	return Handle(len(s.loads))
}

// Poll implements Loader.
func (s *Static) Poll(h Handle) (*Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == 0 || int(h) > len(s.loads) {
		return nil, true, fmt.Errorf("%w: %d", ErrNotFound, h)
	}
	p := s.loads[h-1]
	doc, ok := s.docs[p]
	if !ok {
		return nil, true, fmt.Errorf("load %s: %w", p, fs.ErrNotExist)
	}
	return doc, true, nil
}

// Loads returns the paths requested so far.
func (s *Static) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...)
}
