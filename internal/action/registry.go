package action

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/tree"
)

// Factory builds a fresh Action from a node's document properties. Every
// action node gets its own instance.
type Factory func(props map[string]any) (Action, error)

// Registry maps document action names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtins returns a registry holding succeed, fail, ticks, set and log.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register("succeed", func(map[string]any) (Action, error) { return Succeed, nil })
	r.Register("fail", func(map[string]any) (Action, error) { return Fail, nil })
	r.Register("ticks", newTicks)
	r.Register("set", newSet)
	r.Register("log", newLog)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// New builds the action called name.
func (r *Registry) New(name string, props map[string]any) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	a, err := f(props)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", name, err)
	}
	return a, nil
}

// decodeProps decodes a node's document properties into out. Integers go
// through property.AsInt so that fractional values are rejected rather than
// truncated.
func decodeProps(props map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       intHook,
	})
	if err != nil {
		return err
	}
	return dec.Decode(props)
}

func intHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int || data == nil {
		return data, nil
	}
	return property.AsInt(data)
}

type ticksProps struct {
	Ticks  int `mapstructure:"ticks"`
	Result any `mapstructure:"result"`
}

func newTicks(props map[string]any) (Action, error) {
	p := ticksProps{Ticks: 1, Result: "success"}
	if err := decodeProps(props, &p); err != nil {
		return nil, err
	}
	s, err := parseResult(p.Result)
	if err != nil {
		return nil, err
	}
	return &Ticks{N: p.Ticks, Result: s}, nil
}

func parseResult(v any) (tree.Status, error) {
	if b, ok := v.(bool); ok {
		if b {
			return tree.Success, nil
		}
		return tree.Failure, nil
	}
	switch s, _ := v.(string); strings.ToLower(s) {
	case "success", "succeed":
		return tree.Success, nil
	case "failure", "fail":
		return tree.Failure, nil
	}
	return tree.Idle, fmt.Errorf("result must be success or failure, got %v", v)
}

type setProps struct {
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

func newSet(props map[string]any) (Action, error) {
	var p setProps
	if err := decodeProps(props, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, errors.New("missing key")
	}
	return &Set{Key: p.Key, Value: p.Value}, nil
}

type logProps struct {
	Message any    `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

func newLog(props map[string]any) (Action, error) {
	p := logProps{Level: "info"}
	if err := decodeProps(props, &p); err != nil {
		return nil, err
	}
	l := &Log{Message: p.Message}
	if err := l.Level.UnmarshalText([]byte(p.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
