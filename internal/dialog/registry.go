package dialog

import (
	"fmt"
	"sort"
	"sync"

	"crm-dialogs/internal/common/errors"
)

// Definition tells the registry how to create and restore one kind of dialog.
// New may be nil for dialogs that only run as children.
type Definition struct {
	Kind    string
	New     func(args map[string]string) (Dialog, error)
	Restore func(state []byte) (Dialog, error)
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	if def.Kind == "" || def.Restore == nil {
		return fmt.Errorf("dialog definition needs a kind and a restore function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Kind]; exists {
		return fmt.Errorf("dialog %q already registered", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

// MustRegister panics if def cannot be registered.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(kind string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[kind]
	return def, ok
}

// New creates a root dialog of kind from string arguments.
func (r *Registry) New(kind string, args map[string]string) (Dialog, error) {
	def, ok := r.lookup(kind)
	if !ok || def.New == nil {
		return nil, errors.NewUnknownDialogError(kind)
	}
	return def.New(args)
}

func (r *Registry) Restore(frame Frame) (Dialog, error) {
	def, ok := r.lookup(frame.Kind)
	if !ok {
		return nil, errors.NewUnknownDialogError(frame.Kind)
	}
	d, err := def.Restore(frame.State)
	if err != nil {
		return nil, errors.NewDialogStateInvalidError(frame.Kind, err)
	}
	return d, nil
}

// Kinds lists the kinds that can be started as root dialogs.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.defs))
	for kind, def := range r.defs {
		if def.New != nil {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}
