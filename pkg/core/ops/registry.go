// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops implements declarable operations: the registry that maps names (and synonyms)
// to operations, the execution context passed to each invocation, and the dispatch protocol
// that validates a context, allocates outputs, runs the kernel and reports a Status.
//
// A Registry has an explicit lifecycle: kernels modules expose a Registrar function, which
// Registry.Initialize calls once at startup before sealing the registry. After that the registry
// is read-only, and it can be resolved concurrently. Shutdown clears it, so tests can start over.
package ops

import (
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registrar registers a group of operations. Each kernels package exposes one.
type Registrar func(r *Registry) error

// Registry of operations. The zero value is not usable: create it with NewRegistry.
type Registry struct {
	mu sync.RWMutex

	// canonical maps the canonical name to the operation.
	canonical map[string]*Operation

	// byName maps canonical names, synonyms and aliases to the operation.
	byName map[string]*Operation

	// byHash maps the hash of every name to the operation.
	byHash map[uint64]*Operation

	// aliases registered with RegisterSynonym, per canonical name.
	aliases map[string][]string

	// helpers are the platform helpers, see RegisterHelper.
	helpers map[helperKey]*Helper

	sealed bool
}

// NewRegistry returns an empty, unsealed Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.canonical = make(map[string]*Operation)
	r.byName = make(map[string]*Operation)
	r.byHash = make(map[uint64]*Operation)
	r.aliases = make(map[string][]string)
	r.helpers = make(map[helperKey]*Helper)
	r.sealed = false
}

// Initialize calls each registrar in order and then seals the registry.
//
// If a registrar fails, Initialize returns its error and the registry is left unsealed with
// whatever was registered until then.
func (r *Registry) Initialize(registrars ...Registrar) error {
	if r.IsSealed() {
		return errors.WithStack(ErrRegistrySealed)
	}
	for ii, registrar := range registrars {
		if err := registrar(r); err != nil {
			return errors.WithMessagef(err, "registrar #%d failed", ii)
		}
	}
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
	klog.V(1).Infof("operations registry initialized with %d operations", r.Len())
	return nil
}

// Shutdown removes all operations and unseals the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// IsSealed returns whether Initialize completed: no more registrations are accepted.
func (r *Registry) IsSealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// lockedCheckNameAvailable returns an error if name is in use. It must be called with r.mu locked.
func (r *Registry) lockedCheckNameAvailable(name string) error {
	if existing, found := r.byName[name]; found {
		return errors.Wrapf(ErrDuplicateName, "name %q already used by operation %q", name, existing.Name())
	}
	hash := HashName(name)
	if existing, found := r.byHash[hash]; found {
		return errors.Wrapf(ErrDuplicateName, "name %q has the same hash (%#x) as operation %q", name, hash, existing.Name())
	}
	return nil
}

// Register adds op to the registry. It fails with ErrDuplicateName if its name or any of its
// synonyms is already registered, in which case nothing is registered.
func (r *Registry) Register(op *Operation) error {
	if op == nil {
		return errors.New("cannot register a nil operation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.Wrapf(ErrRegistrySealed, "cannot register operation %q", op.Name())
	}
	names := op.desc.Names()
	for _, name := range names {
		if err := r.lockedCheckNameAvailable(name); err != nil {
			return err
		}
	}
	r.canonical[op.Name()] = op
	for _, name := range names {
		r.byName[name] = op
		r.byHash[HashName(name)] = op
	}
	klog.V(2).Infof("registered operation %s", &op.desc)
	return nil
}

// RegisterSynonym makes alias resolve to the operation registered as existing (a canonical name,
// a synonym or another alias).
//
// It fails with ErrUnknownOperation if existing is not registered, and with ErrDuplicateName if
// alias is already in use.
func (r *Registry) RegisterSynonym(existing, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.Wrapf(ErrRegistrySealed, "cannot register synonym %q", alias)
	}
	op, found := r.byName[existing]
	if !found {
		return errors.Wrapf(ErrUnknownOperation, "cannot alias %q to unknown operation %q", alias, existing)
	}
	if alias == "" {
		return errors.Errorf("cannot register an empty synonym for %q", existing)
	}
	if err := r.lockedCheckNameAvailable(alias); err != nil {
		return err
	}
	r.byName[alias] = op
	r.byHash[HashName(alias)] = op
	r.aliases[op.Name()] = append(r.aliases[op.Name()], alias)
	return nil
}

// Resolve returns the operation registered under name, which can be a canonical name, a synonym
// or an alias. It fails with ErrUnknownOperation.
func (r *Registry) Resolve(name string) (*Operation, error) {
	r.mu.RLock()
	op, found := r.byName[name]
	r.mu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownOperation, "operation %q not registered", name)
	}
	return op, nil
}

// ResolveHash returns the operation whose name (or synonym, or alias) hashes to hash.
// See HashName.
func (r *Registry) ResolveHash(hash uint64) (*Operation, error) {
	r.mu.RLock()
	op, found := r.byHash[hash]
	r.mu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownOperation, "no operation registered with hash %#x", hash)
	}
	return op, nil
}

// Synonyms returns all the alternative names of the operation registered under name: its
// descriptor synonyms followed by the aliases added with RegisterSynonym.
func (r *Registry) Synonyms(name string) ([]string, error) {
	op, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(slices.Clone(op.desc.Synonyms), r.aliases[op.Name()]...), nil
}

// Names returns the sorted canonical names of the registered operations.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.canonical))
}

// Len returns the number of registered operations, not counting synonyms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.canonical)
}
