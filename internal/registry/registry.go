// Package registry stores typed, bounds-checked mode settings grouped into
// namespaces, and converts them to and from synchronization documents.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/glowlink/internal/logs"
)

var (
	ErrKeyExists       = errors.New("registry: key already initialized")
	ErrKeyUnset        = errors.New("registry: key not initialized")
	ErrOutOfRange      = errors.New("registry: value out of range")
	ErrTypeMismatch    = errors.New("registry: type mismatch")
	ErrInvalidValue    = errors.New("registry: invalid value")
	ErrModeMismatch    = errors.New("registry: title or version mismatch")
	ErrNamespaceExists = errors.New("registry: namespace already declared")
	ErrNoNamespace     = errors.New("registry: namespace not declared")
)

// Registry holds every namespace and tracks the active one.
type Registry struct {
	namespaces map[string]*Namespace
	active     string
}

func New() *Registry {
	return &Registry{namespaces: make(map[string]*Namespace)}
}

// Declare creates the namespace for a mode. The first declared namespace becomes active.
func (r *Registry) Declare(title, version string) (*Namespace, error) {
	title = strings.TrimSpace(title)
	version = strings.TrimSpace(version)
	if title == "" || version == "" {
		return nil, fmt.Errorf("%w: namespace needs title and version", ErrInvalidValue)
	}
	if _, ok := r.namespaces[title]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceExists, title)
	}
	ns := newNamespace(title, version)
	r.namespaces[title] = ns
	if r.active == "" {
		r.active = title
	}
	return ns, nil
}

func (r *Registry) Lookup(name string) (*Namespace, bool) {
	ns, ok := r.namespaces[name]
	return ns, ok
}

// Activate switches the active namespace. Values of other namespaces are kept.
func (r *Registry) Activate(name string) error {
	if _, ok := r.namespaces[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoNamespace, name)
	}
	if r.active != name {
		logs.Debugf("registry.Registry.Activate %q -> %q", r.active, name)
	}
	r.active = name
	return nil
}

// Active returns the active namespace, or nil if none is declared.
func (r *Registry) Active() *Namespace {
	return r.namespaces[r.active]
}

func (r *Registry) Names() []string {
	return sortedKeys(r.namespaces)
}

func (r *Registry) SerializeNamespace(name string) (Document, error) {
	ns, ok := r.namespaces[name]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNoNamespace, name)
	}
	return ns.Serialize(), nil
}

func (r *Registry) ApplyNamespace(name string, doc Document) error {
	ns, ok := r.namespaces[name]
	if !ok {
		logs.Warnf("registry.Registry.ApplyNamespace unknown namespace=%q", name)
		return fmt.Errorf("%w: %s", ErrNoNamespace, name)
	}
	return ns.Apply(doc)
}
