package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/glowlink/internal/logs"
)

// Entry is one declared setting.
type Entry struct {
	Key      string
	Type     Type
	Min, Max int
	value    any
	def      any
}

func (e *Entry) Value() any   { return e.value }
func (e *Entry) Default() any { return e.def }

func (e *Entry) check(v any) error {
	if e.Type != TypeInt {
		return nil
	}
	n := v.(int)
	if n < e.Min || n > e.Max {
		return fmt.Errorf("%w: %s=%d not in [%d,%d]", ErrOutOfRange, e.Key, n, e.Min, e.Max)
	}
	return nil
}

// EntryInfo is a read-only view of an entry for status output.
type EntryInfo struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Default any    `json:"default"`
	Min     *int   `json:"min,omitempty"`
	Max     *int   `json:"max,omitempty"`
}

// Document is the serialized form of a namespace.
type Document struct {
	Title   string
	Version string
	Values  map[string]any
}

// Namespace groups the settings of one mode. Entries are declared once and never removed.
type Namespace struct {
	title   string
	version string
	entries map[string]*Entry
	order   []string
}

func newNamespace(title, version string) *Namespace {
	return &Namespace{
		title:   title,
		version: version,
		entries: make(map[string]*Entry),
	}
}

func (n *Namespace) Title() string   { return n.title }
func (n *Namespace) Version() string { return n.version }

func (n *Namespace) InitInt(key string, def, min, max int) error {
	if min > max {
		return fmt.Errorf("%w: %s min %d > max %d", ErrInvalidValue, key, min, max)
	}
	e := &Entry{Key: key, Type: TypeInt, Min: min, Max: max, value: def, def: def}
	if err := e.check(def); err != nil {
		return err
	}
	return n.declare(e)
}

func (n *Namespace) InitString(key, def string) error {
	return n.declare(&Entry{Key: key, Type: TypeString, value: def, def: def})
}

func (n *Namespace) InitBool(key string, def bool) error {
	return n.declare(&Entry{Key: key, Type: TypeBool, value: def, def: def})
}

func (n *Namespace) InitColor(key string, def Color) error {
	return n.declare(&Entry{Key: key, Type: TypeColor, value: def, def: def})
}

func (n *Namespace) declare(e *Entry) error {
	key := strings.TrimSpace(e.Key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidValue)
	}
	if _, ok := n.entries[key]; ok {
		logs.Errorf("registry.Namespace.declare ns=%q key=%q already initialized", n.title, key)
		return fmt.Errorf("%w: %s/%s", ErrKeyExists, n.title, key)
	}
	e.Key = key
	n.entries[key] = e
	n.order = append(n.order, key)
	logs.Debugf("registry.Namespace.declare ns=%q key=%q type=%s default=%v", n.title, key, e.Type, wireValue(e.Type, e.def))
	return nil
}

func (n *Namespace) lookup(key string, t Type) (*Entry, error) {
	e, ok := n.entries[key]
	if !ok {
		logs.Warnf("registry.Namespace ns=%q key=%q not initialized", n.title, key)
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyUnset, n.title, key)
	}
	if e.Type != t {
		return nil, fmt.Errorf("%w: %s/%s is %s, not %s", ErrTypeMismatch, n.title, key, e.Type, t)
	}
	return e, nil
}

func (n *Namespace) GetInt(key string) (int, error) {
	e, err := n.lookup(key, TypeInt)
	if err != nil {
		return 0, err
	}
	return e.value.(int), nil
}

func (n *Namespace) GetString(key string) (string, error) {
	e, err := n.lookup(key, TypeString)
	if err != nil {
		return "", err
	}
	return e.value.(string), nil
}

func (n *Namespace) GetBool(key string) (bool, error) {
	e, err := n.lookup(key, TypeBool)
	if err != nil {
		return false, err
	}
	return e.value.(bool), nil
}

func (n *Namespace) GetColor(key string) (Color, error) {
	e, err := n.lookup(key, TypeColor)
	if err != nil {
		return Color{}, err
	}
	return e.value.(Color), nil
}

func (n *Namespace) SetInt(key string, v int) error       { return n.set(key, TypeInt, v) }
func (n *Namespace) SetString(key string, v string) error { return n.set(key, TypeString, v) }
func (n *Namespace) SetBool(key string, v bool) error     { return n.set(key, TypeBool, v) }
func (n *Namespace) SetColor(key string, v Color) error   { return n.set(key, TypeColor, v) }

func (n *Namespace) set(key string, t Type, v any) error {
	e, err := n.lookup(key, t)
	if err != nil {
		return err
	}
	if err := e.check(v); err != nil {
		logs.Warnf("registry.Namespace.set ns=%q rejected: %v", n.title, err)
		return err
	}
	e.value = v
	return nil
}

// Reset restores key to its declared default.
func (n *Namespace) Reset(key string) error {
	e, ok := n.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrKeyUnset, n.title, key)
	}
	e.value = e.def
	return nil
}

func (n *Namespace) Contains(key string) bool {
	_, ok := n.entries[key]
	return ok
}

func (n *Namespace) Len() int {
	return len(n.entries)
}

// Keys returns keys in declaration order.
func (n *Namespace) Keys() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

func (n *Namespace) Describe() []EntryInfo {
	out := make([]EntryInfo, 0, len(n.order))
	for _, key := range n.order {
		e := n.entries[key]
		info := EntryInfo{
			Key:     key,
			Type:    e.Type.String(),
			Value:   wireValue(e.Type, e.value),
			Default: wireValue(e.Type, e.def),
		}
		if e.Type == TypeInt {
			lo, hi := e.Min, e.Max
			info.Min, info.Max = &lo, &hi
		}
		out = append(out, info)
	}
	return out
}

// Serialize emits every entry's current value in its wire form.
func (n *Namespace) Serialize() Document {
	values := make(map[string]any, len(n.entries))
	for key, e := range n.entries {
		values[key] = wireValue(e.Type, e.value)
	}
	return Document{Title: n.title, Version: n.version, Values: values}
}

// Apply writes doc's values after checking that doc belongs to this namespace's
// title and version. Every value is converted and bounds-checked before any is
// written, so a failed apply leaves the namespace untouched. Keys missing from
// doc keep their value; keys unknown locally are ignored.
func (n *Namespace) Apply(doc Document) error {
	if doc.Title != n.title || doc.Version != n.version {
		logs.Errorf(
			"registry.Namespace.Apply mode mismatch have=%q@%s got=%q@%s",
			n.title, n.version, doc.Title, doc.Version,
		)
		return fmt.Errorf("%w: have %s@%s, got %s@%s", ErrModeMismatch, n.title, n.version, doc.Title, doc.Version)
	}

	staged := make(map[string]any, len(doc.Values))
	for _, key := range n.order {
		raw, ok := doc.Values[key]
		if !ok || raw == nil {
			logs.Debugf("registry.Namespace.Apply ns=%q key=%q missing from document", n.title, key)
			continue
		}
		e := n.entries[key]
		v, err := convert(e.Type, raw)
		if err != nil {
			logs.Warnf("registry.Namespace.Apply ns=%q key=%q rejected: %v", n.title, key, err)
			return fmt.Errorf("%s/%s: %w", n.title, key, err)
		}
		if err := e.check(v); err != nil {
			logs.Warnf("registry.Namespace.Apply ns=%q rejected: %v", n.title, err)
			return err
		}
		staged[key] = v
	}
	for key := range doc.Values {
		if _, ok := n.entries[key]; !ok {
			logs.Debugf("registry.Namespace.Apply ns=%q ignoring unknown key=%q", n.title, key)
		}
	}

	for key, v := range staged {
		n.entries[key].value = v
	}
	return nil
}

// ApplyValues is Apply for a bare value map already known to target this namespace.
func (n *Namespace) ApplyValues(values map[string]any) error {
	return n.Apply(Document{Title: n.title, Version: n.version, Values: values})
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
