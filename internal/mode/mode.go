// Package mode defines the contract the controller uses to drive and
// replicate animation modes, and the built-in parameter-bearing modes.
//
// Animation math lives with the LED driver; a mode here owns only the state
// that has to converge across the swarm: its registry namespace, the
// selected option and the brightness.
package mode

import (
	"errors"
	"fmt"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/registry"
)

const MaxBrightness uint16 = 255

var (
	ErrModeMismatch      = registry.ErrModeMismatch
	ErrInvalidOption     = errors.New("mode: invalid option index")
	ErrInvalidBrightness = errors.New("mode: brightness out of range")
)

// State is a full mode snapshot exchanged with peers. It lives for one message.
type State struct {
	Title       string
	Version     string
	OptionIndex uint8
	Brightness  uint16
	Registry    map[string]any
}

// Option is one user-selectable option of a mode.
type Option struct {
	Title string
	// Alert asks the controller for an attention flash when selected.
	Alert bool
}

// Mode is implemented by every animation mode.
type Mode interface {
	Title() string
	Version() string
	Serialize() State
	// Deserialize applies s after re-checking title and version; nothing changes on error.
	Deserialize(s State) error

	Options() []Option
	CurrentOption() int
	SetOption(i int) error
	NextOption() (alert bool)

	Brightness() uint16
	SetBrightness(b uint16) error

	Namespace() *registry.Namespace

	// Tick advances animation state by one control loop frame.
	Tick(frame uint64)
	// OnOptionChanged runs after every local or remote option change.
	OnOptionChanged()
	OnCustomAction()
}

// Base implements the shared part of Mode over a registry namespace.
type Base struct {
	ns         *registry.Namespace
	options    []Option
	current    int
	brightness uint16
}

func NewBase(reg *registry.Registry, title, version string, options ...Option) (*Base, error) {
	ns, err := reg.Declare(title, version)
	if err != nil {
		return nil, err
	}
	return &Base{ns: ns, options: options, brightness: MaxBrightness}, nil
}

func (b *Base) Title() string                  { return b.ns.Title() }
func (b *Base) Version() string                { return b.ns.Version() }
func (b *Base) Namespace() *registry.Namespace { return b.ns }
func (b *Base) Brightness() uint16             { return b.brightness }
func (b *Base) CurrentOption() int             { return b.current }

func (b *Base) Options() []Option {
	out := make([]Option, len(b.options))
	copy(out, b.options)
	return out
}

func (b *Base) SetOption(i int) error {
	if err := b.checkOption(i); err != nil {
		return err
	}
	b.current = i
	return nil
}

func (b *Base) checkOption(i int) error {
	if len(b.options) == 0 {
		if i == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s has no options, got %d", ErrInvalidOption, b.Title(), i)
	}
	if i < 0 || i >= len(b.options) {
		return fmt.Errorf("%w: %s has %d options, got %d", ErrInvalidOption, b.Title(), len(b.options), i)
	}
	return nil
}

// NextOption cycles to the next option and reports whether it wants an alert flash.
func (b *Base) NextOption() bool {
	if len(b.options) == 0 {
		logs.Debugf("mode.Base.NextOption %q has no options", b.Title())
		return false
	}
	b.current = (b.current + 1) % len(b.options)
	logs.Infof("mode.Base.NextOption %q -> %q", b.Title(), b.options[b.current].Title)
	return b.options[b.current].Alert
}

func (b *Base) SetBrightness(v uint16) error {
	if v > MaxBrightness {
		return fmt.Errorf("%w: %d > %d", ErrInvalidBrightness, v, MaxBrightness)
	}
	b.brightness = v
	return nil
}

func (b *Base) Serialize() State {
	doc := b.ns.Serialize()
	return State{
		Title:       doc.Title,
		Version:     doc.Version,
		OptionIndex: uint8(b.current),
		Brightness:  b.brightness,
		Registry:    doc.Values,
	}
}

func (b *Base) Deserialize(s State) error {
	if s.Title != b.Title() || s.Version != b.Version() {
		return fmt.Errorf("%w: have %s@%s, got %s@%s", ErrModeMismatch, b.Title(), b.Version(), s.Title, s.Version)
	}
	if err := b.checkOption(int(s.OptionIndex)); err != nil {
		return err
	}
	if s.Brightness > MaxBrightness {
		return fmt.Errorf("%w: %d", ErrInvalidBrightness, s.Brightness)
	}
	if err := b.ns.Apply(registry.Document{Title: s.Title, Version: s.Version, Values: s.Registry}); err != nil {
		return err
	}
	b.current = int(s.OptionIndex)
	b.brightness = s.Brightness
	return nil
}

func (b *Base) Tick(uint64)      {}
func (b *Base) OnOptionChanged() {}
func (b *Base) OnCustomAction()  {}

// toggle flips a bool setting, logging instead of failing.
func (b *Base) toggle(key string) {
	v, err := b.ns.GetBool(key)
	if err != nil {
		return
	}
	if err := b.ns.SetBool(key, !v); err != nil {
		logs.Warnf("mode.Base.toggle %q key=%q: %v", b.Title(), key, err)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
