package mode

import (
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/registry"
)

const builtinVersion = "1.0.0"

const (
	TitleStatic      = "Static Light"
	TitleCandle      = "Candle Light"
	TitleRainbow     = "Rainbow"
	TitleStrobe      = "Strobe"
	TitleRandomGlow  = "Random Glow"
	TitleColorPicker = "Color Picker"
	TitleSunset      = "Sunset"
)

// Catalog declares every built-in mode against reg, in cycling order.
func Catalog(reg *registry.Registry) ([]Mode, error) {
	builders := []func(*registry.Registry) (Mode, error){
		func(r *registry.Registry) (Mode, error) { return NewStatic(r) },
		func(r *registry.Registry) (Mode, error) { return NewCandle(r) },
		func(r *registry.Registry) (Mode, error) { return NewRainbow(r) },
		func(r *registry.Registry) (Mode, error) { return NewStrobe(r) },
		func(r *registry.Registry) (Mode, error) { return NewRandomGlow(r) },
		func(r *registry.Registry) (Mode, error) { return NewColorPicker(r) },
		func(r *registry.Registry) (Mode, error) { return NewSunset(r) },
	}
	out := make([]Mode, 0, len(builders))
	for _, build := range builders {
		m, err := build(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Static shows one of a fixed palette of colours, one per option.
type Static struct {
	*Base
	palette []registry.Color
}

var staticPalette = []struct {
	title string
	color registry.Color
}{
	{"Warm soft yellow", registry.RGB(255, 230, 160)},
	{"Warm lavender", registry.RGB(220, 160, 245)},
	{"Extra warm white", registry.RGB(255, 200, 150)},
	{"Warm soft green", registry.RGB(140, 200, 140)},
	{"Warmer soft blue", registry.RGB(170, 190, 220)},
	{"Warm coral", registry.RGB(255, 135, 85)},
	{"Warmer pink", registry.RGB(255, 160, 180)},
	{"Gold", registry.RGB(255, 200, 50)},
	{"Red", registry.RGB(220, 50, 50)},
	{"Lime", registry.RGB(100, 255, 100)},
	{"Blue", registry.RGB(80, 120, 255)},
}

func NewStatic(reg *registry.Registry) (*Static, error) {
	options := make([]Option, 0, len(staticPalette))
	palette := make([]registry.Color, 0, len(staticPalette))
	for _, p := range staticPalette {
		options = append(options, Option{Title: p.title})
		palette = append(palette, p.color)
	}
	base, err := NewBase(reg, TitleStatic, builtinVersion, options...)
	if err != nil {
		return nil, err
	}
	if err := base.ns.InitColor("color", palette[0]); err != nil {
		return nil, err
	}
	return &Static{Base: base, palette: palette}, nil
}

// OnOptionChanged stores the selected palette colour so peers receive it.
func (s *Static) OnOptionChanged() {
	must(s.ns.SetColor("color", s.palette[s.current]))
}

func (s *Static) Color() registry.Color {
	c, _ := s.ns.GetColor("color")
	return c
}

// Candle flickers through warm colours at a configurable speed.
type Candle struct {
	*Base
}

func NewCandle(reg *registry.Registry) (*Candle, error) {
	base, err := NewBase(reg, TitleCandle, builtinVersion,
		Option{Title: "Brightness"},
		Option{Title: "Speed"},
	)
	if err != nil {
		return nil, err
	}
	if err := base.ns.InitInt("speed", 50, 1, 200); err != nil {
		return nil, err
	}
	return &Candle{Base: base}, nil
}

// Rainbow rotates a hue wheel. The custom action pauses the rotation.
type Rainbow struct {
	*Base
	index int
}

const rainbowWheel = 60

func NewRainbow(reg *registry.Registry) (*Rainbow, error) {
	base, err := NewBase(reg, TitleRainbow, builtinVersion,
		Option{Title: "Brightness"},
		Option{Title: "Saturation"},
		Option{Title: "Speed"},
	)
	if err != nil {
		return nil, err
	}
	ns := base.ns
	for _, err := range []error{
		ns.InitInt("speed", 5, 1, 50),
		ns.InitInt("saturation", 255, 0, 255),
		ns.InitBool("stopped", false),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &Rainbow{Base: base}, nil
}

func (r *Rainbow) Stopped() bool {
	v, _ := r.ns.GetBool("stopped")
	return v
}

// Index is the current rotation offset of the hue wheel.
func (r *Rainbow) Index() int { return r.index }

func (r *Rainbow) Tick(frame uint64) {
	if r.Stopped() {
		return
	}
	speed, err := r.ns.GetInt("speed")
	if err != nil || speed <= 0 {
		return
	}
	if frame%uint64(speed) == 0 {
		r.index = (r.index + 1) % rainbowWheel
	}
}

func (r *Rainbow) OnCustomAction() {
	r.toggle("stopped")
	logs.Infof("mode.Rainbow stopped=%t", r.Stopped())
}

// Strobe flashes one of several patterns. The custom action is an emergency stop.
type Strobe struct {
	*Base
	lit bool
}

// strobePeriods holds the frame period for each speed step.
var strobePeriods = [...]uint64{12, 6, 3, 2}

func NewStrobe(reg *registry.Registry) (*Strobe, error) {
	base, err := NewBase(reg, TitleStrobe, builtinVersion,
		Option{Title: "Brightness"},
		Option{Title: "Speed"},
	)
	if err != nil {
		return nil, err
	}
	ns := base.ns
	for _, err := range []error{
		ns.InitInt("speed", 1, 0, 3),
		ns.InitInt("pattern", 0, 0, 3),
		ns.InitBool("emergency_stop", false),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &Strobe{Base: base}, nil
}

func (s *Strobe) Lit() bool { return s.lit }

func (s *Strobe) Tick(frame uint64) {
	if stop, _ := s.ns.GetBool("emergency_stop"); stop {
		s.lit = false
		return
	}
	speed, _ := s.ns.GetInt("speed")
	s.lit = frame%strobePeriods[speed] == 0
}

func (s *Strobe) OnCustomAction() {
	s.toggle("emergency_stop")
}

// RandomGlow fades between palette colours. Colour indices are replicated so
// every fixture shows the same transition.
type RandomGlow struct {
	*Base
}

const randomGlowColors = 10

func NewRandomGlow(reg *registry.Registry) (*RandomGlow, error) {
	base, err := NewBase(reg, TitleRandomGlow, builtinVersion,
		Option{Title: "Brightness"},
		Option{Title: "Speed"},
	)
	if err != nil {
		return nil, err
	}
	ns := base.ns
	for _, err := range []error{
		ns.InitInt("speed_mode", 1, 0, 3),
		ns.InitInt("current_color", 0, 0, randomGlowColors-1),
		ns.InitInt("next_color", 1, 0, randomGlowColors-1),
		ns.InitBool("distance_locked", false),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &RandomGlow{Base: base}, nil
}

// Advance moves to the next colour pair.
func (g *RandomGlow) Advance() {
	next, _ := g.ns.GetInt("next_color")
	must(g.ns.SetInt("current_color", next))
	must(g.ns.SetInt("next_color", (next+1)%randomGlowColors))
}

func (g *RandomGlow) OnCustomAction() {
	g.toggle("distance_locked")
}

// ColorPicker shows a single user-chosen hue. The custom action freezes it.
type ColorPicker struct {
	*Base
}

func NewColorPicker(reg *registry.Registry) (*ColorPicker, error) {
	base, err := NewBase(reg, TitleColorPicker, builtinVersion,
		Option{Title: "Hue"},
		Option{Title: "Saturation"},
		Option{Title: "Brightness"},
	)
	if err != nil {
		return nil, err
	}
	ns := base.ns
	for _, err := range []error{
		ns.InitInt("hue", 0, 0, 255),
		ns.InitInt("saturation", 255, 0, 255),
		ns.InitBool("fixed", false),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &ColorPicker{Base: base}, nil
}

func (c *ColorPicker) OnCustomAction() {
	c.toggle("fixed")
}

// Sunset dims to off over one of four durations.
type Sunset struct {
	*Base
}

func NewSunset(reg *registry.Registry) (*Sunset, error) {
	base, err := NewBase(reg, TitleSunset, builtinVersion,
		Option{Title: "Brightness"},
		Option{Title: "Duration", Alert: true},
	)
	if err != nil {
		return nil, err
	}
	ns := base.ns
	for _, err := range []error{
		ns.InitInt("duration", 1, 0, 3),
		ns.InitBool("manual_shutdown", false),
		ns.InitBool("sunset_active", false),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &Sunset{Base: base}, nil
}

func (s *Sunset) OnCustomAction() {
	s.toggle("sunset_active")
}
