package registry

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Type tags the value kind of an entry.
type Type uint8

const (
	TypeInt Type = iota
	TypeString
	TypeBool
	TypeColor
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeColor:
		return "color"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Color is an RGB triple, exchanged on the wire as "RRGGBB".
type Color struct {
	R, G, B uint8
}

func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

func (c Color) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

func (c Color) String() string {
	return "#" + c.Hex()
}

func ParseColor(raw string) (Color, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("%w: color %q", ErrInvalidValue, raw)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Color{}, fmt.Errorf("%w: color %q", ErrInvalidValue, raw)
	}
	return Color{R: b[0], G: b[1], B: b[2]}, nil
}

// convert coerces a decoded document value into the Go type stored for t.
func convert(t Type, v any) (any, error) {
	switch t {
	case TypeInt:
		return toInt(v)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrTypeMismatch, v)
		}
		return s, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool, got %T", ErrTypeMismatch, v)
		}
		return b, nil
	case TypeColor:
		switch c := v.(type) {
		case Color:
			return c, nil
		case string:
			return ParseColor(c)
		default:
			return nil, fmt.Errorf("%w: want color, got %T", ErrTypeMismatch, v)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, t)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d", ErrOutOfRange, n)
		}
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d", ErrOutOfRange, n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d", ErrOutOfRange, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: want integer, got %v", ErrTypeMismatch, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: want int, got %T", ErrTypeMismatch, v)
	}
}

// wireValue renders a stored value the way it is carried in a document.
func wireValue(t Type, v any) any {
	if t == TypeColor {
		if c, ok := v.(Color); ok {
			return c.Hex()
		}
	}
	return v
}
