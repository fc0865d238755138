package message

import (
	"errors"
	"testing"

	"github.com/danmuck/glowlink/internal/protocol/frame"
	"github.com/danmuck/glowlink/internal/testutil/testlog"
)

func envelopeFor(t *testing.T, typ Type, body any) Envelope {
	t.Helper()
	payload, err := Marshal(typ, body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	gotType, raw, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return Envelope{SenderID: 100, Type: gotType, Body: raw}
}

func TestEventBodyRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Event{
		Title:       "Rainbow",
		Version:     "1.0.0",
		OptionIndex: 1,
		Brightness:  128,
		Registry:    map[string]any{"speed": 5, "stopped": false, "tint": "FF8800"},
	}
	env := envelopeFor(t, TypeEvent, in)
	if env.Type != TypeEvent {
		t.Fatalf("unexpected type %s", env.Type)
	}
	out, err := env.Event()
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if out.Title != in.Title || out.Version != in.Version || out.OptionIndex != 1 || out.Brightness != 128 {
		t.Fatalf("event mismatch: %+v", out)
	}
	if v, ok := out.Registry["speed"].(uint64); !ok || v != 5 {
		t.Fatalf("unexpected speed value %#v", out.Registry["speed"])
	}
	if v, ok := out.Registry["tint"].(string); !ok || v != "FF8800" {
		t.Fatalf("unexpected tint value %#v", out.Registry["tint"])
	}
}

func TestTypicalEventFitsInOneFrame(t *testing.T) {
	testlog.Start(t)
	payload, err := Marshal(TypeEvent, Event{
		Title:      "Random Glow",
		Version:    "1.0.0",
		Brightness: 255,
		Registry: map[string]any{
			"speed_mode": 1, "current_color": 4, "next_color": 5, "distance_locked": true,
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(payload) > frame.MaxPayload {
		t.Fatalf("event payload %d exceeds max %d", len(payload), frame.MaxPayload)
	}
}

func TestEventRequiresTitleAndVersion(t *testing.T) {
	testlog.Start(t)
	env := envelopeFor(t, TypeEvent, Event{Version: "1.0.0"})
	if _, err := env.Event(); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected ErrInvalidBody, got %v", err)
	}
}

func TestDecodeWrongTypeRejected(t *testing.T) {
	testlog.Start(t)
	env := envelopeFor(t, TypeSync, Sync{Timestamp: 1000})
	if _, err := env.Event(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	s, err := env.Sync()
	if err != nil || s.Timestamp != 1000 {
		t.Fatalf("sync decode: %+v %v", s, err)
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	testlog.Start(t)
	if _, _, err := Unmarshal([]byte{0xFF, 0x00, 0x13}); !errors.Is(err, ErrDeserialize) {
		t.Fatalf("expected ErrDeserialize, got %v", err)
	}
	if _, _, err := Unmarshal(nil); !errors.Is(err, ErrDeserialize) {
		t.Fatalf("expected ErrDeserialize for empty payload, got %v", err)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	testlog.Start(t)
	if _, err := Marshal(Type(42), Heartbeat{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType on marshal, got %v", err)
	}
	raw, err := encMode.Marshal(wire{Type: Type(42), Body: []byte{0xA0}})
	if err != nil {
		t.Fatalf("marshal wire: %v", err)
	}
	if _, _, err := Unmarshal(raw); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType on unmarshal, got %v", err)
	}
}

func TestCommandValidation(t *testing.T) {
	testlog.Start(t)
	env := envelopeFor(t, TypeCommand, Command{Command: CommandNamespace})
	if _, err := env.Command(); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected missing namespace rejection, got %v", err)
	}

	env = envelopeFor(t, TypeCommand, Command{
		Command:   CommandNamespace,
		Namespace: "Rainbow",
		Data:      &NamespaceData{Title: "Rainbow", Version: "1.0.0", Registry: map[string]any{"speed": 3}},
	})
	cmd, err := env.Command()
	if err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.Data == nil || cmd.Data.Title != "Rainbow" {
		t.Fatalf("unexpected command data: %+v", cmd)
	}

	env = envelopeFor(t, TypeCommand, Command{Command: CommandKind(9)})
	if _, err := env.Command(); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected unknown command rejection, got %v", err)
	}
}
