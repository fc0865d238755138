package message

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  8,
		MaxArrayElements: 64,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type wire struct {
	Type Type            `cbor:"type"`
	Body cbor.RawMessage `cbor:"body"`
}

// Marshal encodes a typed body into a frame payload.
func Marshal(t Type, body any) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s body: %w", t, err)
	}
	return encMode.Marshal(wire{Type: t, Body: raw})
}

// Unmarshal splits a frame payload into its type and raw body.
func Unmarshal(payload []byte) (Type, cbor.RawMessage, error) {
	var w wire
	if err := decMode.Unmarshal(payload, &w); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if !w.Type.Valid() {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownType, w.Type)
	}
	if len(w.Body) == 0 {
		return 0, nil, fmt.Errorf("%w: missing body", ErrDeserialize)
	}
	body := make(cbor.RawMessage, len(w.Body))
	copy(body, w.Body)
	return w.Type, body, nil
}
