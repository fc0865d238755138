// Package message defines the logical content carried inside a frame payload:
// a type tag plus a CBOR-encoded body.
package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/danmuck/glowlink/internal/protocol/identity"
)

var (
	ErrUnknownType  = errors.New("message: unknown type")
	ErrDeserialize  = errors.New("message: deserialization failed")
	ErrInvalidBody  = errors.New("message: invalid body")
	ErrTypeMismatch = errors.New("message: type mismatch")
)

type Type uint8

const (
	TypeHeartbeat Type = iota
	TypeEcho
	TypeEvent
	TypeSync
	TypeCommand
	typeCount
)

func (t Type) Valid() bool {
	return t < typeCount
}

func (t Type) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeEcho:
		return "echo"
	case TypeEvent:
		return "event"
	case TypeSync:
		return "sync"
	case TypeCommand:
		return "command"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Heartbeat advertises sender uptime in milliseconds.
type Heartbeat struct {
	Uptime uint64 `cbor:"uptime"`
}

// Echo answers a heartbeat with the receiver's own uptime. Diagnostics only.
type Echo struct {
	Uptime uint64 `cbor:"uptime"`
}

// Event replicates the sender's active mode.
type Event struct {
	Title       string         `cbor:"title"`
	Version     string         `cbor:"version"`
	OptionIndex uint8          `cbor:"optionIndex"`
	Brightness  uint16         `cbor:"brightness"`
	Registry    map[string]any `cbor:"registry"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: event missing title", ErrInvalidBody)
	}
	if strings.TrimSpace(e.Version) == "" {
		return fmt.Errorf("%w: event missing version", ErrInvalidBody)
	}
	return nil
}

// Sync announces the sender's uptime so the older node re-broadcasts its state.
type Sync struct {
	Timestamp uint64 `cbor:"timestamp"`
}

type CommandKind uint8

const (
	CommandNamespace CommandKind = iota
	CommandAckSync
	commandCount
)

func (k CommandKind) String() string {
	switch k {
	case CommandNamespace:
		return "namespace"
	case CommandAckSync:
		return "ack_sync"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

// NamespaceData is a registry namespace snapshot carried by a namespace command.
type NamespaceData struct {
	Title    string         `cbor:"title"`
	Version  string         `cbor:"version"`
	Registry map[string]any `cbor:"registry"`
}

// Command is a namespace request/response or a sync acknowledgement.
// A namespace command without Data is a request for that namespace. A reply
// carries the requester's id in To; Data with no To is a push for every peer.
type Command struct {
	Command   CommandKind    `cbor:"command"`
	Namespace string         `cbor:"namespace,omitempty"`
	Data      *NamespaceData `cbor:"data,omitempty"`
	To        uint32         `cbor:"to,omitempty"`
}

func (c Command) Validate() error {
	if c.Command >= commandCount {
		return fmt.Errorf("%w: unknown command %d", ErrInvalidBody, c.Command)
	}
	if c.Command == CommandNamespace && strings.TrimSpace(c.Namespace) == "" {
		return fmt.Errorf("%w: namespace command missing namespace", ErrInvalidBody)
	}
	if c.Data != nil && (c.Data.Title == "" || c.Data.Version == "") {
		return fmt.Errorf("%w: namespace data missing title or version", ErrInvalidBody)
	}
	return nil
}

// Envelope is a decoded frame ready for the control loop. It owns its body bytes.
type Envelope struct {
	SenderID uint32
	Address  identity.Address
	Type     Type
	Body     cbor.RawMessage
}

func (e Envelope) Heartbeat() (Heartbeat, error) {
	var out Heartbeat
	return out, e.decodeAs(TypeHeartbeat, &out)
}

func (e Envelope) Echo() (Echo, error) {
	var out Echo
	return out, e.decodeAs(TypeEcho, &out)
}

func (e Envelope) Event() (Event, error) {
	var out Event
	if err := e.decodeAs(TypeEvent, &out); err != nil {
		return Event{}, err
	}
	if err := out.Validate(); err != nil {
		return Event{}, err
	}
	return out, nil
}

func (e Envelope) Sync() (Sync, error) {
	var out Sync
	return out, e.decodeAs(TypeSync, &out)
}

func (e Envelope) Command() (Command, error) {
	var out Command
	if err := e.decodeAs(TypeCommand, &out); err != nil {
		return Command{}, err
	}
	if err := out.Validate(); err != nil {
		return Command{}, err
	}
	return out, nil
}

func (e Envelope) decodeAs(t Type, out any) error {
	if e.Type != t {
		return fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, e.Type, t)
	}
	if err := decMode.Unmarshal(e.Body, out); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrDeserialize, t, err)
	}
	return nil
}
