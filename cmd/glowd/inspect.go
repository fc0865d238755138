package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/glowlink/internal/protocol/frame"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/protocol/message"
)

func idCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <address>",
		Short: "Print the node id and fingerprint derived from a hardware address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := identity.ParseAddress(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address:     %s\n", addr)
			fmt.Fprintf(out, "id:          %08x (%d)\n", identity.Derive(addr), identity.Derive(addr))
			fmt.Fprintf(out, "fingerprint: %s\n", identity.Fingerprint(addr))
			return nil
		},
	}
}

// decodedFrame is the printable form of one wire frame.
type decodedFrame struct {
	Address    string `json:"address"`
	SenderID   string `json:"sender_id"`
	IdentityOK bool   `json:"identity_ok"`
	Length     int    `json:"length"`
	Type       string `json:"type"`
	Body       any    `json:"body"`
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a captured frame and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := decodeHex(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
}

func decodeHex(raw string) (decodedFrame, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return decodedFrame{}, fmt.Errorf("decode hex: %w", err)
	}
	f, err := frame.Decode(b)
	if err != nil {
		return decodedFrame{}, err
	}
	t, body, err := message.Unmarshal(f.Payload)
	if err != nil {
		return decodedFrame{}, err
	}
	env := message.Envelope{SenderID: f.SenderID, Address: f.Address, Type: t, Body: body}
	out := decodedFrame{
		Address:    f.Address.String(),
		SenderID:   fmt.Sprintf("%08x", f.SenderID),
		IdentityOK: identity.Derive(f.Address) == f.SenderID,
		Length:     f.Len(),
		Type:       t.String(),
	}
	out.Body, err = typedBody(env)
	return out, err
}

func typedBody(env message.Envelope) (any, error) {
	switch env.Type {
	case message.TypeHeartbeat:
		return env.Heartbeat()
	case message.TypeEcho:
		return env.Echo()
	case message.TypeEvent:
		return env.Event()
	case message.TypeSync:
		return env.Sync()
	case message.TypeCommand:
		return env.Command()
	default:
		return nil, fmt.Errorf("%w: %s", message.ErrUnknownType, env.Type)
	}
}
