// Package identity derives a node's numeric id from its 6-byte hardware address.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/sha3"
)

const AddressLen = 6

var ErrInvalidAddress = errors.New("identity: invalid hardware address")

// Address is a link-layer hardware address.
type Address [AddressLen]byte

// Broadcast is the all-ones link address.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseAddress accepts "aa:bb:cc:dd:ee:ff", "aa-bb-cc-dd-ee-ff" or "aabbccddeeff".
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(s) != AddressLen*2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func FromBytes(b []byte) (Address, error) {
	if len(b) != AddressLen {
		return Address{}, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	var sb strings.Builder
	for i, b := range a {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func digest(a Address) [32]byte {
	return sha3.Sum256(a[:])
}

// Derive returns the node id for a hardware address: the first four bytes of
// SHA3-256(address), big-endian.
func Derive(a Address) uint32 {
	d := digest(a)
	return binary.BigEndian.Uint32(d[:4])
}

// Fingerprint is a short base58 label for logs and status output.
func Fingerprint(a Address) string {
	d := digest(a)
	return base58.Encode(d[:8])
}
