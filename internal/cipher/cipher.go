// Package cipher implements the three XSalsa20-Poly1305 nonce strategies
// used to encrypt outbound RTP payloads (spec §4.4). XSalsa20-Poly1305 is
// exactly the construction golang.org/x/crypto/nacl/secretbox implements.
package cipher

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Kind identifies one of the three supported nonce strategies.
type Kind int

const (
	Plain Kind = iota
	Lite
	Suffix
)

// wire name, per spec §3/§6.
const (
	namePlain  = "xsalsa20_poly1305"
	nameLite   = "xsalsa20_poly1305_lite"
	nameSuffix = "xsalsa20_poly1305_suffix"
)

// Rank gives the total order from spec §3: Plain < Lite < Suffix. Mode
// selection picks the minimum-ranked mode out of Ready.modes.
func (k Kind) Rank() int { return int(k) }

func (k Kind) String() string {
	switch k {
	case Plain:
		return namePlain
	case Lite:
		return nameLite
	case Suffix:
		return nameSuffix
	default:
		return "unknown"
	}
}

// Mode is one instance of an encryption strategy. Lite carries a mutable
// counter that must not be shared across senders (spec §9): one Mode value
// belongs to exactly one VoiceUDP.
type Mode struct {
	kind        Kind
	liteCounter uint32
}

// NewMode constructs a Mode of the given kind with a zeroed Lite counter.
func NewMode(kind Kind) *Mode {
	return &Mode{kind: kind}
}

// ParseMode maps a Ready.modes wire string to a Mode, reporting false for
// any string outside the three known variants (spec §3: "unknown mode
// strings are silently dropped").
func ParseMode(name string) (Mode, bool) {
	switch name {
	case namePlain:
		return Mode{kind: Plain}, true
	case nameLite:
		return Mode{kind: Lite}, true
	case nameSuffix:
		return Mode{kind: Suffix}, true
	default:
		return Mode{}, false
	}
}

// Kind reports which strategy this Mode uses.
func (m *Mode) Kind() Kind { return m.kind }

// String returns the wire name for this mode.
func (m *Mode) String() string { return m.kind.String() }

// SelectMinimum returns the minimum-ranked mode among candidates, per
// spec §4.1 step 3. ok is false if candidates is empty.
func SelectMinimum(candidates []Mode) (Mode, bool) {
	if len(candidates) == 0 {
		return Mode{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.kind.Rank() < best.kind.Rank() {
			best = c
		}
	}
	return best, true
}

// Encrypt builds the wire packet for one RTP frame: the 12-byte rtpHeader,
// followed by the AEAD ciphertext, followed by whatever nonce-carrying
// suffix this mode's wire layout requires (spec §4.4). key must be the
// 32-byte secret key from SessionDescription.
func (m *Mode) Encrypt(payload, rtpHeader []byte, key *[32]byte) ([]byte, error) {
	if len(rtpHeader) != 12 {
		return nil, fmt.Errorf("cipher: rtp header must be 12 bytes, got %d", len(rtpHeader))
	}

	var nonce [24]byte
	switch m.kind {
	case Plain:
		copy(nonce[:12], rtpHeader)
	case Lite:
		binary.BigEndian.PutUint32(nonce[:4], m.liteCounter)
	case Suffix:
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("cipher: generate suffix nonce: %w", err)
		}
	default:
		return nil, fmt.Errorf("cipher: unknown mode kind %d", m.kind)
	}

	out := make([]byte, 0, len(rtpHeader)+len(payload)+secretbox.Overhead+4)
	out = append(out, rtpHeader...)
	out = secretbox.Seal(out, payload, &nonce, key)

	switch m.kind {
	case Suffix:
		out = append(out, nonce[:]...)
	case Lite:
		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], m.liteCounter)
		out = append(out, counterBytes[:]...)
		m.liteCounter++ // wraps at 2^32, per spec §3
	}

	return out, nil
}

// Decrypt reverses Encrypt, reconstructing the nonce from the documented
// wire position for this mode. headerLen is the length of the leading RTP
// header (12 bytes in this protocol). Used by tests to verify the mode
// wire-layout property (spec §8).
func Decrypt(kind Kind, wire []byte, headerLen int, key *[32]byte) ([]byte, error) {
	if len(wire) < headerLen+secretbox.Overhead {
		return nil, fmt.Errorf("cipher: wire packet too short")
	}

	header := wire[:headerLen]
	var nonce [24]byte
	var ciphertext []byte

	switch kind {
	case Plain:
		copy(nonce[:12], header)
		ciphertext = wire[headerLen:]
	case Suffix:
		if len(wire) < headerLen+24 {
			return nil, fmt.Errorf("cipher: suffix wire packet too short")
		}
		copy(nonce[:], wire[len(wire)-24:])
		ciphertext = wire[headerLen : len(wire)-24]
	case Lite:
		if len(wire) < headerLen+4 {
			return nil, fmt.Errorf("cipher: lite wire packet too short")
		}
		copy(nonce[:4], wire[len(wire)-4:])
		ciphertext = wire[headerLen : len(wire)-4]
	default:
		return nil, fmt.Errorf("cipher: unknown mode kind %d", kind)
	}

	opened, ok := secretbox.Open(nil, ciphertext, &nonce, key)
	if !ok {
		return nil, fmt.Errorf("cipher: decryption failed")
	}
	return opened, nil
}
