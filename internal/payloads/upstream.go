// Package payloads defines the wire shapes exchanged with the client
// controller and the upstream voice service. Field shapes follow spec §3/§6.
package payloads

import (
	"encoding/json"
	"fmt"

	"audiorelay/internal/cipher"
)

// Upstream opcodes (spec §3).
const (
	OpIdentify           = 0
	OpSelectProtocol     = 1
	OpReady              = 2
	OpHeartbeat          = 3
	OpSessionDescription = 4
	OpSpeaking           = 5
	OpHeartbeatACK       = 6
	OpResume             = 7
	OpHello              = 8
	OpResumed            = 9
	OpClientDisconnect   = 13
)

// Envelope is the upstream voice gateway's `{op:int,d:object}` wrapper.
// Unknown opcodes are kept as a raw json.RawMessage and ignored by callers,
// per spec §3 ("unknown opcodes are kept as opaque values and ignored").
type Envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Encode marshals an opcode/payload pair into an Envelope-shaped frame.
func Encode(op int, data any) ([]byte, error) {
	d, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for op %d: %w", op, err)
	}
	return json.Marshal(Envelope{Op: op, D: d})
}

// Hello is opcode 8: the first frame the upstream gateway must send.
type Hello struct {
	V                 int `json:"v"`
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// Identify is opcode 0, sent immediately after Hello.
type Identify struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Ready is opcode 2.
type Ready struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// SupportedModes parses Ready.Modes into cipher.Mode values, silently
// dropping unrecognized strings per spec §3 ("unknown mode strings are
// silently dropped from the list").
func (r Ready) SupportedModes() []cipher.Mode {
	modes := make([]cipher.Mode, 0, len(r.Modes))
	for _, m := range r.Modes {
		if mode, ok := cipher.ParseMode(m); ok {
			modes = append(modes, mode)
		}
	}
	return modes
}

// SelectProtocol is opcode 1, sent after IP discovery completes.
type SelectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// SelectProtocolData carries the externally-discovered address.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SessionDescription is opcode 4: delivers the 32-byte secret key.
type SessionDescription struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// Speaking is opcode 5.
type Speaking struct {
	Speaking int    `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// Heartbeat (opcode 3) carries the current wall-clock milliseconds as `d`,
// a bare integer rather than an object. Callers pass the nonce directly to
// Encode(OpHeartbeat, nonce).
