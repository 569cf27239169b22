package payloads

import (
	"encoding/json"
	"fmt"
)

// Client op names, tagged union discriminator for ClientPayload.op (spec §3,
// §6). camelCase on the wire.
const (
	OpVoiceUpdate = "voiceUpdate"
	OpPlay        = "play"
	OpStop        = "stop"
	OpPause       = "pause"
	OpSeek        = "seek"
	OpVolume      = "volume"
	OpFilters     = "filters"
	OpDestroy     = "destroy"
)

// ClientPayload is one frame received from the controller over the
// client-facing WebSocket: `{ guild_id, op, ...op fields }`.
type ClientPayload struct {
	GuildID string          `json:"guildId"`
	Op      string          `json:"op"`
	Raw     json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw frame alongside the decoded envelope so
// callers can re-decode op-specific fields without a second read.
func (p *ClientPayload) UnmarshalJSON(data []byte) error {
	type envelope struct {
		GuildID string `json:"guildId"`
		Op      string `json:"op"`
	}
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("decode client payload: %w", err)
	}
	p.GuildID, p.Op, p.Raw = e.GuildID, e.Op, data
	return nil
}

// VoiceUpdate is the admission ticket for creating a Player (spec §3).
type VoiceUpdate struct {
	SessionID string           `json:"sessionId"`
	Event     VoiceUpdateEvent `json:"event"`
}

// VoiceUpdateEvent names the upstream voice server this Player bridges to.
type VoiceUpdateEvent struct {
	Token    string `json:"token"`
	GuildID  string `json:"guildId"`
	Endpoint string `json:"endpoint"`
}

// DecodeVoiceUpdate decodes the op-specific fields of a VoiceUpdate payload.
func DecodeVoiceUpdate(p ClientPayload) (VoiceUpdate, error) {
	var vu VoiceUpdate
	err := json.Unmarshal(p.Raw, &vu)
	return vu, err
}

// Play starts playback of a container file at path. Other fields are
// accepted but inert in this implementation (see DESIGN.md's Open Question
// resolution for Pause/Seek/Volume/Filters).
type Play struct {
	Track     string `json:"track"`
	StartTime *int64 `json:"startTime,omitempty"` // ms
	EndTime   *int64 `json:"endTime,omitempty"`   // ms
	Volume    *int16 `json:"volume,omitempty"`
	NoReplace *bool  `json:"noReplace,omitempty"`
	Pause     *bool  `json:"pause,omitempty"`
}

// DecodePlay decodes the op-specific fields of a Play payload.
func DecodePlay(p ClientPayload) (Play, error) {
	var play Play
	err := json.Unmarshal(p.Raw, &play)
	return play, err
}

// Pause toggles pause state.
type Pause struct {
	Pause bool `json:"pause"`
}

// DecodePause decodes the op-specific fields of a Pause payload.
func DecodePause(p ClientPayload) (Pause, error) {
	var v Pause
	err := json.Unmarshal(p.Raw, &v)
	return v, err
}

// Seek requests playback jump to position ms; accepted but inert (see
// DESIGN.md's Open Question resolution).
type Seek struct {
	Position int64 `json:"position"` // ms
}

// DecodeSeek decodes the op-specific fields of a Seek payload.
func DecodeSeek(p ClientPayload) (Seek, error) {
	var v Seek
	err := json.Unmarshal(p.Raw, &v)
	return v, err
}

// Volume carries a requested output volume; the Manager stores it without
// applying it to the Opus passthrough stream.
type Volume struct {
	Volume int16 `json:"volume"`
}

// DecodeVolume decodes the op-specific fields of a Volume payload.
func DecodeVolume(p ClientPayload) (Volume, error) {
	var v Volume
	err := json.Unmarshal(p.Raw, &v)
	return v, err
}

// Filters is accepted as an inert payload (spec §1 Non-goals: filter DSP
// chains). Its shape is kept opaque rather than enumerating filter kinds
// that are never applied.
type Filters struct {
	Raw json.RawMessage `json:"-"`
}

// DecodeFilters decodes a Filters payload, retaining the raw body.
func DecodeFilters(p ClientPayload) (Filters, error) {
	return Filters{Raw: p.Raw}, nil
}

// OpErrorNotification marks a server-to-client error frame (spec §7
// ClientProtocol: "malformed JSON or unknown guild routing -> delivered
// back as a text frame; session continues").
const OpErrorNotification = "error"

// ErrorNotification is the text frame sent back to the client when a
// ClientPayload cannot be routed or decoded.
type ErrorNotification struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId,omitempty"`
	Message string `json:"message"`
}
