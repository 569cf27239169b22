// Package voicemanager orchestrates one voice session end to end: the
// VoiceGateway handshake, VoiceUDP construction and keying, and the paced
// feeder that turns a container's frames into RTP sends (spec §4.1).
package voicemanager

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"audiorelay/internal/cipher"
	"audiorelay/internal/container"
	"audiorelay/internal/payloads"
	"audiorelay/internal/voicegateway"
	"audiorelay/internal/voiceudp"
)

// ErrUnexpectedProtocol re-exports voicegateway's construction error type so
// callers only need to import this package.
type ErrUnexpectedProtocol = voicegateway.ErrUnexpectedProtocol

// Identity names the session this Manager bridges, supplied by the Player
// at construction.
type Identity struct {
	GuildID   string
	UserID    string
	SessionID string
	Token     string
	Endpoint  string
}

// Filters is accepted and stored but never applied to the wire (spec §4.1:
// "filters are reserved"; Non-goals exclude filter DSP chains).
type Filters struct {
	Raw []byte
}

// Manager is the fully-keyed RTP data plane for one voice session.
type Manager struct {
	log     *slog.Logger
	gateway *voicegateway.Gateway
	udp     *voiceudp.UDP
	ssrc    uint32

	volume  int16
	filters Filters
	paused  bool

	feederDone chan struct{}
	closed     chan struct{}
}

// Construct runs the six-step handshake of spec §4.1 and returns a Manager
// with its UDP send loop already spawned. Any step failing aborts
// construction with no background task left running.
func Construct(id Identity, log *slog.Logger) (*Manager, error) {
	gw, err := voicegateway.Connect(id.Endpoint, log)
	if err != nil {
		return nil, fmt.Errorf("voicemanager: connect gateway: %w", err)
	}
	go gw.Run()

	if err := gw.Identify(payloads.Identify{
		ServerID:  id.GuildID,
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Token:     id.Token,
	}); err != nil {
		gw.Close()
		return nil, fmt.Errorf("voicemanager: send identify: %w", err)
	}

	var ready payloads.Ready
	select {
	case ready = <-gw.Events().Ready:
	case <-time.After(15 * time.Second):
		gw.Close()
		return nil, &ErrUnexpectedProtocol{Step: "await-ready", Reason: "timed out"}
	}

	modes := ready.SupportedModes()
	if len(modes) == 0 {
		gw.Close()
		return nil, &ErrUnexpectedProtocol{Step: "await-ready", Reason: "no recognized encryption modes"}
	}
	mode, _ := cipher.SelectMinimum(modes)
	if net.ParseIP(ready.IP) == nil {
		gw.Close()
		return nil, &ErrUnexpectedProtocol{Step: "await-ready", Reason: fmt.Sprintf("malformed ip %q", ready.IP)}
	}

	udpConn, err := voiceudp.Dial(fmt.Sprintf("%s:%d", ready.IP, ready.Port), ready.SSRC, log)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("voicemanager: dial udp: %w", err)
	}

	discoveredIP, discoveredPort, err := udpConn.Discover()
	if err != nil {
		gw.Close()
		udpConn.Close()
		return nil, fmt.Errorf("voicemanager: ip discovery: %w", err)
	}

	if err := gw.SendEnvelope(payloads.OpSelectProtocol, payloads.SelectProtocol{
		Protocol: "udp",
		Data: payloads.SelectProtocolData{
			Address: discoveredIP,
			Port:    discoveredPort,
			Mode:    mode.String(),
		},
	}); err != nil {
		gw.Close()
		udpConn.Close()
		return nil, fmt.Errorf("voicemanager: send select protocol: %w", err)
	}

	var sd payloads.SessionDescription
	select {
	case sd = <-gw.Events().SessionDescription:
	case <-time.After(15 * time.Second):
		gw.Close()
		udpConn.Close()
		return nil, &ErrUnexpectedProtocol{Step: "await-session-description", Reason: "timed out"}
	}

	udpConn.Install(&mode, sd.SecretKey)
	go udpConn.Run()

	return &Manager{
		log:     log,
		gateway: gw,
		udp:     udpConn,
		ssrc:    ready.SSRC,
		closed:  make(chan struct{}),
	}, nil
}

// Play wires a ContainerReader through a bounded mailbox into a 20ms pacer
// that submits frames to VoiceUDP (spec §4.1 play(path)). It returns once
// the feeder goroutines are spawned, not once playback finishes.
func (m *Manager) Play(path string) error {
	if err := m.gateway.SendEnvelope(payloads.OpSpeaking, payloads.Speaking{
		Speaking: 1,
		Delay:    0,
		SSRC:     m.ssrc,
	}); err != nil {
		return fmt.Errorf("voicemanager: send speaking: %w", err)
	}

	reader, err := container.OpenFile(path)
	if err != nil {
		return fmt.Errorf("voicemanager: open container %q: %w", path, err)
	}

	mailbox := make(chan []byte, 32)
	m.feederDone = make(chan struct{})

	go m.readFrames(reader, mailbox)
	go m.pace(mailbox)

	return nil
}

func (m *Manager) readFrames(reader *container.Reader, mailbox chan<- []byte) {
	defer close(mailbox)
	for {
		frame, err := reader.NextFrame()
		if err != nil {
			return
		}
		select {
		case mailbox <- frame:
		case <-m.closed:
			return
		}
	}
}

// pace ticks every 20ms, draining one frame from the mailbox and submitting
// it to VoiceUDP as Audio; on mailbox close it submits one Silence message
// and exits (spec §4.1). It runs as a Manager method and exits as soon as
// m.closed is closed; Stop (and so Destroy) closes that channel and waits
// for this goroutine to finish.
func (m *Manager) pace(mailbox <-chan []byte) {
	defer close(m.feederDone)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.paused {
			select {
			case <-ticker.C:
				continue
			case <-m.closed:
				return
			}
		}

		select {
		case frame, ok := <-mailbox:
			if !ok {
				m.udp.Send(voiceudp.SilenceMessage)
				return
			}
			<-ticker.C
			m.udp.Send(voiceudp.AudioMessage(frame))
		case <-m.closed:
			return
		}
	}
}

// Stop halts the current playback feeder, if any.
func (m *Manager) Stop() {
	if m.feederDone == nil {
		return
	}
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	<-m.feederDone
	m.closed = make(chan struct{})
	m.feederDone = nil
}

// Pause freezes the pacer's ticks and Speaking state (spec §4.1).
func (m *Manager) Pause(p bool) { m.paused = p }

// Seek is accepted but inert: this is a passthrough-Opus pipeline, and
// reopening a container mid-stream at an arbitrary offset is left to a
// future PCM-aware pipeline (spec §4.1 Open Question, resolved in
// DESIGN.md).
func (m *Manager) Seek(ms int64) {}

// SetVolume stores the requested volume; scaling decoded PCM is out of
// scope for an Opus-passthrough pipeline (spec §4.1).
func (m *Manager) SetVolume(v int16) { m.volume = v }

// SetFilters stores filters without applying them (spec Non-goals: filter
// DSP chains).
func (m *Manager) SetFilters(f Filters) { m.filters = f }

// Destroy tears down the gateway and UDP socket; the pacer exits at its
// next tick once the closed channel is signalled.
func (m *Manager) Destroy() {
	m.Stop()
	m.gateway.Close()
	m.udp.Close()
}
