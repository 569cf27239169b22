// Package voicegateway maintains the upstream WebSocket control channel to
// a Discord-style voice server: Hello/Identify handshake, heartbeats, and
// forwarding of Ready/SessionDescription to the owning VoiceManager (spec
// §4.2).
package voicegateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"audiorelay/internal/payloads"
)

// ErrUnexpectedProtocol is returned when the upstream gateway deviates from
// the documented handshake (spec §4.1 step 1/3, §7 VoiceBridgeFatal).
type ErrUnexpectedProtocol struct {
	Step   string
	Reason string
}

func (e *ErrUnexpectedProtocol) Error() string {
	return fmt.Sprintf("voicegateway: unexpected protocol at %s: %s", e.Step, e.Reason)
}

// Events is what VoiceGateway forwards up to VoiceManager: only Ready and
// SessionDescription are ever sent here, per spec §4.2.
type Events struct {
	Ready              chan payloads.Ready
	SessionDescription chan payloads.SessionDescription
}

// Gateway owns one upstream voice WebSocket connection.
type Gateway struct {
	conn              *websocket.Conn
	log               *slog.Logger
	events            Events
	outbox            chan []byte
	done              chan struct{}
	heartbeatInterval time.Duration
}

// Connect dials wss://{endpoint}?v=7, awaits the mandatory Hello frame, and
// returns a Gateway ready for Identify (spec §4.1 step 1).
func Connect(endpoint string, log *slog.Logger) (*Gateway, error) {
	url := fmt.Sprintf("wss://%s/?v=7", endpoint)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("voicegateway: dial %s: %w", url, err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("voicegateway: read hello: %w", err)
	}
	var env payloads.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("voicegateway: decode hello envelope: %w", err)
	}
	if env.Op != payloads.OpHello {
		conn.Close()
		return nil, &ErrUnexpectedProtocol{Step: "await-hello", Reason: fmt.Sprintf("got opcode %d", env.Op)}
	}
	var hello payloads.Hello
	if err := json.Unmarshal(env.D, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("voicegateway: decode hello body: %w", err)
	}

	g := &Gateway{
		conn: conn,
		log:  log,
		events: Events{
			Ready:              make(chan payloads.Ready, 1),
			SessionDescription: make(chan payloads.SessionDescription, 1),
		},
		outbox:            make(chan []byte, 8),
		done:              make(chan struct{}),
		heartbeatInterval: time.Duration(hello.HeartbeatInterval) * time.Millisecond,
	}
	return g, nil
}

// Events returns the channels Ready/SessionDescription are forwarded on.
func (g *Gateway) Events() Events { return g.events }

// Identify sends opcode 0, the first outbound frame (spec §4.1 step 2,
// §4.2 ordering guarantee: "Identify is sent before any other outbound
// frame").
func (g *Gateway) Identify(id payloads.Identify) error {
	frame, err := payloads.Encode(payloads.OpIdentify, id)
	if err != nil {
		return fmt.Errorf("voicegateway: encode identify: %w", err)
	}
	return g.conn.WriteMessage(websocket.TextMessage, frame)
}

// Send queues an outbound frame for the event loop to write verbatim (spec
// §4.2: outbound queue drain has top priority every tick).
func (g *Gateway) Send(frame []byte) {
	select {
	case g.outbox <- frame:
	case <-g.done:
	}
}

// SendEnvelope encodes and queues op/data as one outbound frame.
func (g *Gateway) SendEnvelope(op int, data any) error {
	frame, err := payloads.Encode(op, data)
	if err != nil {
		return fmt.Errorf("voicegateway: encode op %d: %w", op, err)
	}
	g.Send(frame)
	return nil
}

// Close tears down the gateway; Run's event loop exits and the heartbeat
// ticker stops (spec §4.2 termination).
func (g *Gateway) Close() {
	select {
	case <-g.done:
	default:
		close(g.done)
	}
	g.conn.Close()
}

// Run is the event loop: outbound drain > heartbeat tick > inbound read, in
// that priority order every iteration (spec §4.2). It returns when the
// connection closes, a send fails, or Close is called.
func (g *Gateway) Run() {
	defer g.conn.Close()

	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	inbound := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go g.readLoop(inbound, readErr)

	for {
		// Outbound drain takes priority: check it non-blockingly before
		// folding it into the main select (spec §4.2 ordering).
		select {
		case frame := <-g.outbox:
			if err := g.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.log.Warn("voicegateway: send failed", "err", err)
				return
			}
			continue
		default:
		}

		// A due heartbeat goes ahead of any pending inbound frame.
		select {
		case <-ticker.C:
			if err := g.SendEnvelope(payloads.OpHeartbeat, time.Now().UnixMilli()); err != nil {
				g.log.Warn("voicegateway: heartbeat failed", "err", err)
				return
			}
			continue
		default:
		}

		select {
		case frame := <-g.outbox:
			if err := g.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.log.Warn("voicegateway: send failed", "err", err)
				return
			}
		case <-ticker.C:
			nonce := time.Now().UnixMilli()
			if err := g.SendEnvelope(payloads.OpHeartbeat, nonce); err != nil {
				g.log.Warn("voicegateway: heartbeat failed", "err", err)
				return
			}
		case data, ok := <-inbound:
			if !ok {
				return
			}
			g.handleInbound(data)
		case err := <-readErr:
			g.log.Info("voicegateway: connection closed", "err", err)
			return
		case <-g.done:
			return
		}
	}
}

func (g *Gateway) readLoop(inbound chan<- []byte, readErr chan<- error) {
	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			readErr <- err
			close(inbound)
			return
		}
		select {
		case inbound <- data:
		case <-g.done:
			return
		}
	}
}

func (g *Gateway) handleInbound(data []byte) {
	var env payloads.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.log.Warn("voicegateway: malformed envelope", "err", err)
		return
	}

	switch env.Op {
	case payloads.OpReady:
		var ready payloads.Ready
		if err := json.Unmarshal(env.D, &ready); err != nil {
			g.log.Warn("voicegateway: malformed ready", "err", err)
			return
		}
		g.events.Ready <- ready
	case payloads.OpSessionDescription:
		var sd payloads.SessionDescription
		if err := json.Unmarshal(env.D, &sd); err != nil {
			g.log.Warn("voicegateway: malformed session description", "err", err)
			return
		}
		g.events.SessionDescription <- sd
	case payloads.OpHello, payloads.OpSpeaking, payloads.OpResumed,
		payloads.OpClientDisconnect, payloads.OpHeartbeatACK:
		// ignored: Hello after construction is invalid per spec §4.2;
		// the rest carry no state this relay needs to act on.
	default:
		// unknown opcodes are opaque and ignored, per spec §3.
	}
}
