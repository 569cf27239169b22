// Package voiceudp owns the UDP socket that carries encrypted RTP frames to
// the upstream voice server: IP discovery, RTP header construction, and the
// paced send loop (spec §4.3).
package voiceudp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pion/rtp"

	"audiorelay/internal/cipher"
)

// SilenceFrame is the fixed three-byte Opus "silence" packet sent once when
// a playback stream ends (spec §4.3).
var SilenceFrame = []byte{0xF8, 0xFF, 0xFE}

// Message is one item pushed into the send loop: either Audio carrying a
// decoded container frame, or Silence.
type Message struct {
	Audio []byte
}

// IsSilence reports whether m carries no Audio payload and should be sent
// as the fixed silence frame.
func (m Message) IsSilence() bool { return m.Audio == nil }

// AudioMessage wraps a container frame for the send loop.
func AudioMessage(frame []byte) Message { return Message{Audio: frame} }

// SilenceMessage is the zero-value Message, sent once at stream end.
var SilenceMessage = Message{}

const (
	ipDiscoveryRequestLen  = 74
	ipDiscoveryResponseLen = 74
	ipDiscoveryReqType     = 0x0001
	ipDiscoveryRespType    = 0x0002
	ipDiscoveryPayloadLen  = 70
)

// UDP owns the voice data-plane socket: sequence/timestamp state, the
// cipher mode, and the secret key installed after SessionDescription.
type UDP struct {
	conn   *net.UDPConn
	ssrc   uint32
	seq    uint16
	ts     uint32
	mode   *cipher.Mode
	key    [32]byte
	keyed  bool
	log    *slog.Logger
	inbox  chan Message
	closed chan struct{}
}

// Dial binds an ephemeral local UDP socket and connects it to the address
// the upstream Ready payload advertised.
func Dial(addr string, ssrc uint32, log *slog.Logger) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voiceudp: resolve %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("voiceudp: dial %q: %w", addr, err)
	}
	return &UDP{
		conn:   conn,
		ssrc:   ssrc,
		log:    log,
		inbox:  make(chan Message, 32),
		closed: make(chan struct{}),
	}, nil
}

// Discover performs the IP-discovery handshake (spec §4.3): send a 74-byte
// request carrying this connection's ssrc, and parse the externally-visible
// address and port out of the response.
func (u *UDP) Discover() (externalIP string, externalPort uint16, err error) {
	req := make([]byte, ipDiscoveryRequestLen)
	binary.BigEndian.PutUint16(req[0:2], ipDiscoveryReqType)
	binary.BigEndian.PutUint16(req[2:4], ipDiscoveryPayloadLen)
	binary.BigEndian.PutUint32(req[4:8], u.ssrc)

	if _, err := u.conn.Write(req); err != nil {
		return "", 0, fmt.Errorf("voiceudp: send ip discovery request: %w", err)
	}

	resp := make([]byte, ipDiscoveryResponseLen)
	n, err := u.conn.Read(resp)
	if err != nil {
		return "", 0, fmt.Errorf("voiceudp: read ip discovery response: %w", err)
	}
	if n != ipDiscoveryResponseLen {
		return "", 0, fmt.Errorf("voiceudp: ip discovery response length %d, want %d", n, ipDiscoveryResponseLen)
	}

	respType := binary.BigEndian.Uint16(resp[0:2])
	respLen := binary.BigEndian.Uint16(resp[2:4])
	respSSRC := binary.BigEndian.Uint32(resp[4:8])
	if respType != ipDiscoveryRespType || respLen != ipDiscoveryPayloadLen || respSSRC != u.ssrc {
		return "", 0, fmt.Errorf("voiceudp: ip discovery response mismatch: type=%#x len=%d ssrc=%d", respType, respLen, respSSRC)
	}

	ipBytes := resp[8:72]
	if i := bytes.IndexByte(ipBytes, 0); i >= 0 {
		ipBytes = ipBytes[:i]
	}
	port := binary.BigEndian.Uint16(resp[72:74])
	return string(ipBytes), port, nil
}

// Install installs the cipher mode and secret key delivered by
// SessionDescription. Before this is called the send loop still consumes
// messages and advances sequence and timestamp, but transmits nothing.
func (u *UDP) Install(mode *cipher.Mode, key [32]byte) {
	u.mode, u.key, u.keyed = mode, key, true
}

// Send queues one message for Run to transmit. The inbox holds 32 messages;
// while it is full, Send blocks until Run takes one or Close is called.
func (u *UDP) Send(msg Message) {
	select {
	case u.inbox <- msg:
	case <-u.closed:
	}
}

// Close stops the send loop; Run returns once its current iteration ends.
func (u *UDP) Close() {
	select {
	case <-u.closed:
	default:
		close(u.closed)
	}
}

// Run drains the inbox until it (or Close) is closed, encrypting and
// sending one RTP packet per message (spec §4.3 send loop). sequence and
// timestamp advance unconditionally, even when the socket write fails, so
// the peer's timeline stays monotone once the stream resumes.
func (u *UDP) Run() {
	defer u.conn.Close()
	for {
		select {
		case msg, ok := <-u.inbox:
			if !ok {
				return
			}
			u.sendOne(msg)
		case <-u.closed:
			return
		}
	}
}

func (u *UDP) sendOne(msg Message) {
	payload := msg.Audio
	if msg.IsSilence() {
		payload = SilenceFrame
	}

	header := rtp.Header{
		Version:        2,
		PayloadType:    0x78,
		SequenceNumber: u.seq,
		Timestamp:      u.ts,
		SSRC:           u.ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		u.log.Error("voiceudp: marshal rtp header", "err", err)
	} else if u.keyed {
		wire, err := u.mode.Encrypt(payload, headerBytes, &u.key)
		if err != nil {
			u.log.Error("voiceudp: encrypt frame", "err", err)
		} else if _, err := u.conn.Write(wire); err != nil {
			u.log.Warn("voiceudp: send frame", "err", err)
		}
	}

	u.seq++
	u.ts += 960
}
