package voicemanager

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"audiorelay/internal/payloads"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The following CRC machinery duplicates internal/container/ogg.go's
// oggCRC exactly (the crc is computed over the zeroed header, the segment
// table and the payload, as the reader checks it), so fixtures written here
// parse cleanly.
var oggCRCTable = func() [256]uint32 {
	const poly = 0x04C11DB7
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

func oggCRC(header, payload []byte) uint32 {
	var crc uint32
	for _, b := range header {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	for _, b := range payload {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// writeTestOggFile writes numFrames single-segment Ogg pages, each holding
// a frameSize-byte Opus frame, for Manager.Play to read.
func writeTestOggFile(t *testing.T, numFrames, frameSize int) string {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < numFrames; i++ {
		payload := bytes.Repeat([]byte{byte(0x10 + i)}, frameSize)

		header := make([]byte, 28)
		copy(header[0:4], "OggS")
		binary.LittleEndian.PutUint64(header[6:14], uint64(i))
		binary.LittleEndian.PutUint32(header[14:18], 0xAABBCCDD)
		binary.LittleEndian.PutUint32(header[18:22], uint32(i))
		header[26] = 1 // one segment
		header[27] = byte(frameSize)

		crc := oggCRC(header, payload)
		binary.LittleEndian.PutUint32(header[22:26], crc)

		buf.Write(header)
		buf.Write(payload)
	}

	path := filepath.Join(t.TempDir(), "stream.ogg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write ogg fixture: %v", err)
	}
	return path
}

// fakeBackend stands in for both halves of an upstream voice server: a TLS
// WebSocket gateway that completes the full handshake and then forwards
// every further client frame onto fromClient, and a UDP socket that answers
// IP discovery and forwards every other datagram onto udpPackets.
type fakeBackend struct {
	endpoint   string
	fromClient chan []byte
	udpPackets chan []byte
	stop       func()
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	udpPackets := make(chan []byte, 64)
	udpDone := make(chan struct{})
	go func() {
		buf := make([]byte, 2048)
		for {
			n, raddr, err := udpConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := append([]byte{}, buf[:n]...)
			if n == 74 {
				resp := make([]byte, 74)
				binary.BigEndian.PutUint16(resp[0:2], 0x0002)
				binary.BigEndian.PutUint16(resp[2:4], 70)
				copy(resp[4:8], data[4:8])
				copy(resp[8:], []byte("127.0.0.1"))
				binary.BigEndian.PutUint16(resp[72:74], 1)
				udpConn.WriteToUDP(resp, raddr)
				continue
			}
			select {
			case udpPackets <- data:
			case <-udpDone:
				return
			default:
			}
		}
	}()
	_, udpPortStr, _ := net.SplitHostPort(udpConn.LocalAddr().String())
	udpPort, err := strconv.Atoi(udpPortStr)
	if err != nil {
		t.Fatalf("parse udp port: %v", err)
	}

	fromClient := make(chan []byte, 64)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	wsSrv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, _ := payloads.Encode(payloads.OpHello, payloads.Hello{V: 7, HeartbeatInterval: 30000})
		conn.WriteMessage(websocket.TextMessage, hello)

		if _, _, err := conn.ReadMessage(); err != nil { // Identify
			return
		}

		ready, _ := payloads.Encode(payloads.OpReady, payloads.Ready{
			SSRC: 42, IP: "127.0.0.1", Port: uint16(udpPort), Modes: []string{"xsalsa20_poly1305"},
		})
		conn.WriteMessage(websocket.TextMessage, ready)

		if _, _, err := conn.ReadMessage(); err != nil { // SelectProtocol
			return
		}

		var key [32]byte
		sd, _ := payloads.Encode(payloads.OpSessionDescription, payloads.SessionDescription{
			Mode: "xsalsa20_poly1305", SecretKey: key,
		})
		conn.WriteMessage(websocket.TextMessage, sd)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case fromClient <- data:
			default:
			}
		}
	}))

	stop := func() {
		wsSrv.Close()
		close(udpDone)
		udpConn.Close()
	}
	return &fakeBackend{
		endpoint:   strings.TrimPrefix(wsSrv.URL, "https://"),
		fromClient: fromClient,
		udpPackets: udpPackets,
		stop:       stop,
	}
}

func withInsecureDialer(t *testing.T) {
	t.Helper()
	prev := websocket.DefaultDialer.TLSClientConfig
	websocket.DefaultDialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	t.Cleanup(func() { websocket.DefaultDialer.TLSClientConfig = prev })
}

// TestPlaySendsSpeakingAndStreamsFrames drives the full six-step
// construction handshake, then Play, and checks both that Speaking(1) is
// sent immediately (spec §8 scenario 1) and that queued frames eventually
// reach the UDP backend as RTP packets.
func TestPlaySendsSpeakingAndStreamsFrames(t *testing.T) {
	withInsecureDialer(t)

	backend := newFakeBackend(t)
	defer backend.stop()

	mgr, err := Construct(Identity{
		GuildID: "g1", UserID: "u1", SessionID: "s1", Token: "t1", Endpoint: backend.endpoint,
	}, discardLogger())
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer mgr.Destroy()

	path := writeTestOggFile(t, 3, 20)
	if err := mgr.Play(path); err != nil {
		t.Fatalf("Play: %v", err)
	}

	var speakingRaw []byte
	select {
	case speakingRaw = <-backend.fromClient:
	case <-time.After(2 * time.Second):
		t.Fatal("Speaking envelope was not sent")
	}
	var env payloads.Envelope
	if err := json.Unmarshal(speakingRaw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Op != payloads.OpSpeaking {
		t.Fatalf("got op %d, want Speaking (%d)", env.Op, payloads.OpSpeaking)
	}
	var speaking payloads.Speaking
	if err := json.Unmarshal(env.D, &speaking); err != nil {
		t.Fatalf("decode speaking body: %v", err)
	}
	if speaking.Speaking != 1 {
		t.Fatalf("got speaking=%d, want 1", speaking.Speaking)
	}

	select {
	case <-backend.udpPackets:
	case <-time.After(2 * time.Second):
		t.Fatal("no RTP packet arrived for the queued frames")
	}
}

// TestPauseStopsAudioSendsWithoutSilenceSpam confirms the pacer neither
// sends Audio nor repeatedly sends Silence while paused, and resumes once
// unpaused (spec §4.1 Pause semantics, resolved in DESIGN.md).
func TestPauseStopsAudioSendsWithoutSilenceSpam(t *testing.T) {
	withInsecureDialer(t)

	backend := newFakeBackend(t)
	defer backend.stop()

	mgr, err := Construct(Identity{
		GuildID: "g2", UserID: "u1", SessionID: "s2", Token: "t2", Endpoint: backend.endpoint,
	}, discardLogger())
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer mgr.Destroy()

	mgr.Pause(true)

	path := writeTestOggFile(t, 5, 20)
	if err := mgr.Play(path); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select { // drain the Speaking envelope sent at the start of Play
	case <-backend.fromClient:
	case <-time.After(2 * time.Second):
		t.Fatal("Speaking envelope was not sent")
	}

	select {
	case pkt := <-backend.udpPackets:
		t.Fatalf("unexpected packet sent while paused: %x", pkt)
	case <-time.After(150 * time.Millisecond):
	}

	mgr.Pause(false)

	select {
	case <-backend.udpPackets:
	case <-time.After(2 * time.Second):
		t.Fatal("no packet sent after unpausing")
	}
}
