package session

import (
	"crypto/tls"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"audiorelay/internal/payloads"
	"audiorelay/internal/player"
)

// fakeVoiceBackend stands in for one guild's upstream voice server: a TLS
// WebSocket gateway plus a UDP socket answering IP discovery, enough for
// voicemanager.Construct's full handshake to complete.
func fakeVoiceBackend(t *testing.T) (endpoint string, stop func()) {
	t.Helper()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	udpDone := make(chan struct{})
	go func() {
		buf := make([]byte, 2048)
		for {
			n, raddr, err := udpConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n == 74 {
				resp := make([]byte, 74)
				binary.BigEndian.PutUint16(resp[0:2], 0x0002)
				binary.BigEndian.PutUint16(resp[2:4], 70)
				copy(resp[4:8], buf[4:8])
				copy(resp[8:], []byte("127.0.0.1"))
				binary.BigEndian.PutUint16(resp[72:74], 1)
				udpConn.WriteToUDP(resp, raddr)
			}
		}
	}()
	_, udpPortStr, _ := net.SplitHostPort(udpConn.LocalAddr().String())
	udpPort, err := strconv.Atoi(udpPortStr)
	if err != nil {
		t.Fatalf("parse udp port: %v", err)
	}

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
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	stop = func() {
		wsSrv.Close()
		close(udpDone)
		udpConn.Close()
	}
	return strings.TrimPrefix(wsSrv.URL, "https://"), stop
}

func TestTeardownDestroysAllOwnedPlayers(t *testing.T) {
	prevTLS := websocket.DefaultDialer.TLSClientConfig
	websocket.DefaultDialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	defer func() { websocket.DefaultDialer.TLSClientConfig = prevTLS }()

	endpointA, stopA := fakeVoiceBackend(t)
	defer stopA()
	endpointB, stopB := fakeVoiceBackend(t)
	defer stopB()

	pA, err := player.New("guildA", payloads.VoiceUpdate{
		SessionID: "sA",
		Event:     payloads.VoiceUpdateEvent{Token: "tA", GuildID: "guildA", Endpoint: endpointA},
	}, "user1", discardLogger())
	if err != nil {
		t.Fatalf("construct player A: %v", err)
	}
	pB, err := player.New("guildB", payloads.VoiceUpdate{
		SessionID: "sB",
		Event:     payloads.VoiceUpdateEvent{Token: "tB", GuildID: "guildB", Endpoint: endpointB},
	}, "user1", discardLogger())
	if err != nil {
		t.Fatalf("construct player B: %v", err)
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	sessReady := make(chan *Session, 1)
	clientSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sess := New(serverConn, Identity{UserID: "user1"}, discardLogger())
		sess.players["guildA"] = pA
		sess.players["guildB"] = pB
		sessReady <- sess
		sess.Serve()
	}))
	defer clientSrv.Close()

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(clientSrv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sess := <-sessReady

	// Closing the client connection drives the server-side Serve's read
	// loop to return and teardown to run, destroying every owned Player
	// (the "WS close with two active guilds produces exactly two Destroy
	// dispatches" scenario).
	clientConn.Close()

	deadline := time.After(2 * time.Second)
	for {
		sess.mu.Lock()
		n := len(sess.players)
		sess.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("teardown did not clear the players map in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
