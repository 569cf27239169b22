// Package session implements ClientSession: one client-facing WebSocket,
// fanning payloads out to per-guild Players (spec §4.6).
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"audiorelay/internal/payloads"
	"audiorelay/internal/player"
)

// Identity is the admission-verified caller identity this session was
// created for (spec §1/§6).
type Identity struct {
	UserID     string
	ClientName string
}

// Session owns one client WebSocket and the set of Players it created.
type Session struct {
	conn     *websocket.Conn
	identity Identity
	log      *slog.Logger

	mu      sync.Mutex
	players map[string]*player.Player // guild_id -> Player

	send chan []byte
	done chan struct{}
}

// New wraps an already-upgraded WebSocket connection for a verified caller.
func New(conn *websocket.Conn, identity Identity, log *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		identity: identity,
		log:      log,
		players:  make(map[string]*player.Player),
		send:     make(chan []byte, 32),
		done:     make(chan struct{}),
	}
}

// Serve runs the session until the socket closes: a writer goroutine drains
// the outbound queue, and the calling goroutine reads and dispatches
// inbound frames. Destroys every owned Player on exit (spec §3 lifecycle:
// "a Player is destroyed on ... ClientSession close").
func (s *Session) Serve() {
	defer s.teardown()
	go s.writeLoop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Info("session: connection closed", "user", s.identity.UserID, "err", err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warn("session: write failed", "user", s.identity.UserID, "err", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatch(data []byte) {
	var cp payloads.ClientPayload
	if err := json.Unmarshal(data, &cp); err != nil {
		s.log.Warn("session: malformed client payload", "user", s.identity.UserID, "err", err)
		s.Notify(payloads.ErrorNotification{
			Op:      payloads.OpErrorNotification,
			Message: fmt.Sprintf("malformed payload: %v", err),
		})
		return
	}

	if cp.Op == payloads.OpVoiceUpdate {
		s.handleVoiceUpdate(cp)
		return
	}

	s.mu.Lock()
	p, ok := s.players[cp.GuildID]
	s.mu.Unlock()
	if !ok {
		s.log.Warn("session: op for unknown guild", "user", s.identity.UserID, "guild", cp.GuildID, "op", cp.Op)
		s.Notify(payloads.ErrorNotification{
			Op:      payloads.OpErrorNotification,
			GuildID: cp.GuildID,
			Message: fmt.Sprintf("no player for guild %s", cp.GuildID),
		})
		return
	}

	if cp.Op == payloads.OpDestroy {
		s.mu.Lock()
		delete(s.players, cp.GuildID)
		s.mu.Unlock()
	}
	p.Dispatch(cp)
}

func (s *Session) handleVoiceUpdate(cp payloads.ClientPayload) {
	update, err := payloads.DecodeVoiceUpdate(cp)
	if err != nil {
		s.log.Warn("session: malformed voice update", "user", s.identity.UserID, "err", err)
		s.Notify(payloads.ErrorNotification{
			Op:      payloads.OpErrorNotification,
			GuildID: cp.GuildID,
			Message: fmt.Sprintf("malformed voiceUpdate: %v", err),
		})
		return
	}

	s.mu.Lock()
	if existing, ok := s.players[cp.GuildID]; ok {
		existing.Destroy()
	}
	s.mu.Unlock()

	p, err := player.New(cp.GuildID, update, s.identity.UserID, s.log)
	if err != nil {
		s.log.Warn("session: voice manager construction failed", "user", s.identity.UserID, "guild", cp.GuildID, "err", err)
		return
	}

	s.mu.Lock()
	s.players[cp.GuildID] = p
	s.mu.Unlock()
}

// Notify queues a pre-shaped, client-facing JSON frame (player/session ->
// client relay, spec §4.6, §6: "free-form JSON strings"). Unlike the
// upstream voice gateway's `{op:int,d:object}` envelope, client-bound
// frames are flat structs with their own string `op` field (spec §3).
func (s *Session) Notify(data any) error {
	frame, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: encode notification: %w", err)
	}
	select {
	case s.send <- frame:
	case <-s.done:
	}
	return nil
}

func (s *Session) teardown() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}

	s.mu.Lock()
	players := make([]*player.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	s.players = nil
	s.mu.Unlock()

	for _, p := range players {
		p.Destroy()
	}
	s.conn.Close()
}
