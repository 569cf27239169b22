// Package player implements the per-guild command inbox that owns one
// VoiceManager's lifecycle (spec §4.6).
package player

import (
	"fmt"
	"log/slog"
	"sync"

	"audiorelay/internal/payloads"
	"audiorelay/internal/voicemanager"
)

// Player dispatches Play/Pause/Stop/Seek/Volume/Filters/Destroy to the one
// VoiceManager it owns.
type Player struct {
	GuildID   string
	SessionID string
	Token     string
	Endpoint  string

	log        *slog.Logger
	manager    *voicemanager.Manager
	inbox      chan payloads.ClientPayload
	done       chan struct{}
	destroyOne sync.Once
}

// New constructs a Player from an accepted VoiceUpdate and runs the
// construction handshake immediately (spec §3: "a Player exists iff a
// VoiceUpdate ... was accepted").
func New(guildID string, update payloads.VoiceUpdate, userID string, log *slog.Logger) (*Player, error) {
	if update.Event.Endpoint == "" {
		return nil, fmt.Errorf("player: voice update for guild %s has no endpoint", guildID)
	}

	mgr, err := voicemanager.Construct(voicemanager.Identity{
		GuildID:   guildID,
		UserID:    userID,
		SessionID: update.SessionID,
		Token:     update.Event.Token,
		Endpoint:  update.Event.Endpoint,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("player: construct voice manager for guild %s: %w", guildID, err)
	}

	p := &Player{
		GuildID:   guildID,
		SessionID: update.SessionID,
		Token:     update.Event.Token,
		Endpoint:  update.Event.Endpoint,
		log:       log,
		manager:   mgr,
		inbox:     make(chan payloads.ClientPayload, 32),
		done:      make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Dispatch hands one client frame to this Player's inbox, which holds 32
// frames. While the inbox is full, Dispatch blocks until the Player takes a
// frame or is destroyed; after Destroy it returns without queueing.
func (p *Player) Dispatch(cp payloads.ClientPayload) {
	select {
	case p.inbox <- cp:
	case <-p.done:
	}
}

func (p *Player) run() {
	for {
		select {
		case cp, ok := <-p.inbox:
			if !ok {
				return
			}
			p.handle(cp)
		case <-p.done:
			return
		}
	}
}

func (p *Player) handle(cp payloads.ClientPayload) {
	switch cp.Op {
	case payloads.OpPlay:
		play, err := payloads.DecodePlay(cp)
		if err != nil {
			p.log.Warn("player: malformed play payload", "guild", p.GuildID, "err", err)
			return
		}
		if err := p.manager.Play(play.Track); err != nil {
			p.log.Warn("player: play failed", "guild", p.GuildID, "err", err)
		}
	case payloads.OpStop:
		p.manager.Stop()
	case payloads.OpPause:
		pause, err := payloads.DecodePause(cp)
		if err != nil {
			p.log.Warn("player: malformed pause payload", "guild", p.GuildID, "err", err)
			return
		}
		p.manager.Pause(pause.Pause)
	case payloads.OpSeek:
		seek, err := payloads.DecodeSeek(cp)
		if err != nil {
			p.log.Warn("player: malformed seek payload", "guild", p.GuildID, "err", err)
			return
		}
		p.manager.Seek(seek.Position)
	case payloads.OpVolume:
		vol, err := payloads.DecodeVolume(cp)
		if err != nil {
			p.log.Warn("player: malformed volume payload", "guild", p.GuildID, "err", err)
			return
		}
		p.manager.SetVolume(vol.Volume)
	case payloads.OpFilters:
		filters, _ := payloads.DecodeFilters(cp)
		p.manager.SetFilters(voicemanager.Filters{Raw: filters.Raw})
	case payloads.OpDestroy:
		p.Destroy()
	default:
		p.log.Warn("player: unknown op", "guild", p.GuildID, "op", cp.Op)
	}
}

// Destroy tears down the VoiceManager and stops this Player's goroutine.
// Idempotent: safe to call from both an inbox Destroy op and
// ClientSession's own teardown (spec §3 lifecycle).
func (p *Player) Destroy() {
	p.destroyOne.Do(func() {
		close(p.done)
		p.manager.Destroy()
	})
}
