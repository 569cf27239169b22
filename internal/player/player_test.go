package player

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"audiorelay/internal/payloads"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPlayer builds a Player without running the VoiceManager handshake,
// for tests that only exercise inbox dispatch and teardown semantics.
func newTestPlayer() *Player {
	return &Player{
		GuildID: "g1",
		log:     discardLogger(),
		inbox:   make(chan payloads.ClientPayload, 32),
		done:    make(chan struct{}),
	}
}

func TestDispatchBlocksOnFullInboxUntilDestroyed(t *testing.T) {
	p := newTestPlayer()
	// Fill the inbox without a consumer running; the next Dispatch must
	// block until done is closed (spec §5 bounded mailbox backpressure).
	for i := 0; i < cap(p.inbox); i++ {
		p.inbox <- payloads.ClientPayload{GuildID: "g1", Op: payloads.OpPause}
	}

	done := make(chan struct{})
	go func() {
		p.Dispatch(payloads.ClientPayload{GuildID: "g1", Op: payloads.OpStop})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Dispatch on a full inbox should not return until drained or destroyed")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.done)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch did not unblock after Destroy-equivalent close")
	}
}

func TestDestroyOnceGuardRunsOnce(t *testing.T) {
	p := newTestPlayer()
	// Destroy itself would panic on the nil manager, so this checks the
	// sync.Once guard that makes Destroy idempotent.
	p.manager = nil

	called := 0
	p.destroyOne.Do(func() { called++ })
	p.destroyOne.Do(func() { called++ })
	if called != 1 {
		t.Fatalf("sync.Once ran %d times, want 1", called)
	}
}
