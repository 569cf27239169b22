// Package admission implements the client WebSocket's admission layer:
// header extraction and password check (spec §6, §1 Non-goals: "specified
// only as external collaborators").
package admission

import (
	"errors"
	"net/http"
)

// ErrPasswordMismatch is returned when the Authorization header does not
// match the configured password; callers respond 401 and close (spec §6).
var ErrPasswordMismatch = errors.New("admission: password mismatch")

// ErrMissingHeader is returned when a required header is absent or empty.
var ErrMissingHeader = errors.New("admission: missing required header")

// Identity is the verified (user_id, client_name) tuple handed to a new
// ClientSession.
type Identity struct {
	UserID     string
	ClientName string
}

// Verify extracts Authorization/User-Id/Client-Name from r and checks the
// password against expectedPassword.
func Verify(r *http.Request, expectedPassword string) (Identity, error) {
	auth := r.Header.Get("Authorization")
	userID := r.Header.Get("User-Id")
	clientName := r.Header.Get("Client-Name")

	if userID == "" || clientName == "" {
		return Identity{}, ErrMissingHeader
	}
	if auth != expectedPassword {
		return Identity{}, ErrPasswordMismatch
	}
	return Identity{UserID: userID, ClientName: clientName}, nil
}
