package session

import (
	"errors"
	"time"
)

// Phase is a connection lifecycle phase.
type Phase string

const (
	PhaseInit              Phase = "INIT"
	PhaseConnecting        Phase = "CONNECTING"
	PhaseAwaitingChallenge Phase = "AWAITING_CHALLENGE"
	PhaseOpen              Phase = "OPEN"
	PhaseClosing           Phase = "CLOSING"
	PhaseReconnecting      Phase = "RECONNECTING"
	PhaseLoggedOut         Phase = "LOGGED_OUT"
)

// Terminal reports whether no further transition can follow.
func (p Phase) Terminal() bool { return p == PhaseLoggedOut }

// Outcome is how Run ended.
type Outcome string

const (
	OutcomeLoggedOut        Outcome = "logged_out"
	OutcomeChallengeTimeout Outcome = "challenge_timeout"
	OutcomeStopped          Outcome = "stopped"
)

var (
	ErrLoggedOut        = errors.New("session logged out")
	ErrChallengeTimeout = errors.New("challenge not completed in time")
)

// Challenge is what the operator must complete to link the device.
type Challenge struct {
	QR          string `json:"qr,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

func (c Challenge) Empty() bool { return c.QR == "" && c.PairingCode == "" }

// Connection states reported by the socket.
const (
	ConnConnecting = "connecting"
	ConnOpen       = "open"
	ConnClose      = "close"
)

// ConnectionUpdate is one event from the socket. Any combination of fields
// may be set; a challenge is applied before the connection state.
type ConnectionUpdate struct {
	Connection  string
	QR          string
	PairingCode string
	StatusCode  int
	Err         error
}

// PhaseEvent is broadcast to subscribers on every transition.
type PhaseEvent struct {
	Session    string     `json:"session"`
	Phase      Phase      `json:"phase"`
	Challenge  *Challenge `json:"challenge,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
	At         time.Time  `json:"at"`
}
