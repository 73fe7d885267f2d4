// Package connections manages each tenant's gateway connection lifecycle:
//
//	disconnected -> connecting -> qr_pending | pairing_pending -> connected
//	                      \______________ locked ______________/
//
// Every admitted Connect/RefreshQR counts as a pairing attempt. The attempt
// that brings the counter to MaxAttempts locks the tenant for LockDuration;
// while locked no pairing artifact (QR or code) is issued. Reaching connected
// clears the counter. The counter and lock are persisted so a restart cannot
// bypass them.
//
// Results of asynchronous work (QR rotation, pairing codes, connection
// success or failure) are delivered as Events through the Hub.
package connections

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lock and pairing policy.
const (
	MaxAttempts    = 3
	LockDuration   = 5 * time.Minute
	PairingCodeTTL = 2 * time.Minute
)

// Status is a tenant's connection state.
type Status string

const (
	StatusDisconnected   Status = "disconnected"
	StatusConnecting     Status = "connecting"
	StatusQRPending      Status = "qr_pending"
	StatusPairingPending Status = "pairing_pending"
	StatusConnected      Status = "connected"
	StatusLocked         Status = "locked"
)

// Pairing reports whether s is mid-pairing.
func (s Status) Pairing() bool {
	switch s {
	case StatusConnecting, StatusQRPending, StatusPairingPending:
		return true
	}
	return false
}

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrShutdown         = errors.New("connection manager shut down")
	ErrInvalidGroup     = errors.New("invalid group address")
)

// LockedError is returned while a tenant is locked out of pairing.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("connection locked for %s (until %s)",
		e.Remaining.Round(time.Second), e.Until.UTC().Format(time.RFC3339))
}

func lockedError(until, now time.Time) *LockedError {
	return &LockedError{Until: until, Remaining: until.Sub(now)}
}

// IsLocked reports whether err is a *LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// State is a point-in-time snapshot of a tenant's connection.
type State struct {
	TenantID         uuid.UUID  `json:"tenantId"`
	Status           Status     `json:"status"`
	Attempts         int        `json:"attempts"`
	LockedUntil      *time.Time `json:"lockedUntil,omitempty"`
	QRData           string     `json:"qrData,omitempty"`
	QRAttempt        int        `json:"qrAttempt,omitempty"`
	PairingCode      string     `json:"pairingCode,omitempty"`
	PairingPhone     string     `json:"pairingPhone,omitempty"`
	PairingIssuedAt  *time.Time `json:"pairingIssuedAt,omitempty"`
	PairingExpiresAt *time.Time `json:"pairingExpiresAt,omitempty"`
	BoundPeerID      string     `json:"boundPeerId,omitempty"`
	LastConnectedAt  *time.Time `json:"lastConnectedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

// ConnectResult is the synchronous outcome of Connect.
type ConnectResult struct {
	Connected   bool       `json:"connected,omitempty"`
	Locked      bool       `json:"locked,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

// NormalizePairingPhone strips formatting characters from a phone number
// and checks it is 10 to 15 digits.
func NormalizePairingPhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	if len(cleaned) < 10 || len(cleaned) > 15 {
		return "", ErrInvalidPhone
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return cleaned, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
