// Package realtime carries server-pushed events over a websocket: the client
// Channel with reconnect and resume, the typed event Router, and the server
// Hub that fans events out to every connection of a user.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event tags
const (
	TypeWelcome         = "WELCOME"
	TypeBalanceUpdate   = "BALANCE_UPDATE"
	TypeTransferSuccess = "TRANSFER_SUCCESS"
	TypeTransfer        = "TRANSFER"
	TypeExpense         = "EXPENSE"
	TypeNotification    = "NOTIFICATION"
)

// CloseAuthFailed is the close code the hub sends when a token is rejected
const CloseAuthFailed = 4401

var (
	ErrAuthFailed         = errors.New("realtime authentication failed")
	ErrNoToken            = errors.New("no token for realtime connection")
	ErrReconnectExhausted = errors.New("realtime reconnect attempts exhausted")
)

// Envelope is the wire frame for every message in both directions. Seq is
// assigned by the hub per user and is zero on client-sent frames.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
}

// NewEnvelope encodes payload under the given tag
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, errors.New("event type is empty")
	}
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Welcome is the first frame of every authenticated session
type Welcome struct {
	UserID string `json:"user_id"`
	Seq    uint64 `json:"seq"`
}

type BalanceUpdate struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency,omitempty"`
}

type TransferSuccess struct {
	TransferID    string          `json:"transfer_id,omitempty"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}
