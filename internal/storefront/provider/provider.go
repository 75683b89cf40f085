// Package provider talks to the external top-up provider.
package provider

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every transport-level failure: network errors, timeouts,
// rate limiting and non-200 responses.
var ErrUnavailable = errors.New("provider unavailable")

// Transaction statuses reported by the provider
const (
	StatusDone        = "DONE"
	StatusProcessing  = "PROCESSING"
	StatusTrxNotReady = "TRX_NOT_READY"
	StatusNoBalance   = "NO_BALANCE"
)

// PlayerInfo describes a game account known to the provider
type PlayerInfo struct {
	PlayerName string `json:"player_name"`
	Region     string `json:"region"`
}

// TransactionStatus is the provider's view of a top-up
type TransactionStatus struct {
	Status   string `json:"status"`
	PlayerID string `json:"player_id,omitempty"`
}

// Gateway is the top-up provider API.
// Business-level negatives (unknown player, rejected top-up, unknown transaction)
// are reported as nil results with a nil error.
type Gateway interface {
	GetPlayerInfo(ctx context.Context, playerID string) (*PlayerInfo, error)
	// CreateTopUp returns the provider transaction id, or "" if the provider
	// declined the request.
	CreateTopUp(ctx context.Context, playerID string, providerItemID int64) (string, error)
	GetTransactionStatus(ctx context.Context, trxID string) (*TransactionStatus, error)
}
