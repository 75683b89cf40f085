package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// UnknownPlayerID is never found by the mock gateway
const UnknownPlayerID = "000000"

var mockRegions = []string{"RU", "CIS", "EUROPE"}

// Mock is an in-process Gateway for development. Each transaction reports
// PROCESSING on its first status poll and DONE afterwards.
type Mock struct {
	mu     sync.Mutex
	polled map[string]bool
}

var _ Gateway = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{polled: make(map[string]bool)}
}

func (m *Mock) GetPlayerInfo(_ context.Context, playerID string) (*PlayerInfo, error) {
	slog.Warn("mock provider: player lookup", "player_id", playerID)
	if playerID == "" || playerID == UnknownPlayerID {
		return nil, nil
	}
	last := playerID[len(playerID)-1]
	region := "UNKNOWN"
	if last >= '0' && last <= '9' {
		region = mockRegions[int(last-'0')%len(mockRegions)]
	}
	return &PlayerInfo{PlayerName: "MockPlayer_" + playerID, Region: region}, nil
}

func (m *Mock) CreateTopUp(_ context.Context, playerID string, providerItemID int64) (string, error) {
	trxID := uuid.NewString()
	slog.Warn("mock provider: create top-up", "player_id", playerID, "offer", providerItemID, "trx_id", trxID)
	return trxID, nil
}

func (m *Mock) GetTransactionStatus(_ context.Context, trxID string) (*TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slog.Warn("mock provider: transaction status", "trx_id", trxID)
	if m.polled[trxID] {
		return &TransactionStatus{Status: StatusDone}, nil
	}
	m.polled[trxID] = true
	return &TransactionStatus{Status: StatusProcessing}, nil
}
