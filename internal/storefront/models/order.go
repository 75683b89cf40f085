package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned when a terminal order is asked to change state.
var ErrInvalidTransition = errors.New("invalid order state transition")

// OrderState is the completion state of an order.
// Pending is the only non-terminal state; it moves to Fulfilled or Refunded exactly once.
type OrderState string

const (
	StatePending   OrderState = "pending"
	StateFulfilled OrderState = "fulfilled"
	StateRefunded  OrderState = "refunded"
)

// Terminal reports whether no further transition is legal.
func (s OrderState) Terminal() bool {
	return s == StateFulfilled || s == StateRefunded
}

// Valid reports whether s is a known state.
func (s OrderState) Valid() bool {
	return s == StatePending || s.Terminal()
}

// Order represents one purchase
type Order struct {
	ID                    int64           `json:"id"`
	UserID                int64           `json:"user_id"`
	ItemID                int64           `json:"item_id"`
	Category              Category        `json:"category"`
	Quantity              int             `json:"quantity"`
	Price                 decimal.Decimal `json:"price"`
	Data                  json.RawMessage `json:"data"`
	BalanceBefore         decimal.Decimal `json:"balance_before"`
	PlayerID              *string         `json:"player_id,omitempty"`
	PlayerName            *string         `json:"player_name,omitempty"`
	ProviderTransactionID *string         `json:"provider_transaction_id,omitempty"`
	State                 OrderState      `json:"state"`
	CreatedAt             time.Time       `json:"created_at"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
}

// Transition describes a state change applied to an order.
// From == To means the operation did not change anything.
type Transition struct {
	Order *Order
	From  OrderState
	To    OrderState
}

// Changed reports whether the transition moved the order.
func (t Transition) Changed() bool {
	return t.Order != nil && t.From != t.To
}

// NoTransition describes an order left as it was.
func NoTransition(o *Order) Transition {
	return Transition{Order: o, From: o.State, To: o.State}
}

// Fulfill moves a pending order to Fulfilled.
func (o *Order) Fulfill(now time.Time) (Transition, error) {
	return o.complete(StateFulfilled, now)
}

// Refund moves a pending order to Refunded. The caller credits the price back
// inside the same transaction.
func (o *Order) Refund(now time.Time) (Transition, error) {
	return o.complete(StateRefunded, now)
}

func (o *Order) complete(to OrderState, now time.Time) (Transition, error) {
	if o.State != StatePending {
		return NoTransition(o), fmt.Errorf("%w: order %d is %s, cannot become %s", ErrInvalidTransition, o.ID, o.State, to)
	}
	from := o.State
	o.State = to
	o.CompletedAt = &now
	return Transition{Order: o, From: from, To: to}, nil
}

// Title returns the item title captured in the order snapshot.
func (o *Order) Title() string {
	var snap struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(o.Data, &snap); err != nil || snap.Title == "" {
		return fmt.Sprintf("item #%d", o.ItemID)
	}
	return snap.Title
}
