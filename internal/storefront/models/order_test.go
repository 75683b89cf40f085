package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		from    OrderState
		apply   func(o *Order) (Transition, error)
		want    OrderState
		wantErr bool
	}{
		{name: "pending to fulfilled", from: StatePending, apply: func(o *Order) (Transition, error) { return o.Fulfill(now) }, want: StateFulfilled},
		{name: "pending to refunded", from: StatePending, apply: func(o *Order) (Transition, error) { return o.Refund(now) }, want: StateRefunded},
		{name: "fulfilled is terminal", from: StateFulfilled, apply: func(o *Order) (Transition, error) { return o.Refund(now) }, want: StateFulfilled, wantErr: true},
		{name: "refunded is terminal", from: StateRefunded, apply: func(o *Order) (Transition, error) { return o.Fulfill(now) }, want: StateRefunded, wantErr: true},
		{name: "no double fulfil", from: StateFulfilled, apply: func(o *Order) (Transition, error) { return o.Fulfill(now) }, want: StateFulfilled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{ID: 7, State: tt.from}
			tr, err := tt.apply(o)
			assert.Equal(t, tt.want, o.State)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.False(t, tr.Changed())
				return
			}
			require.NoError(t, err)
			assert.True(t, tr.Changed())
			assert.Equal(t, tt.from, tr.From)
			assert.Equal(t, tt.want, tr.To)
			require.NotNil(t, o.CompletedAt)
			assert.Equal(t, now, *o.CompletedAt)
		})
	}
}

func TestCategoryKinds(t *testing.T) {
	assert.True(t, CategoryCodes.Stockable())
	assert.True(t, CategoryGiftcard.Stockable())
	assert.False(t, CategoryFreeFire.Stockable())
	assert.True(t, CategoryFreeFire.ProviderMediated())
	assert.True(t, CategoryStars.Manual())
	assert.False(t, Category("diamond").Valid())
}

func TestItemSnapshot(t *testing.T) {
	amount := 60
	item := &Item{ID: 3, Title: "60 UC", Category: CategoryCodes, Price: decimal.RequireFromString("1.25"), Amount: &amount}

	var got map[string]any
	require.NoError(t, json.Unmarshal(item.Snapshot(), &got))
	assert.Equal(t, "60 UC", got["title"])
	assert.Equal(t, "codes", got["category"])
	assert.Equal(t, "1.25", got["price"])
}
