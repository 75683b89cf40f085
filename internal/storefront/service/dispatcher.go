package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/25x8/digital-storefront/internal/storefront/metrics"
	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/notify"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
)

// Dispatcher turns committed state changes into notifications.
// Delivery errors are logged and never returned.
type Dispatcher struct {
	repo     repository.Repository
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

func NewDispatcher(repo repository.Repository, notifier notify.Notifier, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{repo: repo, notifier: notifier, metrics: m}
}

// Dispatch notifies the owner and the admin channel about a transition.
// Call it only after the transaction that produced tr has committed.
func (d *Dispatcher) Dispatch(ctx context.Context, tr models.Transition) {
	if !tr.Changed() {
		return
	}
	d.metrics.Transition(string(tr.From), string(tr.To))

	order := tr.Order
	var userText, adminText string
	switch {
	case tr.From == models.StatePending && tr.To == models.StateFulfilled:
		userText = fmt.Sprintf("Success! Your order #%d for %s has been completed.", order.ID, order.Title())
		adminText = fmt.Sprintf("Order #%d (%s, %s) for user %d fulfilled, price %s", order.ID, order.Title(), order.Category, order.UserID, order.Price.StringFixed(2))
	case tr.From == models.StatePending && tr.To == models.StateRefunded:
		userText = fmt.Sprintf("Unfortunately, there was an error with your order #%d for %s. The funds have been returned to your balance.", order.ID, order.Title())
		adminText = fmt.Sprintf("Order #%d (%s, %s) for user %d failed, %s refunded", order.ID, order.Title(), order.Category, order.UserID, order.Price.StringFixed(2))
	default:
		slog.WarnContext(ctx, "unexpected order transition", "order_id", order.ID, "from", tr.From, "to", tr.To)
		return
	}

	d.notifyOwner(ctx, order.UserID, userText)
	if err := d.notifier.NotifyAdmin(ctx, adminText); err != nil {
		slog.ErrorContext(ctx, "admin notification failed", "order_id", order.ID, "error", err)
	}
}

// ManualOrderCreated asks the item's manager to complete the order.
func (d *Dispatcher) ManualOrderCreated(ctx context.Context, order *models.Order, item *models.Item) {
	text := fmt.Sprintf("Complete order #%d (%s, qty %d) for user %d by yourself", order.ID, order.Title(), order.Quantity, order.UserID)
	if order.PlayerID != nil {
		text += ", reference " + *order.PlayerID
	}
	if item.ManagerChatID == nil {
		slog.WarnContext(ctx, "manual order without manager chat", "order_id", order.ID, "item_id", item.ID)
		return
	}
	if err := d.notifier.NotifyUser(ctx, *item.ManagerChatID, text); err != nil {
		slog.ErrorContext(ctx, "manager notification failed", "order_id", order.ID, "error", err)
	}
}

// TopUpCredited tells the user their deposit reached the balance.
func (d *Dispatcher) TopUpCredited(ctx context.Context, topUp *models.TopUp) {
	text := "Your account has been successfully topped up"
	if topUp.Currency == models.CurrencyRUB && topUp.CreditedAmount != nil {
		text = fmt.Sprintf("%s %s Payment Received successfully\n%s$ have been added to your account",
			topUp.Amount.StringFixed(2), topUp.Currency, topUp.CreditedAmount.StringFixed(2))
	}
	d.notifyOwner(ctx, topUp.UserID, text)
}

func (d *Dispatcher) notifyOwner(ctx context.Context, userID int64, text string) {
	user, err := d.repo.GetUserByID(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "notification recipient lookup failed", "user_id", userID, "error", err)
		return
	}
	if err := d.notifier.NotifyUser(ctx, user.ChatID, text); err != nil {
		slog.ErrorContext(ctx, "user notification failed", "user_id", userID, "error", err)
	}
}
