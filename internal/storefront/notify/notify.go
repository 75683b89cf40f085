// Package notify delivers user and admin messages.
package notify

import (
	"context"
	"log/slog"
)

// Notifier sends messages to a user's chat or to the admin channel.
type Notifier interface {
	NotifyUser(ctx context.Context, chatID int64, text string) error
	NotifyAdmin(ctx context.Context, text string) error
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyUser(ctx context.Context, chatID int64, text string) error {
	n.logger.InfoContext(ctx, "notification", "audience", "user", "chat_id", chatID, "text", text)
	return nil
}

func (n *LogNotifier) NotifyAdmin(ctx context.Context, text string) error {
	n.logger.InfoContext(ctx, "notification", "audience", "admin", "text", text)
	return nil
}
