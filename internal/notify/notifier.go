// Package notify creates user notifications as a fire-and-forget side effect
// of financial operations. A failed notification write is logged and
// swallowed; it never rolls back the operation that produced it.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quickgig/backend/internal/models"
)

// Repo is the storage surface for notification rows.
type Repo interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

type Notifier struct {
	repo   Repo
	logger *slog.Logger
}

func NewNotifier(repo Repo, logger *slog.Logger) *Notifier {
	return &Notifier{repo: repo, logger: logger}
}

// Send writes one notification row. Errors are logged and dropped.
func (n *Notifier) Send(ctx context.Context, userID uuid.UUID, title, message, notifType, sourceRef string) {
	err := n.repo.CreateNotification(ctx, &models.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      notifType,
		SourceRef: sourceRef,
	})
	if err != nil {
		n.logger.Warn("failed to create notification", "user_id", userID, "type", notifType, "error", err)
	}
}
