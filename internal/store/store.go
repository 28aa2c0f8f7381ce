package store

import (
	"context"
	"errors"

	"github.com/nhle/mailwatch/internal/model"
)

// ErrCorrupt marks persisted state that could not be read back. It is
// only ever logged: corrupt state is treated as no state.
var ErrCorrupt = errors.New("corrupt state")

// Store persists the watermark, the UID of the newest message observed.
// One Monitor owns one Store and is its only writer.
type Store interface {
	// Load returns the persisted watermark. ok is false when nothing is
	// stored or the stored value cannot be read.
	Load(ctx context.Context) (watermark string, ok bool)

	// Save durably replaces the watermark.
	Save(ctx context.Context, watermark string) error
}

// NotificationLog is implemented by stores that remember which messages
// have already been notified, so a message is not announced twice even if
// a watermark save was lost.
type NotificationLog interface {
	RecordNotification(ctx context.Context, n model.Notification) error
	WasNotified(ctx context.Context, uid string) (bool, error)
	RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error)
}
