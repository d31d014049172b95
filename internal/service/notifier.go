package service

import (
	"context"
	"log/slog"

	"github.com/medisync/medisync-go/internal/model"
)

// Notifier receives conflict events. The engine never talks to
// SMS/WhatsApp gateways directly; hosts plug a real notifier in here.
type Notifier interface {
	ConflictDetected(ctx context.Context, c *model.SyncConflict)
}

// LogNotifier is the default Notifier: it records the event and does
// nothing else.
type LogNotifier struct{}

func (LogNotifier) ConflictDetected(_ context.Context, c *model.SyncConflict) {
	slog.Warn("sync conflict detected",
		"conflict_id", c.ID,
		"entity_type", c.EntityType,
		"entity_id", c.EntityID,
		"device_id", c.DeviceID,
	)
}
