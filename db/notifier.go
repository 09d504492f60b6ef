package db

import (
	"context"

	"github.com/maxpert/fieldsync/notify"
)

// Notifier is told about committed row and table changes.
// notify.Hub implements it.
type Notifier interface {
	Publish(event notify.RowEvent)
}

type noopNotifier struct{}

func (noopNotifier) Publish(notify.RowEvent) {}

// publishAfterCommit queues an event for delivery once the surrounding
// transaction commits. Rolled back changes are never announced.
func (s *Store) publishAfterCommit(ctx context.Context, table, rowID string, op notify.Op) {
	AfterCommit(ctx, func() {
		s.notifier.Publish(notify.RowEvent{Table: table, RowID: rowID, Op: op})
	})
}
