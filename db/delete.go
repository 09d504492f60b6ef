package db

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/fieldsync/notify"
	"github.com/maxpert/fieldsync/telemetry"
	"github.com/rs/zerolog/log"
)

// DeleteRow deletes rowID. Checkpoints are discarded; a row the server has
// never seen is physically removed along with its attachments, any other
// row is marked deleted for the next sync.
func (s *Store) DeleteRow(ctx context.Context, tableID, rowID string, caller Caller) error {
	return instrument("delete", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			oc, err := s.columnsInTx(ctx, tableID)
			if err != nil {
				return err
			}
			return s.deleteRow(ctx, oc, rowID, caller)
		})
	})
}

// PrivilegedDeleteRow removes rowID on the server's behalf: any server
// conflict row is dropped, the row is reset to new_row and then deleted with
// elevated roles, which removes it physically.
func (s *Store) PrivilegedDeleteRow(ctx context.Context, tableID, rowID string, user string) error {
	return instrument("privileged_delete", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			oc, err := s.columnsInTx(ctx, tableID)
			if err != nil {
				return err
			}
			if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
				return err
			}
			if err := s.updateRowETagAndSyncState(ctx, tableID, rowID, "", SyncStateNewRow); err != nil {
				return err
			}
			return s.deleteRow(ctx, oc, rowID, AdminCaller(user))
		})
	})
}

func (s *Store) deleteRow(ctx context.Context, oc *OrderedColumns, rowID string, caller Caller) error {
	tableID := oc.TableID()

	prior, err := s.queryMaps(ctx, s.dialect.From(tableID).
		Select(ColSyncState, ColFilterType, ColFilterValue).
		Where(goqu.C(ColID).Eq(rowID)).
		Order(goqu.C(ColSavepointTimestamp).Asc()).
		Prepared(true))
	if err != nil {
		return err
	}

	tss, err := s.securitySettings(ctx, tableID)
	if err != nil {
		return err
	}
	for _, p := range prior {
		r := storedRow(p)
		state := SyncState(r.text(ColSyncState))
		if state == SyncStateInConflict {
			return InvalidStateTransitionError{
				Table:  tableID,
				RowID:  rowID,
				From:   string(state),
				Reason: "resolve the conflict before deleting the row",
			}
		}
		if err := tss.AllowRowChange(caller, state, r.text(ColFilterType), r.text(ColFilterValue), DeleteRow); err != nil {
			return err
		}
	}

	if _, err := s.exec(ctx, s.dialect.Delete(tableID).
		Where(goqu.C(ColID).Eq(rowID), goqu.C(ColSavepointType).IsNull()).
		Prepared(true)); err != nil {
		return err
	}

	state, found, err := s.syncState(ctx, tableID, rowID)
	if err != nil {
		return err
	}

	switch {
	case !found:
		s.purgeRowAfterCommit(ctx, tableID, rowID)
	case state == SyncStateNewRow:
		if _, err := s.exec(ctx, s.dialect.Delete(tableID).
			Where(goqu.C(ColID).Eq(rowID)).
			Prepared(true)); err != nil {
			return err
		}
		s.purgeRowAfterCommit(ctx, tableID, rowID)
	default:
		if _, err := s.exec(ctx, s.dialect.Update(tableID).
			Set(goqu.Record{
				ColSyncState:          string(SyncStateDeleted),
				ColSavepointTimestamp: s.now(),
			}).
			Where(goqu.C(ColID).Eq(rowID)).
			Prepared(true)); err != nil {
			return err
		}
	}

	s.publishAfterCommit(ctx, tableID, rowID, notify.OpDelete)
	return nil
}

// purgeRowAfterCommit removes the row's attachment directory once the
// transaction commits. Failures are logged and counted; the delete stands.
func (s *Store) purgeRowAfterCommit(ctx context.Context, tableID, rowID string) {
	AfterCommit(ctx, func() {
		if err := s.purger.PurgeRow(tableID, rowID); err != nil {
			telemetry.AttachmentPurgeFailuresTotal.Inc()
			log.Error().Err(err).
				Str("table", tableID).
				Str("row_id", rowID).
				Msg("Unable to purge row attachments")
		}
	})
}

func (s *Store) purgeTableAfterCommit(ctx context.Context, tableID string) {
	AfterCommit(ctx, func() {
		if err := s.purger.PurgeTable(tableID); err != nil {
			telemetry.AttachmentPurgeFailuresTotal.Inc()
			log.Error().Err(err).
				Str("table", tableID).
				Msg("Unable to purge table attachments")
		}
	})
}
