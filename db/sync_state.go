package db

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/fieldsync/notify"
)

// GetSyncState returns the sync state shared by every storage row of rowID.
// The bool is false when the row does not exist.
func (s *Store) GetSyncState(ctx context.Context, tableID, rowID string) (SyncState, bool, error) {
	var (
		state SyncState
		found bool
	)
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		state, found, err = s.syncState(ctx, tableID, rowID)
		return err
	})
	return state, found, err
}

// syncState reports the state shared by rowID's storage rows. Checkpoints
// over a synced row carry changed while the saved row stays synced; in that
// case the newest checkpoint's state is reported.
func (s *Store) syncState(ctx context.Context, tableID, rowID string) (SyncState, bool, error) {
	rows, err := s.queryMaps(ctx, s.dialect.From(tableID).
		Select(ColSyncState, ColSavepointType).
		Where(goqu.C(ColID).Eq(rowID)).
		Order(goqu.C(ColSavepointTimestamp).Asc()).
		Prepared(true))
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}

	var saved, checkpoint SyncState
	for _, r := range rows {
		raw, ok := r[ColSyncState]
		if !ok || raw == nil {
			return "", false, IntegrityViolationError{Table: tableID, RowID: rowID, Reason: "sync state is null"}
		}
		st := SyncState(stringOf(raw))
		target := &saved
		if r[ColSavepointType] == nil {
			target = &checkpoint
		}
		if *target != "" && *target != st {
			return "", false, IntegrityViolationError{Table: tableID, RowID: rowID, Reason: fmt.Sprintf("rows disagree on sync state (%s, %s)", *target, st)}
		}
		*target = st
	}

	switch {
	case saved == "":
		return checkpoint, true, nil
	case checkpoint == "" || checkpoint == saved:
		return saved, true, nil
	case checkpoint == SyncStateChanged && (saved == SyncStateSynced || saved == SyncStateSyncedPendingFiles):
		return checkpoint, true, nil
	}
	return "", false, IntegrityViolationError{Table: tableID, RowID: rowID, Reason: fmt.Sprintf("checkpoints (%s) disagree with saved row (%s)", checkpoint, saved)}
}

// PrivilegedUpdateRowETagAndSyncState sets the etag and sync state of a row
// that has exactly one storage row. An empty etag stores the default.
func (s *Store) PrivilegedUpdateRowETagAndSyncState(ctx context.Context, tableID, rowID, rowETag string, state SyncState) error {
	return instrument("sync_state", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.updateRowETagAndSyncState(ctx, tableID, rowID, rowETag, state); err != nil {
				return err
			}
			s.publishAfterCommit(ctx, tableID, rowID, notify.OpSyncState)
			return nil
		})
	})
}

func (s *Store) updateRowETagAndSyncState(ctx context.Context, tableID, rowID, rowETag string, state SyncState) error {
	if _, err := ParseSyncState(string(state)); err != nil {
		return InvalidArgumentError{Op: "update sync state", Reason: err.Error()}
	}

	n, err := s.queryInt(ctx, s.dialect.From(tableID).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(ColID).Eq(rowID)).
		Prepared(true))
	if err != nil {
		return err
	}
	if n != 1 {
		return IntegrityViolationError{Table: tableID, RowID: rowID, Reason: fmt.Sprintf("expected exactly 1 row, found %d", n)}
	}

	_, err = s.exec(ctx, s.dialect.Update(tableID).
		Set(goqu.Record{
			ColRowETag:   TextOrNull(rowETag).storage(),
			ColSyncState: string(state),
		}).
		Where(goqu.C(ColID).Eq(rowID)).
		Prepared(true))
	return err
}

// ChangeDataRowsToNewRowState resets every row of the table as if it had
// never been synced. Server conflict rows are dropped and local conflict
// rows return to the state their local change implies.
func (s *Store) ChangeDataRowsToNewRowState(ctx context.Context, tableID string) error {
	return instrumentTable("reset_sync_state", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.changeDataRowsToNewRowState(ctx, tableID)
		})
	})
}

func (s *Store) changeDataRowsToNewRowState(ctx context.Context, tableID string) error {
	if _, err := s.exec(ctx, s.dialect.Delete(tableID).
		Where(
			goqu.C(ColSyncState).Eq(string(SyncStateInConflict)),
			goqu.C(ColConflictType).In(int64(ServerDeletedOldValues), int64(ServerUpdatedUpdatedValues)),
		).
		Prepared(true)); err != nil {
		return err
	}

	restores := []struct {
		conflict ConflictType
		state    SyncState
	}{
		{LocalDeletedOldValues, SyncStateDeleted},
		{LocalUpdatedUpdatedValues, SyncStateChanged},
	}
	for _, r := range restores {
		if _, err := s.exec(ctx, s.dialect.Update(tableID).
			Set(goqu.Record{
				ColSyncState:    string(r.state),
				ColConflictType: nil,
			}).
			Where(
				goqu.C(ColSyncState).Eq(string(SyncStateInConflict)),
				goqu.C(ColConflictType).Eq(int64(r.conflict)),
			).
			Prepared(true)); err != nil {
			return err
		}
	}

	if _, err := s.exec(ctx, s.dialect.Update(tableID).
		Set(goqu.Record{ColSyncState: string(SyncStateNewRow)}).
		Where(goqu.C(ColSyncState).In(string(SyncStateSynced), string(SyncStateSyncedPendingFiles))).
		Prepared(true)); err != nil {
		return err
	}

	s.publishAfterCommit(ctx, tableID, "", notify.OpSyncState)
	return nil
}

// ServerTableSchemaETagChanged handles the server replacing the table's
// schema: every row reverts to new_row, the table etags are reset and the
// cached sync etags under instanceFilesURI are forgotten.
func (s *Store) ServerTableSchemaETagChanged(ctx context.Context, tableID, schemaETag, instanceFilesURI string) error {
	return instrumentTable("schema_etag_changed", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.changeDataRowsToNewRowState(ctx, tableID); err != nil {
				return err
			}
			if err := s.updateTableETags(ctx, tableID, &schemaETag, nil); err != nil {
				return err
			}
			return s.deleteAllSyncETagsUnderServer(ctx, instanceFilesURI)
		})
	})
}
