package db

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/fieldsync/notify"
)

// columns a caller may never set on a checkpoint
var checkpointReservedColumns = []string{
	ColSavepointTimestamp,
	ColSavepointType,
	ColRowETag,
	ColSyncState,
	ColConflictType,
	ColFilterValue,
	ColFilterType,
}

// InsertCheckpoint records an intermediate revision of rowID. The first
// checkpoint of an unknown row creates it in new_row; later checkpoints copy
// every column the caller did not supply forward from the latest revision.
// An empty rowID is replaced by a generated identifier, which is returned.
func (s *Store) InsertCheckpoint(ctx context.Context, tableID, rowID string, values Values, caller Caller, locale string) (string, error) {
	if rowID == "" {
		rowID = s.ids.NextID()
	}
	err := instrument("checkpoint", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.insertCheckpoint(ctx, tableID, rowID, values, caller, locale)
		})
	})
	if err != nil {
		return "", err
	}
	return rowID, nil
}

func (s *Store) insertCheckpoint(ctx context.Context, tableID, rowID string, values Values, caller Caller, locale string) error {
	if len(values) == 0 {
		return InvalidArgumentError{Op: "checkpoint", Reason: fmt.Sprintf("no values to add into table %s", tableID)}
	}
	for _, col := range checkpointReservedColumns {
		if values.has(col) {
			return InvalidArgumentError{Op: "checkpoint", Reason: fmt.Sprintf("%s cannot be set on a checkpoint", col)}
		}
	}

	oc, err := s.columnsInTx(ctx, tableID)
	if err != nil {
		return err
	}

	cv := values.clone()
	if v, ok := cv[ColID]; ok {
		if id, _ := v.AsText(); id != rowID {
			return InvalidArgumentError{Op: "checkpoint", Reason: fmt.Sprintf("%s does not match row id %s", ColID, rowID)}
		}
	}
	if err := validateValues(oc, cv); err != nil {
		return err
	}

	latest, err := s.selectStored(ctx, oc,
		goqu.C(ColID).Eq(rowID),
		goqu.C(ColSavepointTimestamp).In(s.maxTimestamp(tableID, rowID)))
	if err != nil {
		return err
	}
	if len(latest) > 1 {
		return IntegrityViolationError{Table: tableID, RowID: rowID, Reason: "more than one checkpoint at a timestamp"}
	}

	if len(latest) == 0 {
		cv[ColID] = Text(rowID)
		cv[ColSyncState] = Text(string(SyncStateNewRow))
		return s.insertCheckpointRow(ctx, oc, cv, caller, locale, true, FilterDefault, "")
	}

	prior := latest[0]
	if prior[ColConflictType] != nil {
		return InvalidStateTransitionError{
			Table:  tableID,
			RowID:  rowID,
			From:   prior.text(ColSyncState),
			Reason: "cannot checkpoint a row that is in conflict",
		}
	}

	priorValues, err := prior.values(oc)
	if err != nil {
		return err
	}
	for col, v := range priorValues {
		if col == ColSavepointTimestamp || cv.has(col) {
			continue
		}
		cv[col] = v
	}
	cv[ColSavepointType] = Null()
	if SyncState(prior.text(ColSyncState)) == SyncStateNewRow {
		cv[ColSyncState] = Text(string(SyncStateNewRow))
	} else {
		cv[ColSyncState] = Text(string(SyncStateChanged))
	}

	priorFilterType := prior.text(ColFilterType)
	if priorFilterType == "" {
		priorFilterType = FilterDefault
	}
	return s.insertCheckpointRow(ctx, oc, cv, caller, locale, false, priorFilterType, prior.text(ColFilterValue))
}

func (s *Store) insertCheckpointRow(ctx context.Context, oc *OrderedColumns, cv Values, caller Caller, locale string, isNewRow bool, priorFilterType, priorFilterValue string) error {
	tableID := oc.TableID()
	rowID := cv.text(ColID)

	if cv.missingOrNull(ColRowETag) {
		cv[ColRowETag] = TextOrNull(DefaultRowETag)
	}
	if !cv.has(ColConflictType) {
		cv[ColConflictType] = Null()
	}
	if !cv.has(ColFormID) {
		cv[ColFormID] = Null()
	}
	if cv.missingOrNull(ColLocale) {
		cv[ColLocale] = TextOrNull(locale)
	}
	cv[ColSavepointType] = Null()
	cv[ColSavepointTimestamp] = Text(s.now())
	if cv.missingOrNull(ColSavepointCreator) {
		cv[ColSavepointCreator] = TextOrNull(caller.User)
	}

	if err := flattenValues(oc, cv); err != nil {
		return err
	}

	tss, err := s.securitySettings(ctx, tableID)
	if err != nil {
		return err
	}

	if isNewRow {
		if cv.missingOrNull(ColFilterType) {
			cv[ColFilterType] = Text(tss.FilterTypeOnCreation)
		}
		if !cv.has(ColFilterValue) {
			cv[ColFilterValue] = TextOrNull(caller.User)
		}
		cv[ColSyncState] = Text(string(SyncStateNewRow))
		if err := tss.AllowRowChange(caller, SyncStateNewRow, priorFilterType, priorFilterValue, NewRow); err != nil {
			return err
		}
	} else {
		cv[ColFilterType] = TextOrNull(priorFilterType)
		cv[ColFilterValue] = TextOrNull(priorFilterValue)
		if err := tss.AllowRowChange(caller, SyncState(cv.text(ColSyncState)), priorFilterType, priorFilterValue, ChangeRow); err != nil {
			return err
		}
	}

	if _, err := s.exec(ctx, s.dialect.Insert(tableID).Rows(record(cv)).Prepared(true)); err != nil {
		return err
	}
	s.publishAfterCommit(ctx, tableID, rowID, notify.OpCheckpoint)
	return nil
}

// SaveCheckpointAsComplete finalizes the latest checkpoint of rowID as
// COMPLETE and discards older revisions.
func (s *Store) SaveCheckpointAsComplete(ctx context.Context, tableID, rowID string) error {
	return instrument("save_complete", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.squashCheckpoints(ctx, tableID, rowID, SavepointComplete)
		})
	})
}

// SaveCheckpointAsIncomplete finalizes the latest checkpoint of rowID as
// INCOMPLETE and discards older revisions.
func (s *Store) SaveCheckpointAsIncomplete(ctx context.Context, tableID, rowID string) error {
	return instrument("save_incomplete", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.squashCheckpoints(ctx, tableID, rowID, SavepointIncomplete)
		})
	})
}

func (s *Store) squashCheckpoints(ctx context.Context, tableID, rowID, savepointType string) error {
	n, err := s.queryInt(ctx, s.dialect.From(tableID).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(ColID).Eq(rowID),
			goqu.C(ColSavepointTimestamp).In(s.maxTimestamp(tableID, rowID)),
		).
		Prepared(true))
	if err != nil {
		return err
	}
	if n > 1 {
		return IntegrityViolationError{Table: tableID, RowID: rowID, Reason: "more than one checkpoint at a timestamp"}
	}

	if _, err := s.exec(ctx, s.dialect.Update(tableID).
		Set(goqu.Record{ColSavepointType: savepointType}).
		Where(goqu.C(ColID).Eq(rowID)).
		Prepared(true)); err != nil {
		return err
	}
	if _, err := s.exec(ctx, s.dialect.Delete(tableID).
		Where(
			goqu.C(ColID).Eq(rowID),
			goqu.C(ColSavepointTimestamp).NotIn(s.maxTimestamp(tableID, rowID)),
		).
		Prepared(true)); err != nil {
		return err
	}
	s.publishAfterCommit(ctx, tableID, rowID, notify.OpCheckpoint)
	return nil
}

// DeleteLastCheckpoint discards the newest checkpoint of rowID. When no
// revision remains the row's attachments are purged after commit.
func (s *Store) DeleteLastCheckpoint(ctx context.Context, tableID, rowID string, caller Caller) error {
	return instrument("delete_checkpoint", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.deleteCheckpoints(ctx, tableID, rowID, caller,
				goqu.C(ColID).Eq(rowID),
				goqu.C(ColSavepointType).IsNull(),
				goqu.C(ColSavepointTimestamp).In(s.maxTimestamp(tableID, rowID)))
		})
	})
}

// DeleteAllCheckpoints discards every checkpoint of rowID
func (s *Store) DeleteAllCheckpoints(ctx context.Context, tableID, rowID string, caller Caller) error {
	return instrument("delete_checkpoints", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.deleteCheckpoints(ctx, tableID, rowID, caller,
				goqu.C(ColID).Eq(rowID),
				goqu.C(ColSavepointType).IsNull())
		})
	})
}

func (s *Store) deleteCheckpoints(ctx context.Context, tableID, rowID string, caller Caller, where ...exp.Expression) error {
	selected, err := s.queryMaps(ctx, s.dialect.From(tableID).
		Select(ColSyncState, ColFilterType, ColFilterValue).
		Where(where...).
		Prepared(true))
	if err != nil {
		return err
	}

	tss, err := s.securitySettings(ctx, tableID)
	if err != nil {
		return err
	}
	for _, m := range selected {
		r := storedRow(m)
		if err := tss.AllowRowChange(caller, SyncState(r.text(ColSyncState)), r.text(ColFilterType), r.text(ColFilterValue), DeleteRow); err != nil {
			return err
		}
	}

	if _, err := s.exec(ctx, s.dialect.Delete(tableID).Where(where...).Prepared(true)); err != nil {
		return err
	}

	remaining, err := s.queryInt(ctx, s.dialect.From(tableID).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(ColID).Eq(rowID)).
		Prepared(true))
	if err != nil {
		return err
	}
	if remaining == 0 {
		s.purgeRowAfterCommit(ctx, tableID, rowID)
	}
	s.publishAfterCommit(ctx, tableID, rowID, notify.OpCheckpoint)
	return nil
}
