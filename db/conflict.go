package db

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/fieldsync/notify"
	"github.com/maxpert/fieldsync/telemetry"
)

// Resolution strategy labels
const (
	strategyTakeServer      = "take_server"
	strategyTakeLocal       = "take_local"
	strategyTakeLocalDeltas = "take_local_deltas"
	strategyDelete          = "delete"
)

// PrivilegedPlaceRowIntoConflict turns rowID into a conflict pair: the
// existing row becomes the local side tagged localConflictType, and
// serverValues, which must carry every retained and admin column, are
// inserted as the server side.
func (s *Store) PrivilegedPlaceRowIntoConflict(ctx context.Context, tableID, rowID string, serverValues Values, localConflictType ConflictType, caller Caller, locale string) error {
	return instrument("place_conflict", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			if !localConflictType.IsLocal() {
				return InvalidArgumentError{Op: "place conflict", Reason: fmt.Sprintf("%s is not a local conflict type", localConflictType)}
			}
			server := serverValues.clone()
			ct, ok := server[ColConflictType].AsInt()
			if !ok || !ConflictType(ct).IsServer() {
				return InvalidArgumentError{Op: "place conflict", Reason: "server values must carry a server conflict type"}
			}
			server[ColSyncState] = Text(string(SyncStateInConflict))

			if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
				return err
			}
			res, err := s.exec(ctx, s.dialect.Update(tableID).
				Set(goqu.Record{
					ColSyncState:    string(SyncStateInConflict),
					ColConflictType: int64(localConflictType),
				}).
				Where(goqu.C(ColID).Eq(rowID), goqu.C(ColConflictType).IsNull()).
				Prepared(true))
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n != 1 {
				// a row already in conflict keeps its local side
				locals, err := s.queryInt(ctx, s.dialect.From(tableID).
					Select(goqu.COUNT(goqu.Star())).
					Where(
						goqu.C(ColID).Eq(rowID),
						goqu.C(ColConflictType).In(int64(LocalDeletedOldValues), int64(LocalUpdatedUpdatedValues)),
					).
					Prepared(true))
				if err != nil {
					return err
				}
				if n != 0 || locals != 1 {
					return IntegrityViolationError{Table: tableID, RowID: rowID, Reason: fmt.Sprintf("expected 1 local row to place into conflict, found %d", n+locals)}
				}
			}

			if err := s.upsert(ctx, upsertRequest{
				tableID:       tableID,
				rowID:         rowID,
				values:        server,
				caller:        caller,
				locale:        locale,
				privileged:    true,
				matchConflict: true,
				conflictType:  conflictTypePtr(ConflictType(ct)),
			}); err != nil {
				return err
			}

			telemetry.ConflictsPlacedTotal.Inc()
			s.publishAfterCommit(ctx, tableID, rowID, notify.OpConflict)
			return nil
		})
	})
}

// RestoreRowFromConflict sets the sync state of the storage row whose
// conflict type equals conflictType (nil selecting the unconflicted row)
// and clears its conflict type.
func (s *Store) RestoreRowFromConflict(ctx context.Context, tableID, rowID string, state SyncState, conflictType *ConflictType) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.restoreRowFromConflict(ctx, tableID, rowID, state, conflictType)
	})
}

func (s *Store) restoreRowFromConflict(ctx context.Context, tableID, rowID string, state SyncState, conflictType *ConflictType) error {
	ds := s.dialect.Update(tableID).Set(goqu.Record{
		ColSyncState:    string(state),
		ColConflictType: nil,
	})
	if conflictType == nil {
		ds = ds.Where(goqu.C(ColID).Eq(rowID), goqu.C(ColConflictType).IsNull())
	} else {
		ds = ds.Where(goqu.C(ColID).Eq(rowID), goqu.C(ColConflictType).Eq(int64(*conflictType)))
	}
	_, err := s.exec(ctx, ds.Prepared(true))
	return err
}

func (s *Store) deleteServerConflictRow(ctx context.Context, tableID, rowID string) error {
	_, err := s.exec(ctx, s.dialect.Delete(tableID).
		Where(
			goqu.C(ColID).Eq(rowID),
			goqu.C(ColSyncState).Eq(string(SyncStateInConflict)),
			goqu.C(ColConflictType).In(int64(ServerDeletedOldValues), int64(ServerUpdatedUpdatedValues)),
		).
		Prepared(true))
	return err
}

// conflictPair loads the local and server sides of rowID's conflict
func (s *Store) conflictPair(ctx context.Context, oc *OrderedColumns, rowID string) (local, server Row, err error) {
	rows, err := s.conflictingRows(ctx, oc, rowID)
	if err != nil {
		return Row{}, Row{}, err
	}
	if len(rows) != 2 {
		return Row{}, Row{}, IntegrityViolationError{Table: oc.TableID(), RowID: rowID, Reason: fmt.Sprintf("expected a local and a server conflict row, found %d rows", len(rows))}
	}
	local, server = rows[0], rows[1]
	if !local.ConflictType.IsLocal() {
		return Row{}, Row{}, IntegrityViolationError{Table: oc.TableID(), RowID: rowID, Reason: "local conflict row is missing"}
	}
	if !server.ConflictType.IsServer() {
		return Row{}, Row{}, IntegrityViolationError{Table: oc.TableID(), RowID: rowID, Reason: "server conflict row is missing"}
	}
	return local, server, nil
}

// ResolveConflictTakeServer keeps the server side. A server deletion
// deletes the row; otherwise the server's values replace the local row,
// which becomes synced, or synced_pending_files when it references
// attachments.
func (s *Store) ResolveConflictTakeServer(ctx context.Context, tableID, rowID, user, locale string) error {
	return s.resolve(ctx, strategyTakeServer, tableID, rowID, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}
		local, server, err := s.conflictPair(ctx, oc, rowID)
		if err != nil {
			return err
		}
		admin := AdminCaller(user)

		if *server.ConflictType == ServerDeletedOldValues {
			if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
				return err
			}
			if err := s.updateRowETagAndSyncState(ctx, tableID, rowID, "", SyncStateNewRow); err != nil {
				return err
			}
			return s.deleteRow(ctx, oc, rowID, admin)
		}

		update := Values{
			ColRowETag:            TextOrNull(server.RowETag),
			ColFilterType:         TextOrNull(server.FilterType),
			ColFilterValue:        TextOrNull(server.FilterValue),
			ColFormID:             TextOrNull(server.FormID),
			ColLocale:             TextOrNull(server.Locale),
			ColSavepointType:      TextOrNull(server.SavepointType),
			ColSavepointTimestamp: TextOrNull(server.SavepointTimestamp),
			ColSavepointCreator:   TextOrNull(server.SavepointCreator),
		}
		for k, v := range server.Values {
			update[k] = v
		}

		newState := SyncStateSynced
		for _, def := range oc.RowpathColumns() {
			if p, _ := server.Values[def.ElementKey].AsText(); p != "" {
				newState = SyncStateSyncedPendingFiles
				break
			}
		}

		if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
			return err
		}
		if err := s.restoreRowFromConflict(ctx, tableID, rowID, newState, local.ConflictType); err != nil {
			return err
		}
		if err := s.upsert(ctx, upsertRequest{
			tableID: tableID,
			rowID:   rowID,
			values:  update,
			caller:  admin,
			locale:  locale,
			update:  true,
		}); err != nil {
			return err
		}
		// the update marks the row changed; settle it on the resolved state
		return s.restoreRowFromConflict(ctx, tableID, rowID, newState, nil)
	})
}

// ResolveConflictTakeLocal keeps the local side. The server's etag and
// ownership fields are adopted so the next sync can push the local values.
// A local deletion is finalized as a delete.
func (s *Store) ResolveConflictTakeLocal(ctx context.Context, tableID, rowID string, caller Caller, locale string) error {
	return s.resolve(ctx, strategyTakeLocal, tableID, rowID, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}
		local, server, err := s.conflictPair(ctx, oc, rowID)
		if err != nil {
			return err
		}

		update := Values{ColRowETag: TextOrNull(server.RowETag)}
		localDeleted := *local.ConflictType == LocalDeletedOldValues
		if localDeleted {
			update[ColFormID] = TextOrNull(server.FormID)
			update[ColLocale] = TextOrNull(server.Locale)
			update[ColSavepointType] = TextOrNull(server.SavepointType)
			update[ColSavepointTimestamp] = TextOrNull(server.SavepointTimestamp)
			update[ColSavepointCreator] = TextOrNull(server.SavepointCreator)
			for k, v := range server.Values {
				update[k] = v
			}
		}

		if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
			return err
		}
		if err := s.restoreRowFromConflict(ctx, tableID, rowID, SyncStateChanged, local.ConflictType); err != nil {
			return err
		}
		if err := s.upsert(ctx, upsertRequest{
			tableID: tableID,
			rowID:   rowID,
			values:  update,
			caller:  caller,
			locale:  locale,
			update:  true,
		}); err != nil {
			return err
		}
		if err := s.adoptServerOwnership(ctx, tableID, rowID, server, server, caller.User, locale); err != nil {
			return err
		}
		if localDeleted {
			return s.deleteRow(ctx, oc, rowID, caller)
		}
		return nil
	})
}

// ResolveConflictTakeLocalPlusDeltas keeps the local side with deltas, a
// partial map of server values chosen by the caller, merged in. It is
// refused when the local side is a deletion.
func (s *Store) ResolveConflictTakeLocalPlusDeltas(ctx context.Context, tableID, rowID string, deltas Values, caller Caller, locale string) error {
	return s.resolve(ctx, strategyTakeLocalDeltas, tableID, rowID, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}
		local, server, err := s.conflictPair(ctx, oc, rowID)
		if err != nil {
			return err
		}
		if *local.ConflictType == LocalDeletedOldValues {
			return InvalidStateTransitionError{
				Table:  tableID,
				RowID:  rowID,
				From:   string(SyncStateInConflict),
				Reason: "local row is marked for deletion, merging server deltas does not apply",
			}
		}

		update := deltas.clone()
		for k := range update {
			if IsAdminColumn(k) {
				return InvalidArgumentError{Op: "resolve conflict", Reason: fmt.Sprintf("deltas cannot set admin column %s", k)}
			}
		}
		if err := validateValues(oc, update); err != nil {
			return err
		}
		if err := flattenValues(oc, update); err != nil {
			return err
		}
		update[ColRowETag] = TextOrNull(server.RowETag)
		update[ColFormID] = TextOrNull(local.FormID)
		update[ColLocale] = TextOrNull(local.Locale)
		update[ColSavepointType] = TextOrNull(local.SavepointType)
		update[ColSavepointTimestamp] = TextOrNull(local.SavepointTimestamp)
		update[ColSavepointCreator] = TextOrNull(local.SavepointCreator)

		if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
			return err
		}
		if err := s.restoreRowFromConflict(ctx, tableID, rowID, SyncStateChanged, local.ConflictType); err != nil {
			return err
		}
		if err := s.upsert(ctx, upsertRequest{
			tableID: tableID,
			rowID:   rowID,
			values:  update,
			caller:  caller,
			locale:  locale,
			update:  true,
		}); err != nil {
			return err
		}
		return s.adoptServerOwnership(ctx, tableID, rowID, server, local, caller.User, locale)
	})
}

// ResolveConflictDelete discards both sides and deletes the row
func (s *Store) ResolveConflictDelete(ctx context.Context, tableID, rowID string, caller Caller) error {
	return s.resolve(ctx, strategyDelete, tableID, rowID, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}
		if _, _, err := s.conflictPair(ctx, oc, rowID); err != nil {
			return err
		}
		if err := s.deleteServerConflictRow(ctx, tableID, rowID); err != nil {
			return err
		}
		if err := s.updateRowETagAndSyncState(ctx, tableID, rowID, "", SyncStateNewRow); err != nil {
			return err
		}
		return s.deleteRow(ctx, oc, rowID, caller)
	})
}

// adoptServerOwnership applies the server's filter fields with elevated
// roles, stamping the row with stamp's savepoint timestamp and creator.
// Ownership is server-dictated, so the caller's own roles do not apply.
func (s *Store) adoptServerOwnership(ctx context.Context, tableID, rowID string, server, stamp Row, user, locale string) error {
	return s.upsert(ctx, upsertRequest{
		tableID: tableID,
		rowID:   rowID,
		values: Values{
			ColFilterType:         TextOrNull(server.FilterType),
			ColFilterValue:        TextOrNull(server.FilterValue),
			ColSavepointTimestamp: TextOrNull(stamp.SavepointTimestamp),
			ColSavepointCreator:   TextOrNull(stamp.SavepointCreator),
		},
		caller: AdminCaller(user),
		locale: locale,
		update: true,
	})
}

func (s *Store) resolve(ctx context.Context, strategy, tableID, rowID string, fn func(ctx context.Context) error) error {
	return instrument("resolve_"+strategy, func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := fn(ctx); err != nil {
				return err
			}
			telemetry.ConflictsResolvedTotal.With(strategy).Inc()
			s.publishAfterCommit(ctx, tableID, rowID, notify.OpResolve)
			return nil
		})
	})
}

func conflictTypePtr(c ConflictType) *ConflictType { return &c }
