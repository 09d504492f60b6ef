package db

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/fieldsync/notify"
)

// upsertRequest describes one write through the row lifecycle engine
type upsertRequest struct {
	tableID string
	rowID   string
	values  Values
	caller  Caller
	locale  string

	// update selects update semantics; otherwise an existing row is an error
	update bool

	// privileged writes come from the sync driver: every retained and admin
	// column must be supplied and no authorization is applied
	privileged bool

	// matchConflict narrows the write to the row whose conflict type equals
	// conflictType, nil matching the unconflicted row
	matchConflict bool
	conflictType  *ConflictType
}

// InsertRow inserts a new row. An empty rowID is replaced by a generated
// identifier, which is returned.
func (s *Store) InsertRow(ctx context.Context, tableID, rowID string, values Values, caller Caller, locale string) (string, error) {
	if rowID == "" {
		rowID = s.ids.NextID()
	}
	err := instrument("insert", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.upsert(ctx, upsertRequest{
				tableID: tableID,
				rowID:   rowID,
				values:  values,
				caller:  caller,
				locale:  locale,
			})
		})
	})
	if err != nil {
		return "", err
	}
	return rowID, nil
}

// UpdateRow applies values to the row. A row that does not exist yet is
// inserted.
func (s *Store) UpdateRow(ctx context.Context, tableID, rowID string, values Values, caller Caller, locale string) error {
	return instrument("update", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.upsert(ctx, upsertRequest{
				tableID: tableID,
				rowID:   rowID,
				values:  values,
				caller:  caller,
				locale:  locale,
				update:  true,
			})
		})
	})
}

// PrivilegedInsertRow inserts a server-supplied row. values must carry
// every retained and admin column.
func (s *Store) PrivilegedInsertRow(ctx context.Context, tableID, rowID string, values Values, caller Caller, locale string) error {
	return instrument("privileged_insert", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.upsert(ctx, upsertRequest{
				tableID:    tableID,
				rowID:      rowID,
				values:     values,
				caller:     caller,
				locale:     locale,
				privileged: true,
			})
		})
	})
}

// PrivilegedUpdateRow overwrites a row with server-supplied values.
// values must carry every retained and admin column.
func (s *Store) PrivilegedUpdateRow(ctx context.Context, tableID, rowID string, values Values, caller Caller, locale string) error {
	return instrument("privileged_update", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.upsert(ctx, upsertRequest{
				tableID:    tableID,
				rowID:      rowID,
				values:     values,
				caller:     caller,
				locale:     locale,
				update:     true,
				privileged: true,
			})
		})
	})
}

func (req upsertRequest) where() []exp.Expression {
	where := []exp.Expression{goqu.C(ColID).Eq(req.rowID)}
	if req.matchConflict {
		if req.conflictType == nil {
			where = append(where, goqu.C(ColConflictType).IsNull())
		} else {
			where = append(where, goqu.C(ColConflictType).Eq(int64(*req.conflictType)))
		}
	}
	return where
}

func (s *Store) upsert(ctx context.Context, req upsertRequest) error {
	if req.rowID == "" {
		return InvalidArgumentError{Op: "upsert", Reason: "row id is empty"}
	}
	if len(req.values) == 0 {
		return InvalidArgumentError{Op: "upsert", Reason: fmt.Sprintf("no values to write to table %s", req.tableID)}
	}

	oc, err := s.columnsInTx(ctx, req.tableID)
	if err != nil {
		return err
	}

	values := req.values.clone()
	if v, ok := values[ColID]; ok {
		if id, _ := v.AsText(); id != req.rowID {
			return InvalidArgumentError{Op: "upsert", Reason: fmt.Sprintf("%s does not match row id %s", ColID, req.rowID)}
		}
		delete(values, ColID)
	}
	if err := validateValues(oc, values); err != nil {
		return err
	}
	if req.privileged {
		if err := requireCompleteRow(oc, values); err != nil {
			return err
		}
	}

	tss, err := s.securitySettings(ctx, req.tableID)
	if err != nil {
		return err
	}

	existing, err := s.queryMaps(ctx, s.dialect.From(req.tableID).
		Select(ColSyncState, ColFilterType, ColFilterValue).
		Where(req.where()...).
		Prepared(true))
	if err != nil {
		return err
	}

	if len(existing) > 1 {
		return IntegrityViolationError{Table: req.tableID, RowID: req.rowID, Reason: "more than one row matches the update"}
	}
	if len(existing) == 1 && !req.update {
		return InvalidArgumentError{Op: "insert", Reason: fmt.Sprintf("row %s is already present in table %s", req.rowID, req.tableID)}
	}
	isUpdate := len(existing) == 1

	var (
		updatedSyncState = SyncStateNewRow
		priorFilterType  = FilterDefault
		priorFilterValue string
	)
	if isUpdate {
		prior := storedRow(existing[0])
		if updatedSyncState, err = ParseSyncState(prior.text(ColSyncState)); err != nil {
			return IntegrityViolationError{Table: req.tableID, RowID: req.rowID, Reason: fmt.Sprintf("stored sync state is invalid: %v", err)}
		}
		if ft := prior.text(ColFilterType); ft != "" {
			priorFilterType = ft
		}
		priorFilterValue = prior.text(ColFilterValue)

		switch updatedSyncState {
		case SyncStateDeleted, SyncStateInConflict:
			return InvalidStateTransitionError{
				Table:  req.tableID,
				RowID:  req.rowID,
				From:   string(updatedSyncState),
				Reason: "a deleted or conflicted row cannot be modified",
			}
		case SyncStateSynced, SyncStateSyncedPendingFiles:
			updatedSyncState = SyncStateChanged
		}
	}

	if !req.privileged && (values.has(ColFilterType) || values.has(ColFilterValue)) {
		if err := tss.CanModifyFilterTypeAndValue(req.caller); err != nil {
			return err
		}
	}

	if isUpdate {
		if values.missingOrNull(ColSyncState) {
			values[ColSyncState] = Text(string(updatedSyncState))
		}
		if !req.privileged {
			if err := tss.AllowRowChange(req.caller, updatedSyncState, priorFilterType, priorFilterValue, ChangeRow); err != nil {
				return err
			}
		}
		if v, ok := values[ColLocale]; ok && v.IsNull() {
			values[ColLocale] = TextOrNull(req.locale)
		}
		if v, ok := values[ColSavepointType]; ok && v.IsNull() {
			values[ColSavepointType] = Text(SavepointComplete)
		}
	} else {
		if !values.has(ColRowETag) {
			values[ColRowETag] = TextOrNull(DefaultRowETag)
		}
		if values.missingOrNull(ColSyncState) {
			values[ColSyncState] = Text(string(SyncStateNewRow))
		}
		if !values.has(ColConflictType) {
			values[ColConflictType] = Null()
		}
		if !req.privileged {
			values[ColFilterType] = Text(tss.FilterTypeOnCreation)
			values[ColFilterValue] = TextOrNull(req.caller.User)
			if err := tss.AllowRowChange(req.caller, SyncStateNewRow, priorFilterType, priorFilterValue, NewRow); err != nil {
				return err
			}
		}
		if !values.has(ColFormID) {
			values[ColFormID] = Null()
		}
		if values.missingOrNull(ColLocale) {
			values[ColLocale] = TextOrNull(req.locale)
		}
		if values.missingOrNull(ColSavepointType) {
			values[ColSavepointType] = Text(SavepointComplete)
		}
	}

	if values.missingOrNull(ColSavepointTimestamp) {
		values[ColSavepointTimestamp] = Text(s.now())
	} else {
		s.clock.Observe(values.text(ColSavepointTimestamp))
	}
	if values.missingOrNull(ColSavepointCreator) {
		values[ColSavepointCreator] = TextOrNull(req.caller.User)
	}

	if err := flattenValues(oc, values); err != nil {
		return err
	}

	if isUpdate {
		if _, err := s.exec(ctx, s.dialect.Update(req.tableID).
			Set(record(values)).
			Where(req.where()...).
			Prepared(true)); err != nil {
			return err
		}
		s.publishAfterCommit(ctx, req.tableID, req.rowID, notify.OpUpdate)
		return nil
	}

	values[ColID] = Text(req.rowID)
	if _, err := s.exec(ctx, s.dialect.Insert(req.tableID).
		Rows(record(values)).
		Prepared(true)); err != nil {
		return err
	}
	s.publishAfterCommit(ctx, req.tableID, req.rowID, notify.OpInsert)
	return nil
}

// requireCompleteRow enforces that a privileged write names every retained
// column and every admin column.
func requireCompleteRow(oc *OrderedColumns, values Values) error {
	for _, col := range AdminColumns {
		if col == ColID {
			continue
		}
		if !values.has(col) {
			return InvalidArgumentError{Op: "privileged write", Reason: fmt.Sprintf("admin column %s is required", col)}
		}
	}
	for _, def := range oc.RetentionColumns() {
		if values.has(def.ElementKey) {
			continue
		}
		// a structured ancestor may supply the column through flattening
		if hasAncestorValue(def, values) {
			continue
		}
		return InvalidArgumentError{Op: "privileged write", Reason: fmt.Sprintf("column %s is required", def.ElementKey)}
	}
	return nil
}

func hasAncestorValue(def *ColumnDefinition, values Values) bool {
	for p := def.Parent(); p != nil; p = p.Parent() {
		if values.has(p.ElementKey) {
			return true
		}
	}
	return false
}
