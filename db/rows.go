package db

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// SyncState tracks a row's relationship to the server copy
type SyncState string

const (
	SyncStateNewRow             SyncState = "new_row"
	SyncStateChanged            SyncState = "changed"
	SyncStateDeleted            SyncState = "deleted"
	SyncStateSynced             SyncState = "synced"
	SyncStateSyncedPendingFiles SyncState = "synced_pending_files"
	SyncStateInConflict         SyncState = "in_conflict"
)

// ParseSyncState validates a stored or caller supplied state name
func ParseSyncState(s string) (SyncState, error) {
	switch st := SyncState(s); st {
	case SyncStateNewRow, SyncStateChanged, SyncStateDeleted, SyncStateSynced,
		SyncStateSyncedPendingFiles, SyncStateInConflict:
		return st, nil
	}
	return "", fmt.Errorf("unknown sync state %q", s)
}

// ConflictType tags the two sides of a conflict pair
type ConflictType int

const (
	LocalDeletedOldValues ConflictType = iota
	LocalUpdatedUpdatedValues
	ServerDeletedOldValues
	ServerUpdatedUpdatedValues
)

func (c ConflictType) String() string {
	switch c {
	case LocalDeletedOldValues:
		return "LOCAL_DELETED_OLD_VALUES"
	case LocalUpdatedUpdatedValues:
		return "LOCAL_UPDATED_UPDATED_VALUES"
	case ServerDeletedOldValues:
		return "SERVER_DELETED_OLD_VALUES"
	case ServerUpdatedUpdatedValues:
		return "SERVER_UPDATED_UPDATED_VALUES"
	}
	return fmt.Sprintf("ConflictType(%d)", int(c))
}

// IsLocal reports whether c marks the local side of a conflict
func (c ConflictType) IsLocal() bool {
	return c == LocalDeletedOldValues || c == LocalUpdatedUpdatedValues
}

// IsServer reports whether c marks the server side of a conflict
func (c ConflictType) IsServer() bool {
	return c == ServerDeletedOldValues || c == ServerUpdatedUpdatedValues
}

// Row is one physical storage row. Nullable admin text fields use the
// empty string for NULL; an empty SavepointType marks a checkpoint.
type Row struct {
	RowID              string
	RowETag            string
	SyncState          SyncState
	ConflictType       *ConflictType
	FilterType         string
	FilterValue        string
	FormID             string
	Locale             string
	SavepointType      string
	SavepointTimestamp string
	SavepointCreator   string

	// Values holds stored user columns keyed by element key
	Values Values
}

// IsCheckpoint reports whether the row is an unfinalized checkpoint
func (r Row) IsCheckpoint() bool { return r.SavepointType == "" }

// storedRow is a scanned data table row keyed by column name
type storedRow map[string]interface{}

func (r storedRow) text(col string) string { return stringOf(r[col]) }

func (r storedRow) conflictType() *ConflictType {
	v := adminValueFromStorage(ColConflictType, r[ColConflictType])
	n, ok := v.AsInt()
	if !ok {
		return nil
	}
	ct := ConflictType(n)
	return &ct
}

func (r storedRow) toRow(oc *OrderedColumns) (Row, error) {
	row := Row{
		RowID:              r.text(ColID),
		RowETag:            r.text(ColRowETag),
		SyncState:          SyncState(r.text(ColSyncState)),
		ConflictType:       r.conflictType(),
		FilterType:         r.text(ColFilterType),
		FilterValue:        r.text(ColFilterValue),
		FormID:             r.text(ColFormID),
		Locale:             r.text(ColLocale),
		SavepointType:      r.text(ColSavepointType),
		SavepointTimestamp: r.text(ColSavepointTimestamp),
		SavepointCreator:   r.text(ColSavepointCreator),
		Values:             make(Values),
	}
	for _, def := range oc.RetentionColumns() {
		v, err := valueFromStorage(r[def.ElementKey], def.Type.DataType)
		if err != nil {
			return Row{}, IntegrityViolationError{Table: oc.TableID(), RowID: row.RowID, Reason: fmt.Sprintf("column %s: %v", def.ElementKey, err)}
		}
		row.Values[def.ElementKey] = v
	}
	return row, nil
}

// values converts the stored row back into a Values map including admin
// columns, as used when copying a row forward.
func (r storedRow) values(oc *OrderedColumns) (Values, error) {
	out := make(Values, len(r))
	for _, col := range AdminColumns {
		out[col] = adminValueFromStorage(col, r[col])
	}
	for _, def := range oc.RetentionColumns() {
		v, err := valueFromStorage(r[def.ElementKey], def.Type.DataType)
		if err != nil {
			return nil, IntegrityViolationError{Table: oc.TableID(), RowID: r.text(ColID), Reason: fmt.Sprintf("column %s: %v", def.ElementKey, err)}
		}
		out[def.ElementKey] = v
	}
	return out, nil
}

// selectStored reads rows of the table matching where, oldest savepoint first
func (s *Store) selectStored(ctx context.Context, oc *OrderedColumns, where ...exp.Expression) ([]storedRow, error) {
	maps, err := s.queryMaps(ctx, s.dialect.From(oc.TableID()).
		Select(oc.selectColumns()...).
		Where(where...).
		Order(goqu.C(ColSavepointTimestamp).Asc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	out := make([]storedRow, len(maps))
	for i, m := range maps {
		out[i] = m
	}
	return out, nil
}

func toRows(oc *OrderedColumns, stored []storedRow) ([]Row, error) {
	rows := make([]Row, 0, len(stored))
	for _, sr := range stored {
		row, err := sr.toRow(oc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetRowsWithID returns every storage row of rowID ordered by savepoint
// timestamp, oldest first.
func (s *Store) GetRowsWithID(ctx context.Context, tableID, rowID string) ([]Row, error) {
	var rows []Row
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}
		stored, err := s.selectStored(ctx, oc, goqu.C(ColID).Eq(rowID))
		if err != nil {
			return err
		}
		rows, err = toRows(oc, stored)
		return err
	})
	return rows, err
}

// GetMostRecentRow returns the storage row of rowID with the latest
// savepoint timestamp. A row in conflict reads as its local side. The bool
// is false when no row exists.
func (s *Store) GetMostRecentRow(ctx context.Context, tableID, rowID string) (Row, bool, error) {
	var (
		row   Row
		found bool
	)
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}

		conflicts, err := s.conflictingRows(ctx, oc, rowID)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			// local side sorts first
			if !conflicts[0].ConflictType.IsLocal() {
				return IntegrityViolationError{Table: tableID, RowID: rowID, Reason: "conflict has no local row"}
			}
			row, found = conflicts[0], true
			return nil
		}

		stored, err := s.selectStored(ctx, oc,
			goqu.C(ColID).Eq(rowID),
			goqu.C(ColSavepointTimestamp).In(s.maxTimestamp(tableID, rowID)))
		if err != nil {
			return err
		}
		switch len(stored) {
		case 0:
			return nil
		case 1:
			row, err = stored[0].toRow(oc)
			found = err == nil
			return err
		}
		return IntegrityViolationError{Table: tableID, RowID: rowID, Reason: "more than one checkpoint at a timestamp"}
	})
	return row, found, err
}

// GetConflictingRows returns the in_conflict rows of rowID, local side first
func (s *Store) GetConflictingRows(ctx context.Context, tableID, rowID string) ([]Row, error) {
	var rows []Row
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		oc, err := s.columnsInTx(ctx, tableID)
		if err != nil {
			return err
		}
		rows, err = s.conflictingRows(ctx, oc, rowID)
		return err
	})
	return rows, err
}

func (s *Store) conflictingRows(ctx context.Context, oc *OrderedColumns, rowID string) ([]Row, error) {
	maps, err := s.queryMaps(ctx, s.dialect.From(oc.TableID()).
		Select(oc.selectColumns()...).
		Where(
			goqu.C(ColID).Eq(rowID),
			goqu.C(ColConflictType).IsNotNull(),
		).
		Order(goqu.C(ColConflictType).Asc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	stored := make([]storedRow, len(maps))
	for i, m := range maps {
		stored[i] = m
	}
	return toRows(oc, stored)
}

// maxTimestamp is the subquery selecting the latest savepoint of rowID
func (s *Store) maxTimestamp(tableID, rowID string) *goqu.SelectDataset {
	return s.dialect.From(tableID).
		Select(goqu.MAX(ColSavepointTimestamp)).
		Where(goqu.C(ColID).Eq(rowID))
}

// validateValues checks keys against the schema and admin columns and
// coerces each value to its column's storage kind.
func validateValues(oc *OrderedColumns, values Values) error {
	for key, v := range values {
		if IsAdminColumn(key) {
			if err := validateAdminValue(key, v); err != nil {
				return err
			}
			continue
		}
		def, ok := oc.Find(key)
		if !ok {
			return InvalidArgumentError{Op: "validate", Reason: fmt.Sprintf("unknown column %q in table %s", key, oc.TableID())}
		}
		if !def.IsUnitOfRetention() {
			if _, isText := v.AsText(); !isText && !v.IsNull() {
				return InvalidArgumentError{Op: "validate", Reason: fmt.Sprintf("column %s requires JSON", key)}
			}
			continue
		}
		cv, err := coerce(v, def.Type.DataType)
		if err != nil {
			return InvalidArgumentError{Op: "validate", Reason: fmt.Sprintf("column %s: %v", key, err)}
		}
		values[key] = cv
	}
	return nil
}

func validateAdminValue(col string, v Value) error {
	if v.IsNull() {
		return nil
	}
	if col == ColConflictType {
		n, ok := v.AsInt()
		if !ok || n < int64(LocalDeletedOldValues) || n > int64(ServerUpdatedUpdatedValues) {
			return InvalidArgumentError{Op: "validate", Reason: fmt.Sprintf("%s must be a conflict type, got %s", col, v)}
		}
		return nil
	}
	if v.Kind() != KindText {
		return InvalidArgumentError{Op: "validate", Reason: fmt.Sprintf("%s must be text, got %s", col, v.Kind())}
	}
	if col == ColSyncState {
		if _, err := ParseSyncState(v.String()); err != nil {
			return InvalidArgumentError{Op: "validate", Reason: err.Error()}
		}
	}
	return nil
}

// record converts values into a goqu record for insert or update
func record(values Values) goqu.Record {
	rec := make(goqu.Record, len(values))
	for k, v := range values {
		rec[k] = v.storage()
	}
	return rec
}
