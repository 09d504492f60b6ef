package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/fieldsync/notify"
	"github.com/rs/zerolog/log"
)

// TableDefinition is the bookkeeping row of one user table
type TableDefinition struct {
	TableID      string
	RevisionID   string
	SchemaETag   string
	LastDataETag string
	LastSyncTime string
}

// NeverSynced reports whether the table has not completed a sync yet
func (d TableDefinition) NeverSynced() bool { return d.LastSyncTime == neverSynced }

// CreateOrOpenTable creates tableID with the given columns, or verifies that
// an existing table was created with exactly the same columns.
func (s *Store) CreateOrOpenTable(ctx context.Context, tableID string, columns []Column) (*OrderedColumns, error) {
	var oc *OrderedColumns
	err := instrumentTable("create", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			oc, _, err = s.createOrOpenTable(ctx, tableID, columns)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return oc, nil
}

// CreateOrOpenTableWithProperties is CreateOrOpenTable followed by a
// metadata replace. A newly created table always starts from a clear
// property set.
func (s *Store) CreateOrOpenTableWithProperties(ctx context.Context, tableID string, columns []Column, entries []KeyValueStoreEntry, clear bool) (*OrderedColumns, error) {
	var oc *OrderedColumns
	err := instrumentTable("create", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			var (
				created bool
				err     error
			)
			oc, created, err = s.createOrOpenTable(ctx, tableID, columns)
			if err != nil {
				return err
			}
			if err := s.ReplaceMetadataList(ctx, tableID, entries, clear || created); err != nil {
				return err
			}
			return s.enforceMetadataTypes(ctx, tableID)
		})
	})
	if err != nil {
		return nil, err
	}
	return oc, nil
}

func (s *Store) createOrOpenTable(ctx context.Context, tableID string, columns []Column) (*OrderedColumns, bool, error) {
	if !ValidIdentifier(tableID) {
		return nil, false, InvalidArgumentError{Op: "create table", Reason: fmt.Sprintf("invalid table id %q", tableID)}
	}
	oc, err := NewOrderedColumns(tableID, columns)
	if err != nil {
		return nil, false, err
	}

	exists, err := s.hasTable(ctx, tableID)
	if err != nil {
		return nil, false, err
	}
	if exists {
		if err := s.verifyTableSchema(ctx, oc); err != nil {
			return nil, false, err
		}
		return oc, false, nil
	}

	if err := s.createTable(ctx, oc); err != nil {
		return nil, false, err
	}
	return oc, true, nil
}

func (s *Store) createTable(ctx context.Context, oc *OrderedColumns) error {
	tableID := oc.TableID()

	if _, err := s.execRaw(ctx, oc.createTableSQL()); err != nil {
		return err
	}
	if _, err := s.execRaw(ctx, oc.createIndexSQL()); err != nil {
		return err
	}

	if _, err := s.exec(ctx, s.dialect.Insert(TableDefinitions).
		Rows(goqu.Record{
			colTableID:      tableID,
			colRevisionID:   nil,
			colSchemaETag:   nil,
			colLastDataETag: nil,
			colLastSyncTime: neverSynced,
		}).
		Prepared(true)); err != nil {
		return err
	}

	defs := oc.Definitions()
	if len(defs) > 0 {
		rows := make([]interface{}, 0, len(defs))
		for _, def := range defs {
			rows = append(rows, goqu.Record{
				colTableID:              tableID,
				colElementKey:           def.ElementKey,
				colElementName:          def.ElementName,
				colElementType:          def.ElementType,
				colListChildElementKeys: encodeChildKeys(def.ListChildElementKeys),
			})
		}
		if _, err := s.exec(ctx, s.dialect.Insert(TableColumnDefinitions).Rows(rows...).Prepared(true)); err != nil {
			return err
		}
	}

	s.invalidateColumns(ctx, tableID)
	s.publishAfterCommit(ctx, tableID, "", notify.OpTable)
	log.Info().
		Str("table", tableID).
		Int("columns", len(defs)).
		Msg("Created table")
	return nil
}

// verifyTableSchema checks the stored columns of an existing table against
// the requested ones, element by element.
func (s *Store) verifyTableSchema(ctx context.Context, want *OrderedColumns) error {
	tableID := want.TableID()
	stored, err := s.readColumnDefinitions(ctx, tableID)
	if err != nil {
		return err
	}
	have, err := NewOrderedColumns(tableID, stored)
	if err != nil {
		return IntegrityViolationError{Table: tableID, Reason: fmt.Sprintf("stored column definitions are invalid: %v", err)}
	}

	mismatch := func(format string, args ...interface{}) error {
		return IntegrityViolationError{Table: tableID, Reason: fmt.Sprintf(format, args...)}
	}

	if len(have.Definitions()) != len(want.Definitions()) {
		return mismatch("table exists with %d columns, requested %d", len(have.Definitions()), len(want.Definitions()))
	}
	for _, def := range want.Definitions() {
		existing, ok := have.Find(def.ElementKey)
		if !ok {
			return mismatch("existing table has no column %s", def.ElementKey)
		}
		if existing.ElementName != def.ElementName {
			return mismatch("element name of %s differs", def.ElementKey)
		}
		if len(existing.ListChildElementKeys) != len(def.ListChildElementKeys) {
			return mismatch("child element keys of %s differ", def.ElementKey)
		}
		known := make(map[string]struct{}, len(existing.ListChildElementKeys))
		for _, k := range existing.ListChildElementKeys {
			known[k] = struct{}{}
		}
		for i, k := range def.ListChildElementKeys {
			if _, ok := known[k]; !ok {
				return mismatch("child element key [%d] of %s differs", i, def.ElementKey)
			}
		}
		if existing.Type != def.Type {
			return mismatch("element type of %s differs", def.ElementKey)
		}
	}
	return nil
}

// HasTable reports whether tableID has a table definition
func (s *Store) HasTable(ctx context.Context, tableID string) (bool, error) {
	var exists bool
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.hasTable(ctx, tableID)
		return err
	})
	return exists, err
}

func (s *Store) hasTable(ctx context.Context, tableID string) (bool, error) {
	n, err := s.queryInt(ctx, s.dialect.From(TableDefinitions).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colTableID).Eq(tableID)).
		Prepared(true))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTables returns every user table id in sorted order
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.queryMaps(ctx, s.dialect.From(TableDefinitions).
			Select(colTableID).
			Order(goqu.C(colTableID).Asc()).
			Prepared(true))
		if err != nil {
			return err
		}
		tables = make([]string, 0, len(rows))
		for _, r := range rows {
			tables = append(tables, stringOf(r[colTableID]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(tables)
	return tables, nil
}

// GetTableDefinition returns the bookkeeping row of tableID
func (s *Store) GetTableDefinition(ctx context.Context, tableID string) (TableDefinition, error) {
	var def TableDefinition
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.queryMaps(ctx, s.dialect.From(TableDefinitions).
			Select(colTableID, colRevisionID, colSchemaETag, colLastDataETag, colLastSyncTime).
			Where(goqu.C(colTableID).Eq(tableID)).
			Prepared(true))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return InvalidArgumentError{Op: "table definition", Reason: fmt.Sprintf("table %s does not exist", tableID)}
		}
		r := rows[0]
		def = TableDefinition{
			TableID:      stringOf(r[colTableID]),
			RevisionID:   stringOf(r[colRevisionID]),
			SchemaETag:   stringOf(r[colSchemaETag]),
			LastDataETag: stringOf(r[colLastDataETag]),
			LastSyncTime: stringOf(r[colLastSyncTime]),
		}
		return nil
	})
	return def, err
}

// DeleteTableAndAllData drops tableID with all of its rows, definitions,
// properties and sync etags. The table's attachments are purged once the
// drop commits.
func (s *Store) DeleteTableAndAllData(ctx context.Context, tableID string) error {
	return instrumentTable("delete", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			exists, err := s.hasTable(ctx, tableID)
			if err != nil {
				return err
			}
			if !exists {
				return InvalidArgumentError{Op: "delete table", Reason: fmt.Sprintf("table %s does not exist", tableID)}
			}

			if _, err := s.execRaw(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", tableID)); err != nil {
				return err
			}
			for _, sys := range []string{TableSyncETags, TableDefinitions, TableColumnDefinitions, TableKeyValueStore} {
				if _, err := s.exec(ctx, s.dialect.Delete(sys).
					Where(goqu.C(colTableID).Eq(tableID)).
					Prepared(true)); err != nil {
					return err
				}
			}

			s.invalidateColumns(ctx, tableID)
			s.invalidateSecurity(ctx, tableID)
			s.purgeTableAfterCommit(ctx, tableID)
			s.publishAfterCommit(ctx, tableID, "", notify.OpTable)
			log.Info().Str("table", tableID).Msg("Deleted table and all data")
			return nil
		})
	})
}

// PrivilegedUpdateTableETags records the server's schema and data etags for
// tableID. A nil etag is stored as NULL.
func (s *Store) PrivilegedUpdateTableETags(ctx context.Context, tableID string, schemaETag, lastDataETag *string) error {
	return instrumentTable("update_etags", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.updateTableETags(ctx, tableID, schemaETag, lastDataETag)
		})
	})
}

func (s *Store) updateTableETags(ctx context.Context, tableID string, schemaETag, lastDataETag *string) error {
	return s.updateTableDefinition(ctx, tableID, goqu.Record{
		colSchemaETag:   nullableText(schemaETag),
		colLastDataETag: nullableText(lastDataETag),
	})
}

// PrivilegedUpdateTableLastSyncTime stamps tableID as synced now
func (s *Store) PrivilegedUpdateTableLastSyncTime(ctx context.Context, tableID string) error {
	return instrumentTable("update_sync_time", func() error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.updateTableDefinition(ctx, tableID, goqu.Record{colLastSyncTime: s.now()})
		})
	})
}

func (s *Store) updateTableDefinition(ctx context.Context, tableID string, set goqu.Record) error {
	res, err := s.exec(ctx, s.dialect.Update(TableDefinitions).
		Set(set).
		Where(goqu.C(colTableID).Eq(tableID)).
		Prepared(true))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return InvalidArgumentError{Op: "update table definition", Reason: fmt.Sprintf("table %s does not exist", tableID)}
	}
	return nil
}

func nullableText(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
