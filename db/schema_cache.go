package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// GetColumns returns the resolved column tree of tableID, served from the
// LRU cache when possible.
func (s *Store) GetColumns(ctx context.Context, tableID string) (*OrderedColumns, error) {
	if oc, ok := s.columns.Get(tableID); ok {
		return oc, nil
	}

	var oc *OrderedColumns
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		oc, err = s.loadColumns(ctx, tableID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return oc, nil
}

// columnsInTx resolves columns inside an already open transaction
func (s *Store) columnsInTx(ctx context.Context, tableID string) (*OrderedColumns, error) {
	if oc, ok := s.columns.Get(tableID); ok {
		return oc, nil
	}
	return s.loadColumns(ctx, tableID)
}

func (s *Store) loadColumns(ctx context.Context, tableID string) (*OrderedColumns, error) {
	cols, err := s.readColumnDefinitions(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		exists, err := s.hasTable(ctx, tableID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, InvalidArgumentError{Op: "columns", Reason: fmt.Sprintf("table %s does not exist", tableID)}
		}
	}

	oc, err := NewOrderedColumns(tableID, cols)
	if err != nil {
		return nil, IntegrityViolationError{Table: tableID, Reason: fmt.Sprintf("stored column definitions are invalid: %v", err)}
	}
	s.columns.Add(tableID, oc)
	return oc, nil
}

func (s *Store) readColumnDefinitions(ctx context.Context, tableID string) ([]Column, error) {
	rows, err := s.queryMaps(ctx, s.dialect.From(TableColumnDefinitions).
		Select(colElementKey, colElementName, colElementType, colListChildElementKeys).
		Where(goqu.C(colTableID).Eq(tableID)).
		Order(goqu.C(colElementKey).Asc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}

	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		children, err := decodeChildKeys(stringOf(r[colListChildElementKeys]))
		if err != nil {
			return nil, IntegrityViolationError{Table: tableID, Reason: fmt.Sprintf("column %s: %v", stringOf(r[colElementKey]), err)}
		}
		cols = append(cols, Column{
			ElementKey:           stringOf(r[colElementKey]),
			ElementName:          stringOf(r[colElementName]),
			ElementType:          stringOf(r[colElementType]),
			ListChildElementKeys: children,
		})
	}
	return cols, nil
}

// invalidateColumns drops the cached column tree now and again when the
// surrounding transaction ends, so a rolled back DDL never stays cached.
func (s *Store) invalidateColumns(ctx context.Context, tableID string) {
	s.columns.Remove(tableID)
	onTransactionFinish(ctx, func() {
		s.columns.Remove(tableID)
	})
	log.Debug().Str("table", tableID).Msg("Invalidated column cache")
}

func encodeChildKeys(keys []string) string {
	if len(keys) == 0 {
		return "[]"
	}
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func decodeChildKeys(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("child element keys %q are not valid JSON", raw)
	}
	doc := gjson.Parse(raw)
	if !doc.IsArray() {
		return nil, fmt.Errorf("child element keys %q are not a JSON array", raw)
	}
	var keys []string
	for _, k := range doc.Array() {
		keys = append(keys, k.String())
	}
	return keys, nil
}
