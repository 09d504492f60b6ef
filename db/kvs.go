package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/fieldsync/telemetry"
	"github.com/rs/zerolog/log"
)

// Well-known partitions and aspects
const (
	PartitionTable  = "Table"
	PartitionColumn = "Column"
	AspectDefault   = "default"
	AspectSecurity  = "security"
)

// KeyValueStoreEntry is one metadata property of a table
type KeyValueStoreEntry struct {
	TableID   string
	Partition string
	Aspect    string
	Key       string
	Type      string
	Value     string
}

type typeRestriction struct {
	partition string
	key       string
	valueType ElementDataType
}

// kvsRestrictions maps key to the partitions that constrain its value type.
// Built once; never mutated.
var kvsRestrictions = buildRestrictions([]typeRestriction{
	{PartitionColumn, "displayChoicesList", DataTypeString},
	{PartitionColumn, "displayFormat", DataTypeString},
	{PartitionColumn, "displayName", DataTypeObject},
	{PartitionColumn, "displayVisible", DataTypeBool},
	{PartitionColumn, "joins", DataTypeArray},
	{PartitionTable, "colOrder", DataTypeArray},
	{PartitionTable, "displayName", DataTypeObject},
	{PartitionTable, "groupByCols", DataTypeArray},
	{PartitionTable, "indexCol", DataTypeString},
	{PartitionTable, "sortCol", DataTypeObject},
	{PartitionTable, "sortOrder", DataTypeObject},
})

func buildRestrictions(list []typeRestriction) map[string]map[string]ElementDataType {
	out := make(map[string]map[string]ElementDataType)
	for _, r := range list {
		if out[r.key] == nil {
			out[r.key] = make(map[string]ElementDataType)
		}
		out[r.key][r.partition] = r.valueType
	}
	return out
}

func restrictionFor(partition, key string) (ElementDataType, bool) {
	byPartition, ok := kvsRestrictions[key]
	if !ok {
		return "", false
	}
	t, ok := byPartition[partition]
	return t, ok
}

// ReplaceMetadata writes one entry. A blank value deletes it.
func (s *Store) ReplaceMetadata(ctx context.Context, entry KeyValueStoreEntry) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.replaceMetadata(ctx, entry.TableID, entry)
	})
}

// ReplaceMetadataList writes entries for tableID, first removing every
// existing entry of the table when clear is set.
func (s *Store) ReplaceMetadataList(ctx context.Context, tableID string, entries []KeyValueStoreEntry, clear bool) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		if clear {
			if err := s.deleteMetadata(ctx, tableID, nil, nil, nil); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if err := s.replaceMetadata(ctx, tableID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceMetadataSubList deletes every entry of the (partition, aspect)
// scope, nil meaning any, then writes entries.
func (s *Store) ReplaceMetadataSubList(ctx context.Context, tableID string, partition, aspect *string, entries []KeyValueStoreEntry) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.deleteMetadata(ctx, tableID, partition, aspect, nil); err != nil {
			return err
		}
		for _, e := range entries {
			if partition != nil && e.Partition != *partition {
				return InvalidArgumentError{Op: "replace metadata", Reason: fmt.Sprintf("entry partition %q outside scope %q", e.Partition, *partition)}
			}
			if aspect != nil && e.Aspect != *aspect {
				return InvalidArgumentError{Op: "replace metadata", Reason: fmt.Sprintf("entry aspect %q outside scope %q", e.Aspect, *aspect)}
			}
			if err := s.replaceMetadata(ctx, tableID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteMetadata removes matching entries; nil filters match anything
func (s *Store) DeleteMetadata(ctx context.Context, tableID string, partition, aspect, key *string) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.deleteMetadata(ctx, tableID, partition, aspect, key)
	})
}

// GetMetadata returns matching entries ordered by partition, aspect, key
func (s *Store) GetMetadata(ctx context.Context, tableID string, partition, aspect, key *string) ([]KeyValueStoreEntry, error) {
	var out []KeyValueStoreEntry
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.getMetadata(ctx, tableID, partition, aspect, key)
		return err
	})
	return out, err
}

// EnforceMetadataTypes rewrites the value type of every restricted entry of
// tableID to the declared type.
func (s *Store) EnforceMetadataTypes(ctx context.Context, tableID string) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.enforceMetadataTypes(ctx, tableID)
	})
}

func (s *Store) enforceMetadataTypes(ctx context.Context, tableID string) error {
	for key, byPartition := range kvsRestrictions {
		for partition, valueType := range byPartition {
			_, err := s.exec(ctx, s.dialect.Update(TableKeyValueStore).
				Set(goqu.Record{colType: string(valueType)}).
				Where(goqu.Ex{
					colTableID:   tableID,
					colPartition: partition,
					colKey:       key,
				}).
				Prepared(true))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) replaceMetadata(ctx context.Context, tableID string, e KeyValueStoreEntry) error {
	if err := validateEntry(tableID, &e); err != nil {
		return err
	}

	where := goqu.Ex{
		colTableID:   e.TableID,
		colPartition: e.Partition,
		colAspect:    e.Aspect,
		colKey:       e.Key,
	}
	if _, err := s.exec(ctx, s.dialect.Delete(TableKeyValueStore).Where(where).Prepared(true)); err != nil {
		return err
	}

	if e.Partition == PartitionTable && e.Aspect == AspectSecurity {
		s.invalidateSecurity(ctx, tableID)
	}

	if strings.TrimSpace(e.Value) == "" {
		return nil
	}
	_, err := s.exec(ctx, s.dialect.Insert(TableKeyValueStore).
		Rows(goqu.Record{
			colTableID:   e.TableID,
			colPartition: e.Partition,
			colAspect:    e.Aspect,
			colKey:       e.Key,
			colType:      e.Type,
			colValue:     e.Value,
		}).
		Prepared(true))
	return err
}

// validateEntry checks identity fields and forces restricted value types.
// It may rewrite e.Type.
func validateEntry(tableID string, e *KeyValueStoreEntry) error {
	switch {
	case strings.TrimSpace(e.TableID) == "":
		return InvalidArgumentError{Op: "replace metadata", Reason: "table id is empty"}
	case e.TableID != tableID:
		return InvalidArgumentError{Op: "replace metadata", Reason: fmt.Sprintf("entry table %q does not match %q", e.TableID, tableID)}
	case strings.TrimSpace(e.Partition) == "":
		return InvalidArgumentError{Op: "replace metadata", Reason: "partition is empty"}
	case strings.TrimSpace(e.Aspect) == "":
		return InvalidArgumentError{Op: "replace metadata", Reason: "aspect is empty"}
	case strings.TrimSpace(e.Key) == "":
		return InvalidArgumentError{Op: "replace metadata", Reason: "key is empty"}
	}

	if strings.TrimSpace(e.Value) == "" {
		return nil
	}
	if strings.TrimSpace(e.Type) == "" {
		return InvalidArgumentError{Op: "replace metadata", Reason: fmt.Sprintf("key %s has a value but no type", e.Key)}
	}

	want, restricted := restrictionFor(e.Partition, e.Key)
	if !restricted || ElementDataType(e.Type) == want {
		return nil
	}

	log.Warn().
		Str("table", e.TableID).
		Str("partition", e.Partition).
		Str("key", e.Key).
		Str("declared", e.Type).
		Str("forced", string(want)).
		Msg("Metadata value type does not match restriction, forcing declared type")
	telemetry.KVSTypeCorrectionsTotal.Inc()
	e.Type = string(want)

	if err := checkStructure(e.Value, want); err != nil {
		return ValidationError{
			Table:     e.TableID,
			Partition: e.Partition,
			Aspect:    e.Aspect,
			Key:       e.Key,
			Reason:    err.Error(),
		}
	}
	return nil
}

// checkStructure is a shallow sanity check on a value whose type was forced
func checkStructure(value string, t ElementDataType) error {
	v := strings.TrimSpace(value)
	switch t {
	case DataTypeArray:
		if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
			return fmt.Errorf("value is not a JSON array")
		}
	case DataTypeObject:
		if len(v) > 0 && strings.ContainsRune(`"[{`, rune(v[0])) && !balanced(v) {
			return fmt.Errorf("value has unbalanced delimiters")
		}
	}
	return nil
}

// balanced reports whether v opens and closes with the same JSON delimiter
func balanced(v string) bool {
	if len(v) < 2 {
		return false
	}
	switch v[0] {
	case '"':
		return v[len(v)-1] == '"'
	case '[':
		return v[len(v)-1] == ']'
	case '{':
		return v[len(v)-1] == '}'
	}
	return false
}

func metadataWhere(tableID string, partition, aspect, key *string) exp.ExpressionList {
	conds := []exp.Expression{goqu.C(colTableID).Eq(tableID)}
	if partition != nil {
		conds = append(conds, goqu.C(colPartition).Eq(*partition))
	}
	if aspect != nil {
		conds = append(conds, goqu.C(colAspect).Eq(*aspect))
	}
	if key != nil {
		conds = append(conds, goqu.C(colKey).Eq(*key))
	}
	return goqu.And(conds...)
}

func (s *Store) deleteMetadata(ctx context.Context, tableID string, partition, aspect, key *string) error {
	if partition == nil || *partition == PartitionTable {
		if aspect == nil || *aspect == AspectSecurity {
			s.invalidateSecurity(ctx, tableID)
		}
	}
	_, err := s.exec(ctx, s.dialect.Delete(TableKeyValueStore).
		Where(metadataWhere(tableID, partition, aspect, key)).
		Prepared(true))
	return err
}

func (s *Store) getMetadata(ctx context.Context, tableID string, partition, aspect, key *string) ([]KeyValueStoreEntry, error) {
	rows, err := s.queryMaps(ctx, s.dialect.From(TableKeyValueStore).
		Select(colTableID, colPartition, colAspect, colKey, colType, colValue).
		Where(metadataWhere(tableID, partition, aspect, key)).
		Order(goqu.C(colPartition).Asc(), goqu.C(colAspect).Asc(), goqu.C(colKey).Asc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	out := make([]KeyValueStoreEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, KeyValueStoreEntry{
			TableID:   stringOf(r[colTableID]),
			Partition: stringOf(r[colPartition]),
			Aspect:    stringOf(r[colAspect]),
			Key:       stringOf(r[colKey]),
			Type:      stringOf(r[colType]),
			Value:     stringOf(r[colValue]),
		})
	}
	return out, nil
}
