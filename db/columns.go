package db

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ElementDataType is the storage-relevant data type of a column
type ElementDataType string

const (
	DataTypeInteger    ElementDataType = "integer"
	DataTypeNumber     ElementDataType = "number"
	DataTypeBool       ElementDataType = "bool"
	DataTypeString     ElementDataType = "string"
	DataTypeArray      ElementDataType = "array"
	DataTypeObject     ElementDataType = "object"
	DataTypeRowpath    ElementDataType = "rowpath"
	DataTypeConfigpath ElementDataType = "configpath"
)

var knownDataTypes = map[string]ElementDataType{
	"integer":    DataTypeInteger,
	"number":     DataTypeNumber,
	"bool":       DataTypeBool,
	"boolean":    DataTypeBool,
	"string":     DataTypeString,
	"array":      DataTypeArray,
	"object":     DataTypeObject,
	"rowpath":    DataTypeRowpath,
	"configpath": DataTypeConfigpath,
}

// StorageType returns the SQLite column type for a data type
func StorageType(dt ElementDataType) string { return dt.StorageType() }

func (dt ElementDataType) StorageType() string {
	switch dt {
	case DataTypeBool, DataTypeInteger:
		return "INTEGER"
	case DataTypeNumber:
		return "REAL"
	}
	return "TEXT"
}

// ElementType is a parsed element type: a name plus its data type.
// "geopoint" with children parses to {geopoint, object}.
type ElementType struct {
	Name     string
	DataType ElementDataType
}

// ParseElementType parses "name" or "name:datatype". Names that are not
// data types become object when the column has children, otherwise string.
func ParseElementType(raw string, hasChildren bool) (ElementType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ElementType{}, fmt.Errorf("element type is empty")
	}

	if name, dt, ok := strings.Cut(raw, ":"); ok {
		known, found := knownDataTypes[dt]
		if !found || name == "" {
			return ElementType{}, fmt.Errorf("element type %q has unknown data type %q", raw, dt)
		}
		return ElementType{Name: name, DataType: known}, nil
	}

	if known, found := knownDataTypes[raw]; found {
		return ElementType{Name: raw, DataType: known}, nil
	}
	if hasChildren {
		return ElementType{Name: raw, DataType: DataTypeObject}, nil
	}
	return ElementType{Name: raw, DataType: DataTypeString}, nil
}

// Column is a column definition as supplied on table creation and as
// persisted in the column definitions table.
type Column struct {
	ElementKey           string
	ElementName          string
	ElementType          string
	ListChildElementKeys []string
}

// ColumnDefinition is a Column linked into its table's column tree
type ColumnDefinition struct {
	Column
	Type ElementType

	parent   *ColumnDefinition
	children []*ColumnDefinition
	retained bool
}

func (c *ColumnDefinition) Parent() *ColumnDefinition     { return c.parent }
func (c *ColumnDefinition) Children() []*ColumnDefinition { return c.children }

// IsUnitOfRetention reports whether the column has a physical storage
// column. Arrays are stored whole as JSON and none of their descendants are
// stored; structured non-array columns are stored only through their leaves.
func (c *ColumnDefinition) IsUnitOfRetention() bool { return c.retained }

// OrderedColumns is the resolved column tree of one table
type OrderedColumns struct {
	tableID string
	defs    []*ColumnDefinition
	byKey   map[string]*ColumnDefinition
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s may name a user table or column
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// NewOrderedColumns resolves child references, rejects cycles and shared
// children, and marks each column's unit of retention.
func NewOrderedColumns(tableID string, columns []Column) (*OrderedColumns, error) {
	oc := &OrderedColumns{
		tableID: tableID,
		byKey:   make(map[string]*ColumnDefinition, len(columns)),
	}

	for _, col := range columns {
		if !ValidIdentifier(col.ElementKey) {
			return nil, InvalidArgumentError{Op: "columns", Reason: fmt.Sprintf("invalid element key %q", col.ElementKey)}
		}
		if _, dup := oc.byKey[col.ElementKey]; dup {
			return nil, InvalidArgumentError{Op: "columns", Reason: fmt.Sprintf("duplicate element key %q", col.ElementKey)}
		}
		if col.ElementName == "" {
			col.ElementName = col.ElementKey
		}
		et, err := ParseElementType(col.ElementType, len(col.ListChildElementKeys) > 0)
		if err != nil {
			return nil, InvalidArgumentError{Op: "columns", Reason: err.Error()}
		}
		def := &ColumnDefinition{Column: col, Type: et}
		oc.defs = append(oc.defs, def)
		oc.byKey[col.ElementKey] = def
	}

	for _, def := range oc.defs {
		for _, childKey := range def.ListChildElementKeys {
			child, ok := oc.byKey[childKey]
			if !ok {
				return nil, InvalidArgumentError{Op: "columns", Reason: fmt.Sprintf("column %s references unknown child %q", def.ElementKey, childKey)}
			}
			if child.parent != nil {
				return nil, InvalidArgumentError{Op: "columns", Reason: fmt.Sprintf("column %s has more than one parent", childKey)}
			}
			child.parent = def
			def.children = append(def.children, child)
		}
	}

	sort.Slice(oc.defs, func(i, j int) bool { return oc.defs[i].ElementKey < oc.defs[j].ElementKey })

	if err := oc.checkAcyclic(); err != nil {
		return nil, err
	}

	for _, def := range oc.defs {
		def.retained = computeRetention(def)
	}
	return oc, nil
}

func (oc *OrderedColumns) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*ColumnDefinition]int, len(oc.defs))

	var visit func(*ColumnDefinition) error
	visit = func(def *ColumnDefinition) error {
		switch state[def] {
		case visiting:
			return InvalidArgumentError{Op: "columns", Reason: fmt.Sprintf("column %s is its own ancestor", def.ElementKey)}
		case done:
			return nil
		}
		state[def] = visiting
		for _, child := range def.children {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[def] = done
		return nil
	}

	for _, def := range oc.defs {
		if err := visit(def); err != nil {
			return err
		}
	}
	return nil
}

func computeRetention(def *ColumnDefinition) bool {
	for p := def.parent; p != nil; p = p.parent {
		if p.Type.DataType == DataTypeArray {
			return false
		}
	}
	if def.Type.DataType == DataTypeArray {
		return true
	}
	return len(def.children) == 0
}

// TableID returns the owning table
func (oc *OrderedColumns) TableID() string { return oc.tableID }

// Definitions returns every column ordered by element key
func (oc *OrderedColumns) Definitions() []*ColumnDefinition { return oc.defs }

// Find looks up a column by element key
func (oc *OrderedColumns) Find(elementKey string) (*ColumnDefinition, bool) {
	def, ok := oc.byKey[elementKey]
	return def, ok
}

// RetentionColumns returns the columns that have storage
func (oc *OrderedColumns) RetentionColumns() []*ColumnDefinition {
	var out []*ColumnDefinition
	for _, def := range oc.defs {
		if def.retained {
			out = append(out, def)
		}
	}
	return out
}

// RowpathColumns returns stored columns that reference attachment files
func (oc *OrderedColumns) RowpathColumns() []*ColumnDefinition {
	var out []*ColumnDefinition
	for _, def := range oc.defs {
		if def.retained && def.Type.DataType == DataTypeRowpath {
			out = append(out, def)
		}
	}
	return out
}

// Columns returns the plain column definitions ordered by element key
func (oc *OrderedColumns) Columns() []Column {
	out := make([]Column, 0, len(oc.defs))
	for _, def := range oc.defs {
		out = append(out, def.Column)
	}
	return out
}

// selectColumns lists admin columns followed by stored user columns
func (oc *OrderedColumns) selectColumns() []interface{} {
	cols := make([]interface{}, 0, len(AdminColumns)+len(oc.defs))
	for _, c := range AdminColumns {
		cols = append(cols, c)
	}
	for _, def := range oc.RetentionColumns() {
		cols = append(cols, def.ElementKey)
	}
	return cols
}

func (oc *OrderedColumns) createTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %q (\n\t%s", oc.tableID, adminColumnDDL)
	for _, def := range oc.RetentionColumns() {
		fmt.Fprintf(&b, ",\n\t%q %s NULL", def.ElementKey, def.Type.DataType.StorageType())
	}
	b.WriteString("\n)")
	return b.String()
}

func (oc *OrderedColumns) createIndexSQL() string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %q ON %q (_id, _savepoint_timestamp)", oc.tableID+"_id_idx", oc.tableID)
}
