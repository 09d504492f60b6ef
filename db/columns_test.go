package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf(defs []*ColumnDefinition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ElementKey)
	}
	return out
}

func TestNewOrderedColumns_Retention(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns(surveyTable, surveyColumns())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"active", "age", "location", "location_latitude", "location_longitude",
		"name", "photo", "score", "tags", "tags_items",
	}, keysOf(oc.Definitions()))

	assert.Equal(t, []string{
		"active", "age", "location_latitude", "location_longitude",
		"name", "photo", "score", "tags",
	}, keysOf(oc.RetentionColumns()))

	assert.Equal(t, []string{"photo"}, keysOf(oc.RowpathColumns()))

	loc, ok := oc.Find("location")
	require.True(t, ok)
	assert.Equal(t, DataTypeObject, loc.Type.DataType)
	assert.Equal(t, "geopoint", loc.Type.Name)
	assert.False(t, loc.IsUnitOfRetention())
	assert.Len(t, loc.Children(), 2)

	items, ok := oc.Find("tags_items")
	require.True(t, ok)
	assert.Equal(t, "tags", items.Parent().ElementKey)
	assert.False(t, items.IsUnitOfRetention())

	active, _ := oc.Find("active")
	assert.Equal(t, DataTypeBool, active.Type.DataType)
}

func TestNewOrderedColumns_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string][]Column{
		"duplicate key": {
			{ElementKey: "a", ElementType: "string"},
			{ElementKey: "a", ElementType: "string"},
		},
		"unknown child": {
			{ElementKey: "a", ElementType: "object", ListChildElementKeys: []string{"missing"}},
		},
		"two parents": {
			{ElementKey: "a", ElementType: "object", ListChildElementKeys: []string{"c"}},
			{ElementKey: "b", ElementType: "object", ListChildElementKeys: []string{"c"}},
			{ElementKey: "c", ElementType: "string"},
		},
		"cycle": {
			{ElementKey: "a", ElementType: "object", ListChildElementKeys: []string{"b"}},
			{ElementKey: "b", ElementType: "object", ListChildElementKeys: []string{"a"}},
		},
		"self parent": {
			{ElementKey: "a", ElementType: "object", ListChildElementKeys: []string{"a"}},
		},
		"invalid key": {
			{ElementKey: "1abc", ElementType: "string"},
		},
		"unknown data type": {
			{ElementKey: "a", ElementType: "thing:bogus"},
		},
	}
	for name, cols := range cases {
		cols := cols
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewOrderedColumns("t", cols)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestParseElementType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw         string
		hasChildren bool
		want        ElementType
	}{
		{"integer", false, ElementType{"integer", DataTypeInteger}},
		{"boolean", false, ElementType{"boolean", DataTypeBool}},
		{"geopoint", true, ElementType{"geopoint", DataTypeObject}},
		{"date", false, ElementType{"date", DataTypeString}},
		{"mimeUri:object", true, ElementType{"mimeUri", DataTypeObject}},
		{"count:integer", false, ElementType{"count", DataTypeInteger}},
	}
	for _, c := range cases {
		got, err := ParseElementType(c.raw, c.hasChildren)
		require.NoError(t, err, c.raw)
		assert.Equal(t, c.want, got, c.raw)
	}

	_, err := ParseElementType("", false)
	assert.Error(t, err)
	_, err = ParseElementType(":integer", false)
	assert.Error(t, err)
}

func TestStorageType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "INTEGER", StorageType(DataTypeInteger))
	assert.Equal(t, "INTEGER", StorageType(DataTypeBool))
	assert.Equal(t, "REAL", StorageType(DataTypeNumber))
	for _, dt := range []ElementDataType{DataTypeString, DataTypeArray, DataTypeObject, DataTypeRowpath, DataTypeConfigpath} {
		assert.Equal(t, "TEXT", StorageType(dt), dt)
	}
}

func TestCreateTableSQL_StoresOnlyRetainedColumns(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns(surveyTable, surveyColumns())
	require.NoError(t, err)

	ddl := oc.createTableSQL()
	assert.Contains(t, ddl, `"tags" TEXT NULL`)
	assert.Contains(t, ddl, `"location_latitude" REAL NULL`)
	assert.Contains(t, ddl, `"active" INTEGER NULL`)
	assert.NotContains(t, ddl, `"tags_items"`)
	assert.False(t, strings.Contains(ddl, `"location" `))
}
