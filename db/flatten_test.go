package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenValues_Geopoint(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns(surveyTable, surveyColumns())
	require.NoError(t, err)

	values := Values{
		"name":     Text("site"),
		"location": JSON(`{"latitude": 1.5, "longitude": -2}`),
	}
	require.NoError(t, flattenValues(oc, values))

	assert.NotContains(t, values, "location")
	assert.Equal(t, Real(1.5), values["location_latitude"])
	assert.Equal(t, Real(-2), values["location_longitude"])
	assert.Equal(t, Text("site"), values["name"])
}

func TestFlattenValues_MissingMemberStoresNull(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns(surveyTable, surveyColumns())
	require.NoError(t, err)

	values := Values{"location": JSON(`{"latitude": 7}`)}
	require.NoError(t, flattenValues(oc, values))
	assert.Equal(t, Real(7), values["location_latitude"])
	v, ok := values["location_longitude"]
	require.True(t, ok)
	assert.True(t, v.IsNull())
}

func TestFlattenValues_NullParentIsSkipped(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns(surveyTable, surveyColumns())
	require.NoError(t, err)

	values := Values{"location": Null()}
	require.NoError(t, flattenValues(oc, values))
	assert.Empty(t, values)
}

func TestFlattenValues_Nested(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns("nested", []Column{
		{ElementKey: "outer", ElementName: "outer", ElementType: "group", ListChildElementKeys: []string{"outer_inner"}},
		{ElementKey: "outer_inner", ElementName: "inner", ElementType: "group", ListChildElementKeys: []string{"outer_inner_count", "outer_inner_label"}},
		{ElementKey: "outer_inner_count", ElementName: "count", ElementType: "integer"},
		{ElementKey: "outer_inner_label", ElementName: "label", ElementType: "string"},
	})
	require.NoError(t, err)

	values := Values{"outer": JSON(`{"inner": {"count": 7, "label": "x"}}`)}
	require.NoError(t, flattenValues(oc, values))
	assert.Equal(t, Values{
		"outer_inner_count": Int(7),
		"outer_inner_label": Text("x"),
	}, values)
}

func TestFlattenValues_RejectsMalformed(t *testing.T) {
	t.Parallel()

	oc, err := NewOrderedColumns(surveyTable, surveyColumns())
	require.NoError(t, err)

	assert.ErrorIs(t, flattenValues(oc, Values{"location": JSON(`{"latitude": `)}), ErrInvalidArgument)
	assert.ErrorIs(t, flattenValues(oc, Values{"location": JSON(`[1, 2]`)}), ErrInvalidArgument)
	assert.ErrorIs(t, flattenValues(oc, Values{"location": JSON(`{"latitude": "north"}`)}), ErrInvalidArgument)
}
