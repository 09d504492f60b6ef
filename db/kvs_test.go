package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(partition, aspect, key, typ, value string) KeyValueStoreEntry {
	return KeyValueStoreEntry{
		TableID:   surveyTable,
		Partition: partition,
		Aspect:    aspect,
		Key:       key,
		Type:      typ,
		Value:     value,
	}
}

func TestReplaceMetadata_ForcesRestrictedType(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionColumn, "active", "displayVisible", "string", "true")))
	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "colOrder", "object", `["name","age"]`)))

	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "displayVisible", got[0].Key)
	assert.Equal(t, "bool", got[0].Type)
	assert.Equal(t, "colOrder", got[1].Key)
	assert.Equal(t, "array", got[1].Type)
}

func TestReplaceMetadata_ForcedTypeMustFitStructure(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	err := ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "colOrder", "string", "name,age"))
	require.ErrorIs(t, err, ErrValidation)

	err = ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "displayName", "string", `{"text":"Survey"`))
	require.ErrorIs(t, err, ErrValidation)

	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceMetadata_ObjectAcceptsPlainValues(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionColumn, "name", "displayName", "object", "Respondent name")))
	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "sortOrder", "string", "ASC")))
	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "displayName", "object", `"Survey"`)))

	err := ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "sortCol", "object", `["name"`))
	require.ErrorIs(t, err, ErrValidation)
	err = ts.ReplaceMetadata(ctx, entry(PartitionColumn, "age", "displayName", "object", `"Age`))
	require.ErrorIs(t, err, ErrValidation)

	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	values := make(map[string]string, len(got))
	for _, e := range got {
		assert.Equal(t, "object", e.Type)
		values[e.Partition+"/"+e.Key] = e.Value
	}
	assert.Equal(t, "Respondent name", values[PartitionColumn+"/displayName"])
	assert.Equal(t, "ASC", values[PartitionTable+"/sortOrder"])
}

func TestReplaceMetadata_RejectsMalformedEntries(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ctx := context.Background()

	bad := []KeyValueStoreEntry{
		entry("", AspectDefault, "k", "string", "v"),
		entry(PartitionTable, " ", "k", "string", "v"),
		entry(PartitionTable, AspectDefault, "", "string", "v"),
		entry(PartitionTable, AspectDefault, "k", "", "v"),
	}
	for _, e := range bad {
		assert.ErrorIs(t, ts.ReplaceMetadata(ctx, e), ErrInvalidArgument, "%+v", e)
	}

	mismatch := entry(PartitionTable, AspectDefault, "k", "string", "v")
	err := ts.ReplaceMetadataList(ctx, "other", []KeyValueStoreEntry{mismatch}, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReplaceMetadata_BlankValueDeletes(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "defaultViewType", "string", "MAP")))
	require.NoError(t, ts.ReplaceMetadata(ctx, entry(PartitionTable, AspectDefault, "defaultViewType", "", "  ")))

	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceMetadataList_Clear(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ctx := context.Background()

	first := []KeyValueStoreEntry{
		entry(PartitionTable, AspectDefault, "a", "string", "1"),
		entry(PartitionTable, AspectDefault, "b", "string", "2"),
	}
	require.NoError(t, ts.ReplaceMetadataList(ctx, surveyTable, first, false))

	second := []KeyValueStoreEntry{entry(PartitionTable, AspectDefault, "c", "string", "3")}
	require.NoError(t, ts.ReplaceMetadataList(ctx, surveyTable, second, false))
	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.NoError(t, ts.ReplaceMetadataList(ctx, surveyTable, second, true))
	got, err = ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Key)
}

func TestReplaceMetadataSubList(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, ts.ReplaceMetadataList(ctx, surveyTable, []KeyValueStoreEntry{
		entry(PartitionColumn, "name", "displayFormat", "string", "upper"),
		entry(PartitionColumn, "age", "displayFormat", "string", "number"),
		entry(PartitionTable, AspectDefault, "indexCol", "string", "name"),
	}, false))

	partition, aspect := PartitionColumn, "name"
	require.NoError(t, ts.ReplaceMetadataSubList(ctx, surveyTable, &partition, &aspect, []KeyValueStoreEntry{
		entry(PartitionColumn, "name", "displayChoicesList", "string", "abc"),
	}))

	got, err := ts.GetMetadata(ctx, surveyTable, &partition, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "age", got[0].Aspect)
	assert.Equal(t, "displayChoicesList", got[1].Key)

	err = ts.ReplaceMetadataSubList(ctx, surveyTable, &partition, &aspect, []KeyValueStoreEntry{
		entry(PartitionColumn, "age", "displayFormat", "string", "x"),
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// the failed call rolled back its scope delete
	got, err = ts.GetMetadata(ctx, surveyTable, &partition, &aspect, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteMetadata_Filters(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, ts.ReplaceMetadataList(ctx, surveyTable, []KeyValueStoreEntry{
		entry(PartitionColumn, "name", "displayFormat", "string", "upper"),
		entry(PartitionColumn, "age", "displayFormat", "string", "number"),
	}, false))

	partition, key := PartitionColumn, "displayFormat"
	aspect := "age"
	require.NoError(t, ts.DeleteMetadata(ctx, surveyTable, &partition, &aspect, &key))

	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, &key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "name", got[0].Aspect)
}

func TestEnforceMetadataTypes(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, ts.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, table := range []string{surveyTable, "other"} {
			_, err := ts.execRaw(ctx,
				`INSERT INTO _key_value_store_active (_table_id, _partition, _aspect, _key, _type, _value) VALUES (?, ?, ?, ?, ?, ?)`,
				table, PartitionTable, AspectDefault, "groupByCols", "string", `["name"]`)
			if err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, ts.EnforceMetadataTypes(ctx, surveyTable))

	got, err := ts.GetMetadata(ctx, surveyTable, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "array", got[0].Type)

	other, err := ts.GetMetadata(ctx, "other", nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "string", other[0].Type)
}
