package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSyncState_MissingRow(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)

	_, found, err := ts.GetSyncState(context.Background(), surveyTable, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPrivilegedUpdateRowETagAndSyncState(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	err := ts.PrivilegedUpdateRowETagAndSyncState(ctx, surveyTable, "nope", "e", SyncStateSynced)
	assert.ErrorIs(t, err, ErrIntegrityViolation)

	_, err = ts.InsertRow(ctx, surveyTable, "r1", Values{"name": Text("a")}, alice, "en")
	require.NoError(t, err)
	err = ts.PrivilegedUpdateRowETagAndSyncState(ctx, surveyTable, "r1", "e", SyncState("bogus"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, ts.PrivilegedUpdateRowETagAndSyncState(ctx, surveyTable, "r1", "e", SyncStateSyncedPendingFiles))
	row, _, err := ts.GetMostRecentRow(ctx, surveyTable, "r1")
	require.NoError(t, err)
	assert.Equal(t, "e", row.RowETag)
	assert.Equal(t, SyncStateSyncedPendingFiles, row.SyncState)

	_, err = ts.InsertCheckpoint(ctx, surveyTable, "r1", Values{"name": Text("b")}, alice, "en")
	require.NoError(t, err)
	err = ts.PrivilegedUpdateRowETagAndSyncState(ctx, surveyTable, "r1", "f", SyncStateSynced)
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestChangeDataRowsToNewRowState(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	ts.insertSynced(t, "synced", "e1", Values{"name": Text("a")}, alice)

	ts.insertSynced(t, "changed", "e1", Values{"name": Text("a")}, alice)
	require.NoError(t, ts.UpdateRow(ctx, surveyTable, "changed", Values{"name": Text("b")}, alice, "en"))

	ts.insertSynced(t, "updated", "e1", Values{"name": Text("a")}, alice)
	require.NoError(t, ts.UpdateRow(ctx, surveyTable, "updated", Values{"name": Text("b")}, alice, "en"))
	require.NoError(t, ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "updated",
		serverRow(ts, "e2", ServerUpdatedUpdatedValues, FilterDefault, "alice", nil),
		LocalUpdatedUpdatedValues, admin, "en"))

	ts.insertSynced(t, "deleted", "e1", Values{"name": Text("a")}, alice)
	require.NoError(t, ts.DeleteRow(ctx, surveyTable, "deleted", alice))
	require.NoError(t, ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "deleted",
		serverRow(ts, "e2", ServerUpdatedUpdatedValues, FilterDefault, "alice", nil),
		LocalDeletedOldValues, admin, "en"))

	_, err := ts.InsertRow(ctx, surveyTable, "fresh", Values{"name": Text("a")}, alice, "en")
	require.NoError(t, err)

	require.NoError(t, ts.ChangeDataRowsToNewRowState(ctx, surveyTable))

	want := map[string]SyncState{
		"synced":  SyncStateNewRow,
		"changed": SyncStateChanged,
		"updated": SyncStateChanged,
		"deleted": SyncStateDeleted,
		"fresh":   SyncStateNewRow,
	}
	for rowID, state := range want {
		rows, err := ts.GetRowsWithID(ctx, surveyTable, rowID)
		require.NoError(t, err)
		require.Len(t, rows, 1, rowID)
		assert.Equal(t, state, rows[0].SyncState, rowID)
		assert.Nil(t, rows[0].ConflictType, rowID)
	}
}

func TestServerTableSchemaETagChanged(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	ts.insertSynced(t, "r1", "e1", Values{"name": Text("a")}, alice)
	schema, data := "schema-1", "data-1"
	require.NoError(t, ts.PrivilegedUpdateTableETags(ctx, surveyTable, &schema, &data))
	require.NoError(t, ts.UpdateSyncETag(ctx, SyncETag{TableID: surveyTable, URL: "https://srv/app/tables/survey/r1/photo.jpg", ETag: "f1"}))
	require.NoError(t, ts.UpdateSyncETag(ctx, SyncETag{TableID: surveyTable, URL: "https://other/app/tables/survey/r1/photo.jpg", ETag: "f2"}))

	require.NoError(t, ts.ServerTableSchemaETagChanged(ctx, surveyTable, "schema-2", "https://srv/"))

	def, err := ts.GetTableDefinition(ctx, surveyTable)
	require.NoError(t, err)
	assert.Equal(t, "schema-2", def.SchemaETag)
	assert.Empty(t, def.LastDataETag)

	state, _, err := ts.GetSyncState(ctx, surveyTable, "r1")
	require.NoError(t, err)
	assert.Equal(t, SyncStateNewRow, state)

	_, found, err := ts.GetSyncETag(ctx, surveyTable, "https://srv/app/tables/survey/r1/photo.jpg", false)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = ts.GetSyncETag(ctx, surveyTable, "https://other/app/tables/survey/r1/photo.jpg", false)
	require.NoError(t, err)
	assert.True(t, found)
}
