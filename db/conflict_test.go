package db

import (
	"context"
	"testing"

	"github.com/maxpert/fieldsync/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conflictedSurvey leaves r1 in conflict: alice changed the name locally
// while the server sent serverValues.
func conflictedSurvey(t *testing.T, serverConflict ConflictType, server Values) *testStore {
	t.Helper()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	ts.insertSynced(t, "r1", "etag-1", Values{"name": Text("a"), "age": Int(1)}, alice)
	require.NoError(t, ts.UpdateRow(ctx, surveyTable, "r1", Values{"name": Text("a2")}, alice, "en"))
	require.NoError(t, ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "r1",
		serverRow(ts, "etag-2", serverConflict, FilterModify, "carol", server),
		LocalUpdatedUpdatedValues, admin, "en"))
	return ts
}

func TestPlaceRowIntoConflict(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b")})
	ctx := context.Background()

	rows, err := ts.GetConflictingRows(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	local, server := rows[0], rows[1]
	assert.Equal(t, LocalUpdatedUpdatedValues, *local.ConflictType)
	assert.Equal(t, SyncStateInConflict, local.SyncState)
	assert.Equal(t, Text("a2"), local.Values["name"])
	assert.Equal(t, ServerUpdatedUpdatedValues, *server.ConflictType)
	assert.Equal(t, SyncStateInConflict, server.SyncState)
	assert.Equal(t, "etag-2", server.RowETag)
	assert.Equal(t, Text("b"), server.Values["name"])

	state, found, err := ts.GetSyncState(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, SyncStateInConflict, state)
	assert.Contains(t, ts.notifier.ops("r1"), notify.OpConflict)

	row, found, err := ts.GetMostRecentRow(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, LocalUpdatedUpdatedValues, *row.ConflictType)
	assert.Equal(t, Text("a2"), row.Values["name"])
}

func TestPlaceRowIntoConflict_ReplacesServerSide(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b")})
	ctx := context.Background()

	require.NoError(t, ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "r1",
		serverRow(ts, "etag-3", ServerUpdatedUpdatedValues, FilterDefault, "carol", Values{"name": Text("c")}),
		LocalUpdatedUpdatedValues, admin, "en"))

	rows, err := ts.GetConflictingRows(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "etag-3", rows[1].RowETag)
	assert.Equal(t, Text("c"), rows[1].Values["name"])
}

func TestPlaceRowIntoConflict_RejectsBadConflictTypes(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()
	ts.insertSynced(t, "r1", "etag-1", Values{"name": Text("a")}, alice)

	err := ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "r1",
		serverRow(ts, "etag-2", ServerUpdatedUpdatedValues, FilterDefault, "alice", nil),
		ServerDeletedOldValues, admin, "en")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "r1",
		serverRow(ts, "etag-2", LocalUpdatedUpdatedValues, FilterDefault, "alice", nil),
		LocalUpdatedUpdatedValues, admin, "en")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, 1, countRows(t, ts, "r1"))
}

func TestResolveConflictTakeServer(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b")})
	ctx := context.Background()

	require.NoError(t, ts.ResolveConflictTakeServer(ctx, surveyTable, "r1", "alice", "en"))

	rows, err := ts.GetRowsWithID(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Nil(t, row.ConflictType)
	assert.Equal(t, SyncStateSynced, row.SyncState)
	assert.Equal(t, "etag-2", row.RowETag)
	assert.Equal(t, Text("b"), row.Values["name"])
	assert.True(t, row.Values["age"].IsNull())
	assert.Equal(t, FilterModify, row.FilterType)
	assert.Equal(t, "carol", row.FilterValue)
	assert.Equal(t, "fr", row.Locale)
	assert.Equal(t, "survey_form", row.FormID)
	assert.Equal(t, "server", row.SavepointCreator)

	ops := ts.notifier.ops("r1")
	assert.Equal(t, notify.OpResolve, ops[len(ops)-1])
}

func TestResolveConflictTakeServer_PendingFiles(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b"), "photo": Text("r1/photo.jpg")})
	ctx := context.Background()

	require.NoError(t, ts.ResolveConflictTakeServer(ctx, surveyTable, "r1", "alice", "en"))

	state, found, err := ts.GetSyncState(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, SyncStateSyncedPendingFiles, state)
}

func TestResolveConflictTakeServer_ServerDeleted(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerDeletedOldValues, nil)
	ctx := context.Background()

	require.NoError(t, ts.ResolveConflictTakeServer(ctx, surveyTable, "r1", "alice", "en"))

	assert.Equal(t, 0, countRows(t, ts, "r1"))
	assert.Equal(t, []string{"survey/r1"}, ts.purger.purgedRows())
}

func TestResolveConflictTakeLocal(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b")})
	ctx := context.Background()

	rows, err := ts.GetConflictingRows(ctx, surveyTable, "r1")
	require.NoError(t, err)
	serverTimestamp := rows[1].SavepointTimestamp

	require.NoError(t, ts.ResolveConflictTakeLocal(ctx, surveyTable, "r1", alice, "en"))

	rows, err = ts.GetRowsWithID(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Nil(t, row.ConflictType)
	assert.Equal(t, SyncStateChanged, row.SyncState)
	assert.Equal(t, "etag-2", row.RowETag)
	assert.Equal(t, Text("a2"), row.Values["name"])
	assert.Equal(t, Int(1), row.Values["age"])
	assert.Equal(t, FilterModify, row.FilterType)
	assert.Equal(t, "carol", row.FilterValue)
	assert.Equal(t, serverTimestamp, row.SavepointTimestamp)
	assert.Equal(t, "server", row.SavepointCreator)
}

func TestResolveConflictTakeLocal_LocalDeleted(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	ts.insertSynced(t, "r1", "etag-1", Values{"name": Text("a")}, alice)
	require.NoError(t, ts.DeleteRow(ctx, surveyTable, "r1", alice))
	require.NoError(t, ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "r1",
		serverRow(ts, "etag-2", ServerUpdatedUpdatedValues, FilterDefault, "alice", Values{"name": Text("b")}),
		LocalDeletedOldValues, admin, "en"))

	require.NoError(t, ts.ResolveConflictTakeLocal(ctx, surveyTable, "r1", alice, "en"))

	rows, err := ts.GetRowsWithID(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, SyncStateDeleted, rows[0].SyncState)
	assert.Equal(t, "etag-2", rows[0].RowETag)
	assert.Equal(t, Text("b"), rows[0].Values["name"])
	assert.Nil(t, rows[0].ConflictType)
}

func TestResolveConflictTakeLocalPlusDeltas(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b"), "age": Int(9)})
	ctx := context.Background()

	rows, err := ts.GetConflictingRows(ctx, surveyTable, "r1")
	require.NoError(t, err)
	localTimestamp := rows[0].SavepointTimestamp

	err = ts.ResolveConflictTakeLocalPlusDeltas(ctx, surveyTable, "r1", Values{ColSyncState: Text("synced")}, alice, "en")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Len(t, mustConflictingRows(t, ts, "r1"), 2)

	require.NoError(t, ts.ResolveConflictTakeLocalPlusDeltas(ctx, surveyTable, "r1", Values{"age": Int(9)}, alice, "en"))

	rows, err = ts.GetRowsWithID(ctx, surveyTable, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, SyncStateChanged, row.SyncState)
	assert.Equal(t, "etag-2", row.RowETag)
	assert.Equal(t, Text("a2"), row.Values["name"])
	assert.Equal(t, Int(9), row.Values["age"])
	assert.Equal(t, "carol", row.FilterValue)
	assert.Equal(t, localTimestamp, row.SavepointTimestamp)
	assert.Equal(t, "alice", row.SavepointCreator)
}

func TestResolveConflictTakeLocalPlusDeltas_LocalDeletedIsRefused(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()

	ts.insertSynced(t, "r1", "etag-1", Values{"name": Text("a")}, alice)
	require.NoError(t, ts.DeleteRow(ctx, surveyTable, "r1", alice))
	require.NoError(t, ts.PrivilegedPlaceRowIntoConflict(ctx, surveyTable, "r1",
		serverRow(ts, "etag-2", ServerUpdatedUpdatedValues, FilterDefault, "alice", Values{"name": Text("b")}),
		LocalDeletedOldValues, admin, "en"))

	err := ts.ResolveConflictTakeLocalPlusDeltas(ctx, surveyTable, "r1", Values{"name": Text("b")}, alice, "en")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Len(t, mustConflictingRows(t, ts, "r1"), 2)
}

func TestResolveConflictDelete(t *testing.T) {
	t.Parallel()
	ts := conflictedSurvey(t, ServerUpdatedUpdatedValues, Values{"name": Text("b")})
	ctx := context.Background()

	require.NoError(t, ts.ResolveConflictDelete(ctx, surveyTable, "r1", alice))

	assert.Equal(t, 0, countRows(t, ts, "r1"))
	assert.Equal(t, []string{"survey/r1"}, ts.purger.purgedRows())
	ops := ts.notifier.ops("r1")
	assert.Equal(t, notify.OpResolve, ops[len(ops)-1])
}

func TestResolveConflict_RequiresConflictPair(t *testing.T) {
	t.Parallel()
	ts := openTestStore(t)
	ts.createSurvey(t)
	ctx := context.Background()
	ts.insertSynced(t, "r1", "etag-1", Values{"name": Text("a")}, alice)

	assert.ErrorIs(t, ts.ResolveConflictTakeServer(ctx, surveyTable, "r1", "alice", "en"), ErrIntegrityViolation)
	assert.ErrorIs(t, ts.ResolveConflictTakeLocal(ctx, surveyTable, "r1", alice, "en"), ErrIntegrityViolation)
	assert.ErrorIs(t, ts.ResolveConflictDelete(ctx, surveyTable, "r1", alice), ErrIntegrityViolation)
	assert.Equal(t, 1, countRows(t, ts, "r1"))
}

func mustConflictingRows(t *testing.T, ts *testStore, rowID string) []Row {
	t.Helper()
	rows, err := ts.GetConflictingRows(context.Background(), surveyTable, rowID)
	require.NoError(t, err)
	return rows
}
