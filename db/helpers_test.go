package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maxpert/fieldsync/id"
	"github.com/maxpert/fieldsync/notify"
	"github.com/stretchr/testify/require"
)

const surveyTable = "survey"

var (
	alice     = Caller{User: "alice", Roles: NewRoleSet("ROLE_USER")}
	bob       = Caller{User: "bob", Roles: NewRoleSet("ROLE_USER")}
	anonymous = Caller{User: "anonymous"}
	admin     = AdminCaller("admin")
)

// recordingPurger remembers every purge request
type recordingPurger struct {
	mu     sync.Mutex
	rows   []string
	tables []string
	err    error
}

func (p *recordingPurger) PurgeRow(tableID, rowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, tableID+"/"+rowID)
	return p.err
}

func (p *recordingPurger) PurgeTable(tableID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = append(p.tables, tableID)
	return p.err
}

func (p *recordingPurger) purgedRows() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rows...)
}

func (p *recordingPurger) purgedTables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tables...)
}

// recordingNotifier remembers every published event
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.RowEvent
}

func (n *recordingNotifier) Publish(ev notify.RowEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) published() []notify.RowEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.RowEvent(nil), n.events...)
}

func (n *recordingNotifier) ops(rowID string) []notify.Op {
	var out []notify.Op
	for _, ev := range n.published() {
		if ev.RowID == rowID {
			out = append(out, ev.Op)
		}
	}
	return out
}

type testStore struct {
	*Store
	purger   *recordingPurger
	notifier *recordingNotifier
}

func openTestStore(t *testing.T, ids ...string) *testStore {
	t.Helper()
	purger := &recordingPurger{}
	notifier := &recordingNotifier{}
	s, err := Open(StoreConfig{
		Path:     filepath.Join(t.TempDir(), "fieldsync.db"),
		IDs:      id.NewSequenceGenerator(ids...),
		Purger:   purger,
		Notifier: notifier,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &testStore{Store: s, purger: purger, notifier: notifier}
}

// surveyColumns covers every storage shape: scalars, a rowpath, an array
// stored whole and a geopoint stored through its leaves.
func surveyColumns() []Column {
	return []Column{
		{ElementKey: "name", ElementName: "name", ElementType: "string"},
		{ElementKey: "age", ElementName: "age", ElementType: "integer"},
		{ElementKey: "score", ElementName: "score", ElementType: "number"},
		{ElementKey: "active", ElementName: "active", ElementType: "boolean"},
		{ElementKey: "photo", ElementName: "photo", ElementType: "rowpath"},
		{ElementKey: "tags", ElementName: "tags", ElementType: "array", ListChildElementKeys: []string{"tags_items"}},
		{ElementKey: "tags_items", ElementName: "items", ElementType: "string"},
		{ElementKey: "location", ElementName: "location", ElementType: "geopoint", ListChildElementKeys: []string{"location_latitude", "location_longitude"}},
		{ElementKey: "location_latitude", ElementName: "latitude", ElementType: "number"},
		{ElementKey: "location_longitude", ElementName: "longitude", ElementType: "number"},
	}
}

func (ts *testStore) createSurvey(t *testing.T) *OrderedColumns {
	t.Helper()
	oc, err := ts.CreateOrOpenTable(context.Background(), surveyTable, surveyColumns())
	require.NoError(t, err)
	return oc
}

func (ts *testStore) setSecurity(t *testing.T, key, typ, value string) {
	t.Helper()
	require.NoError(t, ts.ReplaceMetadata(context.Background(), KeyValueStoreEntry{
		TableID:   surveyTable,
		Partition: PartitionTable,
		Aspect:    AspectSecurity,
		Key:       key,
		Type:      typ,
		Value:     value,
	}))
}

// insertSynced inserts rowID and marks it synced under etag
func (ts *testStore) insertSynced(t *testing.T, rowID, etag string, values Values, caller Caller) {
	t.Helper()
	ctx := context.Background()
	_, err := ts.InsertRow(ctx, surveyTable, rowID, values, caller, "en")
	require.NoError(t, err)
	require.NoError(t, ts.PrivilegedUpdateRowETagAndSyncState(ctx, surveyTable, rowID, etag, SyncStateSynced))
}

// serverRow builds a complete privileged row as the sync driver would send it
func serverRow(ts *testStore, etag string, conflict ConflictType, filterType, filterValue string, user Values) Values {
	v := Values{
		ColRowETag:            Text(etag),
		ColSyncState:          Text(string(SyncStateInConflict)),
		ColConflictType:       Int(int64(conflict)),
		ColFilterType:         Text(filterType),
		ColFilterValue:        TextOrNull(filterValue),
		ColFormID:             Text("survey_form"),
		ColLocale:             Text("fr"),
		ColSavepointType:      Text(SavepointComplete),
		ColSavepointTimestamp: Text(ts.now()),
		ColSavepointCreator:   Text("server"),
		"name":                Null(),
		"age":                 Null(),
		"score":               Null(),
		"active":              Null(),
		"photo":               Null(),
		"tags":                Null(),
		"location_latitude":   Null(),
		"location_longitude":  Null(),
	}
	for k, val := range user {
		v[k] = val
	}
	return v
}

func countRows(t *testing.T, ts *testStore, rowID string) int {
	t.Helper()
	rows, err := ts.GetRowsWithID(context.Background(), surveyTable, rowID)
	require.NoError(t, err)
	return len(rows)
}
