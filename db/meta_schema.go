package db

// Admin columns present on every data table
const (
	ColID                 = "_id"
	ColRowETag            = "_row_etag"
	ColSyncState          = "_sync_state"
	ColConflictType       = "_conflict_type"
	ColFilterType         = "_filter_type"
	ColFilterValue        = "_filter_value"
	ColFormID             = "_form_id"
	ColLocale             = "_locale"
	ColSavepointType      = "_savepoint_type"
	ColSavepointTimestamp = "_savepoint_timestamp"
	ColSavepointCreator   = "_savepoint_creator"
)

// AdminColumns lists the admin columns in table definition order
var AdminColumns = []string{
	ColID,
	ColRowETag,
	ColSyncState,
	ColConflictType,
	ColFilterType,
	ColFilterValue,
	ColFormID,
	ColLocale,
	ColSavepointType,
	ColSavepointTimestamp,
	ColSavepointCreator,
}

var adminColumnSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(AdminColumns))
	for _, c := range AdminColumns {
		m[c] = struct{}{}
	}
	return m
}()

// IsAdminColumn reports whether name is one of the reserved admin columns
func IsAdminColumn(name string) bool {
	_, ok := adminColumnSet[name]
	return ok
}

// Savepoint types. A NULL savepoint type marks a checkpoint.
const (
	SavepointComplete   = "COMPLETE"
	SavepointIncomplete = "INCOMPLETE"
)

// Filter types controlling row visibility and modification rights
const (
	FilterDefault  = "DEFAULT"
	FilterModify   = "MODIFY"
	FilterReadOnly = "READ_ONLY"
	FilterHidden   = "HIDDEN"
)

// DefaultRowETag is the row etag of a row the server has never seen.
// It is stored as NULL, so the Go value is the empty string.
const DefaultRowETag = ""

// System tables
const (
	TableDefinitions       = "_table_definitions"
	TableColumnDefinitions = "_column_definitions"
	TableKeyValueStore     = "_key_value_store_active"
	TableChoiceList        = "_choice_list"
	TableSyncETags         = "_sync_etags"
)

// System table columns
const (
	colTableID              = "_table_id"
	colSchemaETag           = "_schema_etag"
	colLastDataETag         = "_last_data_etag"
	colLastSyncTime         = "_last_sync_time"
	colRevisionID           = "_revision_id"
	colElementKey           = "_element_key"
	colElementName          = "_element_name"
	colElementType          = "_element_type"
	colListChildElementKeys = "_list_child_element_keys"
	colPartition            = "_partition"
	colAspect               = "_aspect"
	colKey                  = "_key"
	colType                 = "_type"
	colValue                = "_value"
	colChoiceListID         = "_choice_list_id"
	colChoiceListJSON       = "_choice_list_json"
	colSyncETagID           = "_id"
	colIsManifest           = "_is_manifest"
	colURL                  = "_url"
	colLastModified         = "_last_modified"
	colETag                 = "_etag"
)

// neverSynced is the last sync time of a freshly created table
const neverSynced = "-1"

var systemSchema = []string{
	`CREATE TABLE IF NOT EXISTS _table_definitions (
		_table_id TEXT NOT NULL PRIMARY KEY,
		_revision_id TEXT NULL,
		_schema_etag TEXT NULL,
		_last_data_etag TEXT NULL,
		_last_sync_time TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS _column_definitions (
		_table_id TEXT NOT NULL,
		_element_key TEXT NOT NULL,
		_element_name TEXT NOT NULL,
		_element_type TEXT NOT NULL,
		_list_child_element_keys TEXT NULL,
		PRIMARY KEY (_table_id, _element_key)
	)`,
	`CREATE TABLE IF NOT EXISTS _key_value_store_active (
		_table_id TEXT NOT NULL,
		_partition TEXT NOT NULL,
		_aspect TEXT NOT NULL,
		_key TEXT NOT NULL,
		_type TEXT NULL,
		_value TEXT NOT NULL,
		PRIMARY KEY (_table_id, _partition, _aspect, _key)
	)`,
	`CREATE TABLE IF NOT EXISTS _choice_list (
		_choice_list_id TEXT NOT NULL PRIMARY KEY,
		_choice_list_json TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS _sync_etags (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		_table_id TEXT NULL,
		_is_manifest INTEGER NOT NULL,
		_url TEXT NOT NULL,
		_last_modified TEXT NOT NULL,
		_etag TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS _sync_etags_url_idx ON _sync_etags (_url, _is_manifest)`,
}

// adminColumnDDL is the admin column block of every data table
const adminColumnDDL = `_id TEXT NOT NULL,
	_row_etag TEXT NULL,
	_sync_state TEXT NOT NULL,
	_conflict_type INTEGER NULL,
	_filter_type TEXT NULL,
	_filter_value TEXT NULL,
	_form_id TEXT NULL,
	_locale TEXT NULL,
	_savepoint_type TEXT NULL,
	_savepoint_timestamp TEXT NOT NULL,
	_savepoint_creator TEXT NULL`
