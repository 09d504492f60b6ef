package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxpert/fieldsync/db"
	"github.com/rs/zerolog/log"
)

// Store is the read-only view of the local store the admin endpoints need
type Store interface {
	HasTable(ctx context.Context, tableID string) (bool, error)
	ListTables(ctx context.Context) ([]string, error)
	GetTableHealth(ctx context.Context, tableID string) (db.TableHealth, error)
	GetTableDefinition(ctx context.Context, tableID string) (db.TableDefinition, error)
	GetColumns(ctx context.Context, tableID string) (*db.OrderedColumns, error)
	GetMetadata(ctx context.Context, tableID string, partition, aspect, key *string) ([]db.KeyValueStoreEntry, error)
	GetSyncState(ctx context.Context, tableID, rowID string) (db.SyncState, bool, error)
	GetRowsWithID(ctx context.Context, tableID, rowID string) ([]db.Row, error)
}

// AdminHandlers serves inspection endpoints over a Store
type AdminHandlers struct {
	store Store
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(store Store) *AdminHandlers {
	return &AdminHandlers{store: store}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeStoreError maps store error categories onto HTTP statuses
func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrInvalidArgument), errors.Is(err, db.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, db.ErrInvalidStateTransition):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Admin request failed")
	}
	writeErrorResponse(w, status, err.Error())
}

// optionalQuery returns nil for an absent query parameter so it acts as a
// wildcard in metadata lookups.
func optionalQuery(r *http.Request, name string) *string {
	q := r.URL.Query()
	if !q.Has(name) {
		return nil
	}
	v := q.Get(name)
	return &v
}
