package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/fieldsync/db"
)

type rowResponse struct {
	RowID              string                 `json:"row_id"`
	RowETag            string                 `json:"row_etag,omitempty"`
	SyncState          string                 `json:"sync_state"`
	ConflictType       string                 `json:"conflict_type,omitempty"`
	Checkpoint         bool                   `json:"checkpoint"`
	FilterType         string                 `json:"filter_type,omitempty"`
	FilterValue        string                 `json:"filter_value,omitempty"`
	FormID             string                 `json:"form_id,omitempty"`
	Locale             string                 `json:"locale,omitempty"`
	SavepointType      string                 `json:"savepoint_type,omitempty"`
	SavepointTimestamp string                 `json:"savepoint_timestamp"`
	SavepointCreator   string                 `json:"savepoint_creator,omitempty"`
	Values             map[string]interface{} `json:"values"`
}

func (h *AdminHandlers) handleSyncState(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	rowID := chi.URLParam(r, "rowID")

	state, found, err := h.store.GetSyncState(r.Context(), table, rowID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !found {
		writeErrorResponse(w, http.StatusNotFound, "row '"+rowID+"' not found")
		return
	}
	writeJSONResponse(w, map[string]string{
		"table":      table,
		"row_id":     rowID,
		"sync_state": string(state),
	})
}

// handleRow returns every storage row of rowID: checkpoints, conflict sides
// and the saved revision, oldest first.
func (h *AdminHandlers) handleRow(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	rowID := chi.URLParam(r, "rowID")

	rows, err := h.store.GetRowsWithID(r.Context(), table, rowID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(rows) == 0 {
		writeErrorResponse(w, http.StatusNotFound, "row '"+rowID+"' not found")
		return
	}

	out := make([]rowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRowResponse(row))
	}
	writeJSONResponse(w, out)
}

func toRowResponse(row db.Row) rowResponse {
	resp := rowResponse{
		RowID:              row.RowID,
		RowETag:            row.RowETag,
		SyncState:          string(row.SyncState),
		Checkpoint:         row.IsCheckpoint(),
		FilterType:         row.FilterType,
		FilterValue:        row.FilterValue,
		FormID:             row.FormID,
		Locale:             row.Locale,
		SavepointType:      row.SavepointType,
		SavepointTimestamp: row.SavepointTimestamp,
		SavepointCreator:   row.SavepointCreator,
		Values:             make(map[string]interface{}, len(row.Values)),
	}
	if row.ConflictType != nil {
		resp.ConflictType = row.ConflictType.String()
	}
	for k, v := range row.Values {
		resp.Values[k] = jsonValue(v)
	}
	return resp
}

// jsonValue renders a cell with its natural JSON type. JSON cells are
// embedded as-is when they parse.
func jsonValue(v db.Value) interface{} {
	switch v.Kind() {
	case db.KindNull:
		return nil
	case db.KindInteger:
		n, _ := v.AsInt()
		return n
	case db.KindReal:
		f, _ := v.AsReal()
		return f
	case db.KindBool:
		b, _ := v.AsBool()
		return b
	case db.KindJSON:
		s, _ := v.AsText()
		if json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
		return s
	}
	s, _ := v.AsText()
	return s
}
