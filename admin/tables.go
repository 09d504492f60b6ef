package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/glob"
)

type columnResponse struct {
	ElementKey           string   `json:"element_key"`
	ElementName          string   `json:"element_name"`
	ElementType          string   `json:"element_type"`
	DataType             string   `json:"data_type"`
	ListChildElementKeys []string `json:"list_child_element_keys"`
	Retained             bool     `json:"retained"`
}

type definitionResponse struct {
	TableID      string           `json:"table_id"`
	RevisionID   string           `json:"revision_id,omitempty"`
	SchemaETag   string           `json:"schema_etag,omitempty"`
	LastDataETag string           `json:"last_data_etag,omitempty"`
	LastSyncTime string           `json:"last_sync_time"`
	NeverSynced  bool             `json:"never_synced"`
	Columns      []columnResponse `json:"columns"`
}

type metadataResponse struct {
	Partition string `json:"partition"`
	Aspect    string `json:"aspect"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// handleListTables lists table ids, optionally filtered by ?match=<glob>
func (h *AdminHandlers) handleListTables(w http.ResponseWriter, r *http.Request) {
	var matcher glob.Glob
	if pattern := r.URL.Query().Get("match"); pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid match pattern: "+err.Error())
			return
		}
		matcher = g
	}

	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if matcher == nil || matcher.Match(t) {
			out = append(out, t)
		}
	}
	writeJSONResponse(w, out)
}

func (h *AdminHandlers) handleTableHealth(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	health, err := h.store.GetTableHealth(r.Context(), table)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"table":           table,
		"health":          int(health),
		"has_checkpoints": health.HasCheckpoints(),
		"has_conflicts":   health.HasConflicts(),
	})
}

func (h *AdminHandlers) handleTableDefinition(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	def, err := h.store.GetTableDefinition(r.Context(), table)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	oc, err := h.store.GetColumns(r.Context(), table)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := definitionResponse{
		TableID:      def.TableID,
		RevisionID:   def.RevisionID,
		SchemaETag:   def.SchemaETag,
		LastDataETag: def.LastDataETag,
		LastSyncTime: def.LastSyncTime,
		NeverSynced:  def.NeverSynced(),
		Columns:      make([]columnResponse, 0, len(oc.Definitions())),
	}
	for _, c := range oc.Definitions() {
		children := c.ListChildElementKeys
		if children == nil {
			children = []string{}
		}
		resp.Columns = append(resp.Columns, columnResponse{
			ElementKey:           c.ElementKey,
			ElementName:          c.ElementName,
			ElementType:          c.ElementType,
			DataType:             string(c.Type.DataType),
			ListChildElementKeys: children,
			Retained:             c.IsUnitOfRetention(),
		})
	}
	writeJSONResponse(w, resp)
}

// handleMetadata returns properties of the table; absent partition, aspect
// or key parameters match everything.
func (h *AdminHandlers) handleMetadata(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	entries, err := h.store.GetMetadata(r.Context(), table,
		optionalQuery(r, "partition"), optionalQuery(r, "aspect"), optionalQuery(r, "key"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]metadataResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, metadataResponse{
			Partition: e.Partition,
			Aspect:    e.Aspect,
			Key:       e.Key,
			Type:      e.Type,
			Value:     e.Value,
		})
	}
	writeJSONResponse(w, out)
}
