package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
)

// ListItemsHandler handles GET /api/items
// Query params: type, number, prefix, contributor, maintainer, driver,
// allVersions
func ListItemsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := Filter{
			ItemType:    q.Get("type"),
			Number:      q.Get("number"),
			Prefix:      q.Get("prefix"),
			Contributor: q.Get("contributor"),
			Maintainer:  q.Get("maintainer"),
			Driver:      q.Get("driver"),
			AllVersions: q.Get("allVersions") == "true",
		}

		rows, err := store.Query(filter)
		if err != nil {
			// A malformed driver filter is the caller's fault; anything
			// else is the database's.
			status := http.StatusInternalServerError
			if errors.Is(err, kimerr.ErrInvalidIdentifier) {
				status = http.StatusBadRequest
			}
			writeError(w, status, fmt.Sprintf("failed to list items: %v", err))
			return
		}

		items := make([]itemResponse, len(rows))
		for i := range rows {
			items[i] = rowToResponse(&rows[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":     items,
			"totalSize": len(items),
		})
	}
}

// GetItemHandler handles GET /api/items/{kimcode}
func GetItemHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "kimcode")
		if !kimcode.IsExtendedKIMID(code) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%q is not an extended kimcode", code))
			return
		}

		row, err := store.FindByKimcode(code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get item: %v", err))
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("item %q not found", code))
			return
		}
		writeJSON(w, http.StatusOK, rowToResponse(row))
	}
}

// GetLineageHandler handles GET /api/lineages/{number}
func GetLineageHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := chi.URLParam(r, "number")
		rows, err := store.FindLineage(number)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get lineage: %v", err))
			return
		}
		if len(rows) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("lineage %q not found", number))
			return
		}
		versions := make([]itemResponse, len(rows))
		for i := range rows {
			versions[i] = rowToResponse(&rows[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"number":   number,
			"versions": versions,
		})
	}
}

// HealthHandler handles GET /healthcheck
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// itemResponse is the API shape for one item version.
type itemResponse struct {
	ExtendedID  string          `json:"extendedId"`
	ShortID     string          `json:"shortId"`
	ItemType    string          `json:"itemType"`
	Number      string          `json:"number"`
	Version     int             `json:"version"`
	Latest      bool            `json:"latest"`
	Title       string          `json:"title,omitempty"`
	Contributor string          `json:"contributor,omitempty"`
	Maintainer  string          `json:"maintainer,omitempty"`
	ModelDriver string          `json:"modelDriver,omitempty"`
	Metadata    json.RawMessage `json:"metadata"`
}

func rowToResponse(row *ItemRow) itemResponse {
	return itemResponse{
		ExtendedID:  row.ExtendedID,
		ShortID:     row.ShortID,
		ItemType:    row.ItemType,
		Number:      row.Number,
		Version:     row.Version,
		Latest:      row.Latest,
		Title:       row.Title,
		Contributor: row.Contributor,
		Maintainer:  row.Maintainer,
		ModelDriver: row.ModelDriver,
		Metadata:    json.RawMessage(row.SpecJSON),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
