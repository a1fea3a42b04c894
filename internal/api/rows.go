package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/refdesk/internal/csvio"
	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/events"
	"github.com/ruslano69/refdesk/internal/ingest"
	"github.com/ruslano69/refdesk/internal/store"
)

// rowsHandler covers listing, lookups, edits, and exports under
// /api/datasets/{dataset}.
type rowsHandler struct {
	registry *dataset.Registry
	db       *store.DB
	ingest   *ingest.Service
}

type listResponse struct {
	Columns []string `json:"columns"`
	store.Page
}

// filterFrom builds the query filter: ?code= is an exact natural-key match,
// otherwise the dataset's hierarchy column names double as query params.
func filterFrom(ds dataset.Dataset, q url.Values) store.Filter {
	f := store.Filter{Code: q.Get("code")}
	for _, col := range ds.Hierarchy {
		if v := q.Get(col); v != "" {
			if f.Hierarchy == nil {
				f.Hierarchy = make(map[string]string, len(ds.Hierarchy))
			}
			f.Hierarchy[col] = v
		}
	}
	return f
}

// List returns one page of rows with the pagination the table UI renders.
func (h *rowsHandler) List(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		page = n
	}

	p, err := h.db.List(r.Context(), ds, filterFrom(ds, r.URL.Query()), page)
	if err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Msg("list rows")
		writeFailure(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeSuccess(w, http.StatusOK, listResponse{Columns: ds.Columns, Page: p})
}

// Distinct returns the sorted unique values of one column, optionally
// narrowed by hierarchy params (e.g. districts within a state).
func (h *rowsHandler) Distinct(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	column := chi.URLParam(r, "column")
	if !ds.HasColumn(column) {
		writeFailure(w, http.StatusBadRequest, "unknown column: "+column)
		return
	}

	values, err := h.db.Distinct(r.Context(), ds, column, filterFrom(ds, r.URL.Query()))
	if err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Str("column", column).Msg("distinct values")
		writeFailure(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeSuccess(w, http.StatusOK, map[string][]string{"values": values})
}

// Update overwrites the given columns of one row.
func (h *rowsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	id, ok := rowID(w, r)
	if !ok {
		return
	}

	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if len(fields) == 0 {
		writeFailure(w, http.StatusBadRequest, "no fields to update")
		return
	}
	for col := range fields {
		if !ds.HasColumn(col) {
			writeFailure(w, http.StatusBadRequest, "unknown column: "+col)
			return
		}
	}

	err := h.db.UpdateRow(r.Context(), ds, id, fields)
	switch {
	case errors.Is(err, store.ErrRowNotFound):
		writeFailure(w, http.StatusNotFound, "row not found")
		return
	case err != nil:
		log.Error().Err(err).Str("dataset", ds.Name).Int64("id", id).Msg("update row")
		writeFailure(w, http.StatusInternalServerError, "update failed")
		return
	}

	h.ingest.PublishRowEvent(r.Context(), events.Event{
		Type:    events.TypeRowUpdated,
		Dataset: ds.Name,
		RowID:   id,
	})
	writeSuccess(w, http.StatusOK, map[string]int64{"id": id})
}

// Delete removes one row by id.
func (h *rowsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	id, ok := rowID(w, r)
	if !ok {
		return
	}

	err := h.db.DeleteRow(r.Context(), ds, id)
	switch {
	case errors.Is(err, store.ErrRowNotFound):
		writeFailure(w, http.StatusNotFound, "row not found")
		return
	case err != nil:
		log.Error().Err(err).Str("dataset", ds.Name).Int64("id", id).Msg("delete row")
		writeFailure(w, http.StatusInternalServerError, "delete failed")
		return
	}

	h.ingest.PublishRowEvent(r.Context(), events.Event{
		Type:    events.TypeRowDeleted,
		Dataset: ds.Name,
		RowID:   id,
	})
	writeSuccess(w, http.StatusOK, map[string]int64{"id": id})
}

// DeleteAll truncates the dataset's table. It refuses to run without the
// explicit ?confirm=all guard.
func (h *rowsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	if r.URL.Query().Get("confirm") != "all" {
		writeFailure(w, http.StatusBadRequest, "bulk delete requires confirm=all")
		return
	}

	count, err := h.db.DeleteAll(r.Context(), ds)
	if err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Msg("delete all rows")
		writeFailure(w, http.StatusInternalServerError, "bulk delete failed")
		return
	}

	h.ingest.PublishRowEvent(r.Context(), events.Event{
		Type:    events.TypeTableTruncated,
		Dataset: ds.Name,
		Rows:    int(count),
	})
	writeSuccess(w, http.StatusOK, map[string]int64{"deleted": count})
}

// ExportCSV streams the whole table in upload column order, so the output
// re-imports cleanly.
func (h *rowsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}

	rows, err := h.db.AllRows(r.Context(), ds)
	if err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Msg("export csv")
		writeFailure(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ds.Name+`.csv"`)
	if err := csvio.WriteCSV(w, ds, rows); err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Msg("write csv export")
	}
}

// ExportXLSX renders the whole table as an Excel workbook.
func (h *rowsHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}

	rows, err := h.db.AllRows(r.Context(), ds)
	if err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Msg("export xlsx")
		writeFailure(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ds.Name+`.xlsx"`)
	if err := csvio.WriteXLSX(w, ds, rows); err != nil {
		log.Error().Err(err).Str("dataset", ds.Name).Msg("write xlsx export")
	}
}

func rowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "row id must be an integer")
		return 0, false
	}
	return id, true
}
