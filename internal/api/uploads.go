package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/refdesk/internal/csvio"
	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/ingest"
	"github.com/ruslano69/refdesk/internal/staging"
)

// maxUploadBytes bounds the multipart form kept in memory; the rest spills
// to disk.
const maxUploadBytes = 32 << 20

// uploadsHandler covers the staged-upload lifecycle under
// /api/datasets/{dataset}/uploads.
type uploadsHandler struct {
	registry *dataset.Registry
	ingest   *ingest.Service
}

// Create accepts a multipart CSV under the "file" field, stages it, and
// returns the session token.
func (h *uploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, `missing "file" part`)
		return
	}
	defer file.Close()

	// Spool to a temp file for parsing; staging takes ownership and removes
	// it, so only the error paths below clean up.
	tmp, err := os.CreateTemp("", "refdesk-upload-*.csv")
	if err != nil {
		log.Error().Err(err).Msg("create upload temp file")
		writeFailure(w, http.StatusInternalServerError, "upload failed")
		return
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		log.Error().Err(err).Msg("spool upload")
		writeFailure(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		os.Remove(tmp.Name())
		log.Error().Err(err).Msg("rewind upload temp file")
		writeFailure(w, http.StatusInternalServerError, "upload failed")
		return
	}

	token, total, err := h.ingest.Stage(r.Context(), ds, tmp, tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		switch {
		case errors.Is(err, csvio.ErrEmptyFile):
			writeFailure(w, http.StatusBadRequest, "file contains no data rows")
		case errors.Is(err, csvio.ErrMalformedFile):
			writeFailure(w, http.StatusBadRequest, "file is not a readable CSV")
		default:
			log.Error().Err(err).Str("dataset", ds.Name).Msg("stage upload")
			writeFailure(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"token":      token,
		"total_rows": total,
	})
}

type chunkRequest struct {
	Offset      int    `json:"offset"`
	OnDuplicate string `json:"on_duplicate"`
}

// Chunk consumes one slice of the staged upload starting at the given offset.
func (h *uploadsHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")

	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	policy, err := ingest.ParsePolicy(req.OnDuplicate)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "on_duplicate must be \"skip\" or \"update\"")
		return
	}

	prog, err := h.ingest.Advance(r.Context(), ds, token, req.Offset, policy)
	switch {
	case errors.Is(err, staging.ErrSessionExpired):
		writeFailure(w, http.StatusNotFound, "upload session expired or unknown")
		return
	case errors.Is(err, staging.ErrLockHeld):
		writeFailure(w, http.StatusConflict, "another chunk call is in progress for this upload")
		return
	case err != nil:
		log.Error().Err(err).Str("token", token).Msg("advance chunk")
		writeFailure(w, http.StatusInternalServerError, "chunk ingestion failed")
		return
	}

	writeSuccess(w, http.StatusOK, prog)
}

// Check reports how the staged rows would classify against the live table.
func (h *uploadsHandler) Check(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")

	rep, err := h.ingest.Check(r.Context(), ds, token)
	switch {
	case errors.Is(err, staging.ErrSessionExpired):
		writeFailure(w, http.StatusNotFound, "upload session expired or unknown")
		return
	case err != nil:
		log.Error().Err(err).Str("token", token).Msg("check upload")
		writeFailure(w, http.StatusInternalServerError, "duplicate check failed")
		return
	}

	writeSuccess(w, http.StatusOK, rep)
}

// Cancel drops the staged session. Cancelling twice is fine.
func (h *uploadsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(w, r, h.registry)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")

	if err := h.ingest.Cancel(r.Context(), ds, token); err != nil {
		log.Error().Err(err).Str("token", token).Msg("cancel upload")
		writeFailure(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
