package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/replication"
	"github.com/rs/zerolog/log"
)

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Replication.SnapshotInfo()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// download streams the raw database or WAL bytes.
func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	part, err := replication.ParsePart(chi.URLParam(r, "part"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc, size, err := h.deps.Replication.Open(part)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	// the WAL may grow while streaming; the checksum check on the standby
	// rejects a torn copy
	if _, err := io.CopyN(w, rc, size); err != nil && err != io.EOF {
		log.Warn().Err(err).Str("part", string(part)).Msg("replication download interrupted")
	}
}

func (h *handler) listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.deps.Replication.ListBackups()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if backups == nil {
		backups = []models.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (h *handler) createBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := h.deps.Replication.CreateBackup(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, backup)
}

func (h *handler) checkpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Replication.TriggerCheckpoint(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.deps.Replication.SnapshotInfo()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
