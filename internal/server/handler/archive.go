package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// ArchiveHandler exposes the flushed-snapshot archive for replay tooling.
// Registered only when archival is configured.
type ArchiveHandler struct {
	reader domain.BlobReader
	prefix string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler rooted at the archive prefix.
func NewArchiveHandler(reader domain.BlobReader, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		reader: reader,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With(slog.String("handler", "archive")),
	}
}

// List enumerates archived snapshot objects, optionally narrowed by a date
// path like 2026/08/30.
// GET /api/v1/archives?date=YYYY/MM/DD
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := h.prefix + "/"
	if date := r.URL.Query().Get("date"); date != "" {
		if strings.Contains(date, "..") {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		prefix += strings.Trim(date, "/") + "/"
	}

	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.Error("archive list failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"objects": infos,
	})
}

// Get streams one archived snapshot back as newline-delimited JSON.
// GET /api/v1/archives/{path...}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	if !strings.HasPrefix(path, h.prefix+"/") {
		path = h.prefix + "/" + path
	}

	rc, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.Error("archive read failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
