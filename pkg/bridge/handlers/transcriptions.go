package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hearsay-ai/callwire/pkg/bridge/store"
)

// TranscriptionHandler serves the stored transcript of a finished call.
type TranscriptionHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

func (h TranscriptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.PathValue("id"))
	if callID == "" {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "missing call id")
		return
	}

	t, err := h.Store.GetTranscriptionByCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, r, http.StatusNotFound, errTypeNotFound, "no transcription for call")
		return
	}
	if err != nil {
		h.Logger.Error("load transcription", "call_id", callID, "error", err)
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to load transcription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"call_id":    t.CallID,
		"content":    t.Content,
		"created_at": t.CreatedAt,
	})
}
