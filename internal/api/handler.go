package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dinsac/support-chat/internal/chat"
)

// Handler exposes the coordinator's operations to the operator's browser
// client. Gateway failures surface here as error responses; they never
// abort the coordinator.
type Handler struct {
	coord *chat.Coordinator
}

func NewHandler(coord *chat.Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.coord.Sessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) RefreshDirectory(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RefreshDirectory(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SelectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	if err := h.coord.Select(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	active, messages, err := h.coord.Displayed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation{ActiveSessionID: active, Messages: messages})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	active, messages, err := h.coord.Displayed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation{ActiveSessionID: active, Messages: messages})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if payload.Body == "" {
		http.Error(w, "missing body", http.StatusBadRequest)
		return
	}
	if err := h.coord.Send(r.Context(), payload.Body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) SendAttachment(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := h.coord.SendAttachment(r.Context(), header.Filename, file); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) DeleteActive(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteActive(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conversation struct {
	ActiveSessionID string         `json:"activeSessionId"`
	Messages        []chat.Message `json:"messages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, chat.ErrNoActiveSession) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
