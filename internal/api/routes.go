package api

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions/refresh", h.RefreshDirectory)
	r.Post("/sessions/{id}/select", h.SelectSession)
	r.Delete("/sessions/active", h.DeleteActive)
	r.Get("/messages", h.ListMessages)
	r.Post("/messages", h.SendMessage)
	r.Post("/attachments", h.SendAttachment)
}
