package handlers

import (
	"net/http"

	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/services"
)

type saveDraftRequest struct {
	ProgramID  uint        `json:"program_id"`
	Kind       string      `json:"registration_kind"`
	Data       drafts.Data `json:"draft_data"`
	FamilySize *int        `json:"family_size,omitempty"`
	PlanID     *uint       `json:"plan_id,omitempty"`
}

type finalizeRequest struct {
	ID uint `json:"id"`
}

// GET /drafts
func ListDrafts(s *drafts.Store, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.List(r.Context(), identity.FromContext(r.Context()))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drafts": list})
	}
}

// POST /drafts
func SaveDraft(s *drafts.Store, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveDraftRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		id, err := s.Upsert(r.Context(), identity.FromContext(r.Context()), drafts.UpsertInput{
			ProgramID:  req.ProgramID,
			Kind:       req.Kind,
			Data:       req.Data,
			FamilySize: req.FamilySize,
			PlanID:     req.PlanID,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
	}
}

// PUT /drafts
func FinalizeDraft(c *services.Checkout, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req finalizeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		id, err := c.FinalizeDraft(r.Context(), identity.FromContext(r.Context()), req.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"registration_id": id})
	}
}

// DELETE /drafts?id=
func DeleteDraft(s *drafts.Store, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.URL.Query().Get("id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		if err := s.Delete(r.Context(), identity.FromContext(r.Context()), id); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
