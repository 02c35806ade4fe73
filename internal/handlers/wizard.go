package handlers

import (
	"net/http"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/wizard"
)

// Wizard exposes server-held wizard sessions under /programs/{id}/wizard.
type Wizard struct {
	reg *wizard.Registry
	log logger.Logger
}

func NewWizard(reg *wizard.Registry, log logger.Logger) *Wizard {
	return &Wizard{reg: reg, log: log}
}

type choosePlanRequest struct {
	PlanType   string `json:"plan_type"`
	FamilySize int    `json:"family_size"`
	PlanID     uint   `json:"plan_id"`
}

type resumeRequest struct {
	Kind string `json:"registration_kind"`
}

type answersRequest struct {
	Answers map[string]interface{} `json:"answers"`
}

func (h *Wizard) session(w http.ResponseWriter, r *http.Request, create bool) (*wizard.Session, bool) {
	id, err := urlID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return nil, false
	}
	p := identity.FromContext(r.Context())
	if create {
		return h.reg.Open(p, id), true
	}
	s, ok := h.reg.Lookup(p, id)
	if !ok {
		writeError(w, h.log, apperr.ErrNotFound)
		return nil, false
	}
	return s, true
}

// GET /programs/{id}/wizard
func (h *Wizard) Show(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// POST /programs/{id}/wizard/plan
func (h *Wizard) ChoosePlan(w http.ResponseWriter, r *http.Request) {
	var req choosePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	s, ok := h.session(w, r, true)
	if !ok {
		return
	}
	if err := s.ChoosePlan(r.Context(), req.PlanType, req.FamilySize, req.PlanID); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// POST /programs/{id}/wizard/resume
func (h *Wizard) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	s, ok := h.session(w, r, true)
	if !ok {
		return
	}
	if err := s.Resume(r.Context(), req.Kind); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// PATCH /programs/{id}/wizard/answers
func (h *Wizard) Answer(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	s, ok := h.session(w, r, false)
	if !ok {
		return
	}
	for field, v := range req.Answers {
		if err := s.Edit(field, v); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.View())
}

// POST /programs/{id}/wizard/submit
func (h *Wizard) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r, false)
	if !ok {
		return
	}
	if _, err := s.Submit(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// POST /programs/{id}/wizard/pause
func (h *Wizard) Pause(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r, false)
	if !ok {
		return
	}
	if err := s.SaveAndPause(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// DELETE /programs/{id}/wizard flushes unsaved edits and ends the session.
func (h *Wizard) Close(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if !h.reg.Close(r.Context(), identity.FromContext(r.Context()), id) {
		writeError(w, h.log, apperr.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
