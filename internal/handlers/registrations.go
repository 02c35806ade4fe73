package handlers

import (
	"net/http"

	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/models"
	"github.com/lojf/academy/internal/services"
	"github.com/lojf/academy/internal/wizard"
)

// GET /programs/{id}/schema?plan=individual|family
func ProgramSchema(s *formschema.Store, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			writeError(w, log, err)
			return
		}
		plan := r.URL.Query().Get("plan")
		if plan == "" {
			plan = models.PlanIndividual
		}
		sch, err := s.Get(r.Context(), id, plan)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"program_id": id,
			"plan_type":  plan,
			"schema":     sch,
			"pages":      sch.Pages(),
		})
	}
}

type completeRequest struct {
	ProgramID  uint        `json:"program_id"`
	Kind       string      `json:"registration_kind"`
	PlanType   string      `json:"plan_type"`
	PlanID     *uint       `json:"plan_id,omitempty"`
	FamilySize int         `json:"family_size"`
	Data       drafts.Data `json:"draft_data"`
}

// POST /registrations/complete
func CompleteRegistration(c *services.Checkout, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		res, err := c.Complete(r.Context(), identity.FromContext(r.Context()), wizard.CompleteRequest{
			ProgramID:  req.ProgramID,
			Kind:       req.Kind,
			PlanType:   req.PlanType,
			PlanID:     req.PlanID,
			FamilySize: req.FamilySize,
			Data:       req.Data,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
