package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/services"
)

type createIntentRequest struct {
	Kind         string                 `json:"kind"`
	EntityID     uint                   `json:"entity_id"`
	PlanType     string                 `json:"plan_type"`
	Participants int                    `json:"participants"`
	Amount       int64                  `json:"amount"`
	Currency     string                 `json:"currency"`
	Form         map[string]interface{} `json:"form"`
}

// POST /payments/intents
func CreateIntent(c *services.Checkout, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createIntentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		in, reused, err := c.CreateIntent(r.Context(), identity.FromContext(r.Context()), ledger.CreateInput{
			Kind:         req.Kind,
			EntityID:     req.EntityID,
			PlanType:     req.PlanType,
			Form:         req.Form,
			Participants: req.Participants,
			Amount:       req.Amount,
			Currency:     req.Currency,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		status := http.StatusCreated
		if reused {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{
			"id":       in.ID,
			"amount":   in.Amount,
			"currency": in.Currency,
			"reused":   reused,
		})
	}
}

// POST /payments/summary
func PaymentSummary(c *services.Checkout, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseForm(); err != nil {
			writeError(w, log, apperr.ErrInvalid)
			return
		}
		id, err := parseID(r.FormValue("intent_id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		tok, err := c.Summary(r.Context(), identity.FromContext(r.Context()), id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		http.Redirect(w, r, services.ReviewPath(tok), http.StatusSeeOther)
	}
}

// renderError shows a payment page failure with the right status.
func renderError(w http.ResponseWriter, r *http.Request, t *template.Template, log logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.Code(err)
	if services.IsGatewayError(err) {
		status, code = http.StatusBadGateway, "GATEWAY_ERROR"
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("payment page failed", map[string]interface{}{"path": r.URL.Path})
	}
	msg := errText[flashKey(code)]
	if msg == "" {
		msg = "Something went wrong. Please try again later."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = t.ExecuteTemplate(w, "error.tmpl", map[string]any{
		"Title": "Payment",
		"Flash": &Flash{Kind: "error", Text: msg},
	})
}

// GET /payments/review?token=
func PaymentReview(c *services.Checkout, t *template.Template, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		rv, err := c.Review(r.Context(), tok)
		if err != nil {
			renderError(w, r, t, log, err)
			return
		}
		data := map[string]any{
			"Title":  "Review payment",
			"Flash":  MakeFlash(r, "", ""),
			"Review": rv,
			"Amount": formatAmount(rv.Amount),
			"QRPath": "/payments/review/qr.png?token=" + url.QueryEscape(tok),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := t.ExecuteTemplate(w, "review.tmpl", data); err != nil {
			log.WithError(err).Error("render review", nil)
		}
	}
}

// POST /payments/initiate
func PaymentInitiate(c *services.Checkout, t *template.Template, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseForm(); err != nil {
			renderError(w, r, t, log, apperr.ErrInvalid)
			return
		}
		in, err := initiateInput(r)
		if err != nil {
			renderError(w, r, t, log, err)
			return
		}
		link, err := c.Initiate(r.Context(), in)
		if err != nil {
			if tok := r.FormValue("token"); tok != "" && retryable(err) {
				key := "gateway_unavailable"
				if errors.Is(err, services.ErrEmailRequired) {
					key = "email_required"
				}
				http.Redirect(w, r, services.ReviewPath(tok)+"&error="+key, http.StatusSeeOther)
				return
			}
			renderError(w, r, t, log, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := t.ExecuteTemplate(w, "redirect.tmpl", map[string]any{"Title": "Redirecting", "Link": link}); err != nil {
			log.WithError(err).Error("render redirect", nil)
		}
	}
}

// retryable failures send the payer back to the review page.
func retryable(err error) bool {
	return services.IsGatewayError(err) || errors.Is(err, services.ErrEmailRequired)
}

func initiateInput(r *http.Request) (services.InitiateInput, error) {
	id, err := parseID(r.FormValue("intent_id"))
	if err != nil {
		return services.InitiateInput{}, err
	}
	in := services.InitiateInput{
		IntentID:    id,
		Kind:        strings.TrimSpace(r.FormValue("kind")),
		PlanType:    strings.TrimSpace(r.FormValue("plan_type")),
		Name:        r.FormValue("name"),
		Email:       r.FormValue("email"),
		Description: r.FormValue("description"),
	}
	if v := r.FormValue("entity_id"); v != "" {
		eid, err := parseID(v)
		if err != nil {
			return in, err
		}
		in.EntityID = eid
	}
	if v := r.FormValue("participant_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return in, apperr.ErrInvalid
		}
		in.ParticipantCount = n
	}
	return in, nil
}

// formatAmount renders whole currency units with thousands separators.
func formatAmount(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// GET /payments/complete is where the gateway returns the payer.
// Status changes arrive separately through the admin transition endpoints.
func PaymentReturn(t *template.Template, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		data := map[string]any{
			"Title": "Payment",
			"TxRef": q.Get("tx_ref"),
		}
		if q.Get("status") == "cancelled" {
			data["Flash"] = &Flash{Kind: "error", Text: "The payment was cancelled."}
		} else {
			data["Flash"] = MakeFlash(r, "", okText["paid"])
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := t.ExecuteTemplate(w, "done.tmpl", data); err != nil {
			log.WithError(err).Error("render done", nil)
		}
	}
}
