package handlers

import (
	"context"
	"net/http"

	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/reconcile"
)

// POST /admin/intents/{id}/paid
func AdminMarkPaid(l *ledger.Ledger, log logger.Logger) http.HandlerFunc {
	return transition(l.MarkPaid, l, log)
}

// POST /admin/intents/{id}/refunded
func AdminMarkRefunded(l *ledger.Ledger, log logger.Logger) http.HandlerFunc {
	return transition(l.MarkRefunded, l, log)
}

func transition(apply func(context.Context, uint) error, l *ledger.Ledger, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "id")
		if err != nil {
			writeError(w, log, err)
			return
		}
		if err := apply(r.Context(), id); err != nil {
			writeError(w, log, err)
			return
		}
		in, err := l.Get(r.Context(), id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		log.Info("intent status changed", map[string]interface{}{"intent_id": id, "status": in.Status})
		writeJSON(w, http.StatusOK, in)
	}
}

// GET /admin/registrants
func AdminRegistrants(rep *reconcile.Reporter, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := rep.Report(r.Context())
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
