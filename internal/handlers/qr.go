package handlers

import (
	"net/http"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/services"
)

// ReviewQR encodes the review URL so a payer can continue on a phone.
// GET /payments/review/qr.png?token=
func ReviewQR(c *services.Checkout, baseURL string, log logger.Logger) http.HandlerFunc {
	base := strings.TrimRight(baseURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		if _, err := c.Review(r.Context(), tok); err != nil {
			writeError(w, log, err)
			return
		}
		origin := base
		if origin == "" {
			origin = "http://" + r.Host
		}
		png, err := qrcode.Encode(origin+services.ReviewPath(tok), qrcode.Medium, 256)
		if err != nil {
			http.Error(w, "failed to generate qr", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}
