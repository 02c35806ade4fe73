package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/services"
)

const maxBody = 1 << 20

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error envelope. Internal errors are logged, never echoed.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	if services.IsGatewayError(err) {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "payment provider unavailable", Code: "GATEWAY_ERROR"})
		return
	}
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.WithError(err).Error("request failed", nil)
	}
	body := errorBody{Error: apperr.Message(err), Code: apperr.Code(err)}
	var ve *formschema.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", apperr.ErrInvalid)
		}
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	return nil
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: bad id %q", apperr.ErrInvalid, s)
	}
	return uint(n), nil
}

func urlID(r *http.Request, name string) (uint, error) {
	return parseID(chi.URLParam(r, name))
}
