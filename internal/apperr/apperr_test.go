package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("draft 7: %w", ErrNotFound), "NOT_FOUND", http.StatusNotFound},
		{fmt.Errorf("open: %w", ErrTamper), "TAMPER", http.StatusBadRequest},
		{fmt.Errorf("program 3: %w", ErrPlanNotFound), "PLAN_NOT_FOUND", http.StatusUnprocessableEntity},
		{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
		{fmt.Errorf("finalize: %w", ErrConflict), "CONFLICT", http.StatusConflict},
		{fmt.Errorf("bad body: %w", ErrInvalid), "INVALID_INPUT", http.StatusBadRequest},
		{errors.New("disk on fire"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, Code(tt.err))
		assert.Equal(t, tt.status, HTTPStatus(tt.err))
	}
}

func TestMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", Message(errors.New("pq: relation missing")))
	assert.Equal(t, "registration not yet configured", Message(fmt.Errorf("skill 9: %w", ErrPlanNotFound)))
	assert.Equal(t, "payment link is invalid or expired", Message(ErrTamper))
}
