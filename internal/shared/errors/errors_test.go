package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
		base   error
	}{
		{NotFound("equipment", "11-0010656"), http.StatusNotFound, ErrNotFound},
		{Unauthorized("no token"), http.StatusUnauthorized, ErrUnauthorized},
		{Forbidden("outside scope"), http.StatusForbidden, ErrForbidden},
		{BadRequest("bad"), http.StatusBadRequest, ErrBadRequest},
		{Validation("invalid", map[string]string{"role": "unknown"}), http.StatusBadRequest, ErrValidation},
		{Conflict("dup"), http.StatusConflict, ErrConflict},
		{TooLarge("photo too large"), http.StatusRequestEntityTooLarge, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.True(t, Is(tt.err, tt.base))
		})
	}
}

func TestWrapKeepsStatus(t *testing.T) {
	orig := NotFound("inspection", "abc")
	wrapped := Wrap(fmt.Errorf("loading: %w", orig), "approve")

	assert.Equal(t, http.StatusNotFound, wrapped.HTTPStatus)
	assert.Equal(t, "approve: inspection not found", wrapped.Message)
	assert.Equal(t, "inspection not found", orig.Message, "original must not change")

	plain := Wrap(stderrors.New("boom"), "query")
	assert.Equal(t, http.StatusInternalServerError, plain.HTTPStatus)
}

func TestAs(t *testing.T) {
	assert.Equal(t, "FORBIDDEN", As(Forbidden("x")).Code)
	assert.Equal(t, "INTERNAL_ERROR", As(stderrors.New("x")).Code)
}
