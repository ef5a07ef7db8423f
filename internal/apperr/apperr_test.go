package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"validation", Validation("bad input"), CodeValidation},
		{"not found", NotFound("missing"), CodeNotFound},
		{"wrapped in fmt", fmt.Errorf("outer: %w", Conflict("taken")), CodeConflict},
		{"plain error", errors.New("boom"), CodeInternal},
		{"nil-ish internal", Internal(errors.New("db down")), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
			assert.True(t, Is(tt.err, tt.want))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotAuthorized("nope"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{Capacity("full"), http.StatusConflict},
		{Conflict("dup"), http.StatusConflict},
		{InvalidPhase("wrong phase"), http.StatusConflict},
		{Internal(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "for %v", tt.err)
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "room is full", PublicMessage(Capacity("room is full")))

	// Internal causes must never leak to clients.
	internal := Internal(errors.New("pq: connection refused"))
	assert.Equal(t, "internal error", PublicMessage(internal))
	assert.Equal(t, "internal error", PublicMessage(errors.New("raw")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("row locked")
	err := Wrap(CodeConflict, cause, "could not transfer host")

	require.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.Contains(t, err.Error(), "could not transfer host")
	assert.Contains(t, err.Error(), "row locked")
}
