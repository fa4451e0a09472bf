package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "inputs", Message: "is required"}
	assert.Equal(t, "validation error: inputs - is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Equal(t, "validation error: bad json", (&ErrValidation{Message: "bad json"}).Error())
}

func TestErrNotFound(t *testing.T) {
	err := &ErrNotFound{Resource: "job", ID: "abc"}
	assert.Equal(t, "job not found: abc", err.Error())
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestErrUnauthorized(t *testing.T) {
	assert.Equal(t, "unauthorized", (&ErrUnauthorized{}).Error())
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(&ErrUnauthorized{Reason: "expired"}))
}

func TestErrForbiddenOrigin(t *testing.T) {
	err := &ErrForbiddenOrigin{Origin: "https://evil.example"}
	assert.Equal(t, "origin not allowed: https://evil.example", err.Error())
	assert.Equal(t, http.StatusForbidden, HTTPStatus(err))
}

func TestHTTPStatus_Wrapped(t *testing.T) {
	err := fmt.Errorf("load: %w", &ErrNotFound{Resource: "report", ID: "x"})
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	assert.Equal(t, http.StatusConflict, HTTPStatus(&ErrNotReady{ID: "x", Status: "processing"}))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("boom")))
}
