// Package server provides the HTTP REST API for the ux-auditor.
package server

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrNotFound indicates an unknown job or report
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized indicates a missing or invalid widget key
type ErrUnauthorized struct {
	Reason string
}

func (e *ErrUnauthorized) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// ErrForbiddenOrigin indicates a widget request from an origin the key does not allow
type ErrForbiddenOrigin struct {
	Origin string
}

func (e *ErrForbiddenOrigin) Error() string {
	if e.Origin == "" {
		return "origin header is required"
	}
	return fmt.Sprintf("origin not allowed: %s", e.Origin)
}

// ErrNotReady indicates a report that is not completed yet
type ErrNotReady struct {
	ID     string
	Status string
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("report %s is not ready (status %s)", e.ID, e.Status)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		notFound   *ErrNotFound
		unauth     *ErrUnauthorized
		origin     *ErrForbiddenOrigin
		notReady   *ErrNotReady
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unauth):
		return http.StatusUnauthorized
	case errors.As(err, &origin):
		return http.StatusForbidden
	case errors.As(err, &notReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
