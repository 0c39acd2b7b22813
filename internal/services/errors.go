package services

import (
	"fmt"
	"strings"

	"capora-backend/internal/models"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Validation error"
	}
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "Validation error: " + strings.Join(parts, "; ")
}

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

// InvalidStateError rejects an operation because of the item's current
// status, or because a concurrent caller already holds it.
type InvalidStateError struct {
	Message string
	Status  models.ContentStatus
}

func (e *InvalidStateError) Error() string { return e.Message }

type InvalidTransitionError struct {
	From models.ContentStatus
	To   models.ContentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// MissingVariantError names every requested platform without a succeeded variant.
type MissingVariantError struct {
	Platforms []models.Platform
}

func (e *MissingVariantError) Error() string {
	names := make([]string, len(e.Platforms))
	for i, p := range e.Platforms {
		names[i] = string(p)
	}
	return "no ready variant for: " + strings.Join(names, ", ")
}

// DispatchedError means posts already went out to platforms but the outcome
// could not be fully recorded. Running the publish again would post twice.
type DispatchedError struct{ Err error }

func (e *DispatchedError) Error() string { return "publish dispatched: " + e.Err.Error() }
func (e *DispatchedError) Unwrap() error { return e.Err }
