package service

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrValidation rejects admission input before anything is written.
type ErrValidation struct {
	error
}

func NewErrValidation(err error) *ErrValidation {
	return &ErrValidation{fmt.Errorf("invalid job request: %w", err)}
}

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

type ErrJobAccessForbidden struct {
	error
}

func NewErrJobAccessForbidden(id uuid.UUID, userID string) *ErrJobAccessForbidden {
	return &ErrJobAccessForbidden{fmt.Errorf("user %s is not allowed to access job %s", userID, id)}
}

type ErrJobAlreadyTerminal struct {
	error
}

func NewErrJobAlreadyTerminal(id uuid.UUID, status string) *ErrJobAlreadyTerminal {
	return &ErrJobAlreadyTerminal{fmt.Errorf("job %s is already %s", id, status)}
}
