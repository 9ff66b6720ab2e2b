package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	id       string
	resource string
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return &ErrResourceNotFound{id: id.String(), resource: "job"}
}

func NewErrDecisionNotFound(leadID string) *ErrResourceNotFound {
	return &ErrResourceNotFound{id: leadID, resource: "decision"}
}

func (e *ErrResourceNotFound) Error() string {
	return fmt.Sprintf("failed to find %s with id %s", e.resource, e.id)
}

type ErrInvalidJobRequest struct {
	reason string
}

func NewErrInvalidJobRequest(reason string) *ErrInvalidJobRequest {
	return &ErrInvalidJobRequest{reason: reason}
}

func (e *ErrInvalidJobRequest) Error() string {
	return fmt.Sprintf("invalid job request: %s", e.reason)
}

type ErrJobAlreadyFinalized struct {
	id     uuid.UUID
	status string
}

func NewErrJobAlreadyFinalized(id uuid.UUID, status string) *ErrJobAlreadyFinalized {
	return &ErrJobAlreadyFinalized{id: id, status: status}
}

func (e *ErrJobAlreadyFinalized) Error() string {
	return fmt.Sprintf("job %s is already %s", e.id, e.status)
}

type ErrDecisionAlreadyOverridden struct {
	id uuid.UUID
}

func NewErrDecisionAlreadyOverridden(id uuid.UUID) *ErrDecisionAlreadyOverridden {
	return &ErrDecisionAlreadyOverridden{id: id}
}

func (e *ErrDecisionAlreadyOverridden) Error() string {
	return fmt.Sprintf("decision %s has already been overridden", e.id)
}
