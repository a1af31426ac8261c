package incidents

import "errors"

// Service errors.
var (
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrCommentNotFound   = errors.New("comment not found")
	ErrRelatedNotFound   = errors.New("related entity not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("concurrent modification, please retry")
	ErrInvalidID         = errors.New("invalid identifier")

	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrInvalidSeverity      = errors.New("invalid severity")
	ErrInvalidVisibility    = errors.New("invalid comment visibility")
	ErrInvalidPersonRole    = errors.New("invalid person role")
	ErrInvalidSort          = errors.New("invalid sort parameter")
	ErrOccurredInFuture     = errors.New("occurredAt cannot be in the future")
	ErrDescriptionLength    = errors.New("description must be between 5 and 2000 characters")
	ErrReasonTooLong        = errors.New("reason cannot exceed 500 characters")
	ErrCommentBodyLength    = errors.New("comment body must be between 1 and 5000 characters")
	ErrParentCommentInvalid = errors.New("parent comment does not belong to this incident")
)
