package model

import "errors"

// Model-level construction/validation errors.
var (
	ErrMissingField     = errors.New("model: required field missing")
	ErrUnknownVariant   = errors.New("model: unknown encoded variant")
	ErrInstructionRef   = errors.New("model: task has neither inline instruction nor link")
	ErrProgressRegress  = errors.New("model: workflow progress may not shrink")
	ErrStatusRegress    = errors.New("model: workflow status may not regress")
)
