package rag

import (
	"errors"
	"fmt"
)

// Failure kinds. A *StageError matches its kind with errors.Is.
var (
	ErrRetrieval  = errors.New("retrieval failed")
	ErrGeneration = errors.New("generation failed")
	ErrCanceled   = errors.New("request canceled")
	ErrInternal   = errors.New("internal error")
	ErrEmptyQuery = errors.New("empty query")
)

// StageError records where and why a pipeline run failed.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// UserMessage is safe to show to the person who asked the question.
func (e *StageError) UserMessage() string {
	switch {
	case errors.Is(e.Kind, ErrEmptyQuery):
		return "Please enter a question."
	case errors.Is(e.Kind, ErrCanceled):
		return "The request was canceled before an answer was produced."
	case errors.Is(e.Kind, ErrRetrieval):
		return "An error occurred while searching the document collection. Please try again."
	case errors.Is(e.Kind, ErrGeneration) && e.Stage == StageRewriting:
		return "An error occurred while interpreting your question. Please try again."
	case errors.Is(e.Kind, ErrGeneration):
		return "An error occurred while generating the answer. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
