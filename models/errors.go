package models

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrStoreUnavailable  = errors.New("document store unavailable")
	ErrGenerationFailure = errors.New("generation failure")
	ErrPartialParse      = errors.New("structured output could not be parsed")
	ErrNotFound          = errors.New("not found")
)

// Error codes returned to API callers
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeEmbeddingFailure  = "EMBEDDING_FAILURE"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeGenerationFailure = "GENERATION_FAILURE"
	CodePartialParse      = "PARTIAL_PARSE"
	CodeCancelled         = "REQUEST_CANCELLED"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorCode maps an error to its stable API code
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrEmbeddingFailure):
		return CodeEmbeddingFailure
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrGenerationFailure):
		return CodeGenerationFailure
	case errors.Is(err, ErrPartialParse):
		return CodePartialParse
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
