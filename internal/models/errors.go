package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDocument means extraction produced no text at all.
	ErrEmptyDocument = errors.New("document appears to be empty (no text extracted)")
	// ErrNoContextFound is not a failure: no summaries and no chunks were available for a question.
	ErrNoContextFound = errors.New("no context found")
	// ErrQuestionNotProcessed is the user-facing error for a failed query embedding.
	ErrQuestionNotProcessed = errors.New("failed to process your question")

	ErrDocumentNotFound  = errors.New("document not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid document status transition")
	ErrInvalidChunk      = errors.New("invalid chunk")
	ErrUnsupportedFile   = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrDocumentNotReady  = errors.New("document is not ready yet")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ExtractionError wraps the parser error for a byte stream that could not be read at all.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError wraps any failure reported by the embedding provider.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding generation failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// RetrievalError wraps a similarity index failure at one threshold tier.
type RetrievalError struct {
	Threshold float64
	Err       error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("similarity search at threshold %.2f failed: %v", e.Threshold, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
