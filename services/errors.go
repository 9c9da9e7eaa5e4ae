package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDocumentNotFound is returned when a page has no document row.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnknownDatabase is returned for database ids absent from the
	// sync configuration.
	ErrUnknownDatabase = errors.New("database not registered in sync config")
)

// EmbedError wraps a failure from the embedding provider.
type EmbedError struct {
	Op  string
	Err error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("embedding %s failed: %v", e.Op, e.Err)
}

func (e *EmbedError) Unwrap() error {
	return e.Err
}

// LLMError wraps a failure from the chat completion provider.
type LLMError struct {
	Op  string
	Err error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s failed: %v", e.Op, e.Err)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}
