// Package uuid provides ID generation for staged records, runs and requests.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// Generator creates time-ordered UUID v7 identifiers.
type Generator struct{}

var _ ingest.IDGenerator = Generator{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string for a staged record.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRunID returns a UUID v7 for an ingestion run. Falls back to v4 if the
// v7 generator fails.
func (Generator) NewRunID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

// NewRequestID returns a random UUID string for HTTP request correlation.
func (Generator) NewRequestID() string {
	return uuid.NewString()
}
