// Package token provides job token generation helpers.
package token

import (
	"fmt"

	"github.com/google/uuid"
)

// Length is the number of characters in a job token.
const Length = 8

// Generator creates short random job tokens.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns an 8 character token derived from a UUIDv4.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return id.String()[:Length], nil
}
