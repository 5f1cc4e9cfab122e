// Package uuid generates check IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

var _ allotment.IDGenerator = (*Generator)(nil)

// Generator issues UUIDv7 check IDs. Their text form sorts in creation order, which keeps
// the checks table's primary key index append-only.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns the next check ID.
func (*Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new check id: %w", err)
	}
	return id.String(), nil
}
