package batch

import (
	"context"
	"encoding/json"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// Operation is the capability set a domain service exposes to the
// pipeline. Each domain package provides an adapter satisfying it;
// selection happens at wiring time, never by input inspection.
type Operation interface {
	// Name labels the run ("eligibility", "claims", "priorauth").
	Name() string
	// Validate checks one input row without side effects.
	Validate(input json.RawMessage) error
	// NaturalKey derives the deduplication key for a valid row.
	NaturalKey(input json.RawMessage) (string, error)
	// Dispatch runs the domain call for one row. A BusinessRejection is an
	// expected terminal outcome, not an error.
	Dispatch(ctx context.Context, input json.RawMessage) (json.RawMessage, *nphies.BusinessRejection, error)
}
