package acquire

import (
	"context"
	"fmt"

	"github.com/ralt/pipdeb/internal/models"
)

// Acquirer downloads and unpacks the source distributions for a set
// of requirement expressions, including all transitive dependencies.
type Acquirer interface {
	// FetchAndUnpack resolves the requirement expressions into a flat
	// collection of requirements, each unpacked into its own source
	// directory and tagged with whether it was directly requested.
	FetchAndUnpack(ctx context.Context, expressions []string) ([]models.Requirement, error)
}

// NotFoundError is the retryable signal raised when a distribution
// cannot be located yet. It is distinguished from fatal acquisition
// failures so the retry loop knows to try again.
type NotFoundError struct {
	Expression string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no distribution found for %s", e.Expression)
}
