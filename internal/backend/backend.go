package backend

import (
	"context"
	"fmt"

	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/resolver"
	"github.com/sirupsen/logrus"
)

// Backend builds one conversion candidate into a Debian package
// archive and returns the archive's path. A failed build raises a
// *BuildError so the orchestrator can fall back to the next backend;
// any other error is treated as fatal.
type Backend interface {
	Name() string
	Build(ctx context.Context, candidate *resolver.Candidate) (string, error)
}

// BuildError is the distinguished build-failure signal.
type BuildError struct {
	Package string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build %s: %v", e.Package, e.Err)
}

// Unwrap returns the wrapped error
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Factory creates a backend instance for a conversion run.
type Factory func(config *models.ConversionConfig) (Backend, error)

var factories = make(map[string]Factory)

// Register registers a backend factory under a name.
func Register(name string, factory Factory) {
	if _, exists := factories[name]; exists {
		logrus.Warnf("Backend name collision: %s", name)
		return
	}
	factories[name] = factory
}

// New instantiates the named backend.
func New(name string, config *models.ConversionConfig) (Backend, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("no backend with name %q exists", name)
	}
	return factory(config)
}
