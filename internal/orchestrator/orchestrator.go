package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ralt/pipdeb/internal/backend"
	"github.com/ralt/pipdeb/internal/deb"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/repository"
	"github.com/ralt/pipdeb/internal/resolver"
	"github.com/sirupsen/logrus"
)

// Orchestrator drives the build of each conversion candidate through
// the configured backends, skipping work the package repository has
// already seen and checking the final artifact set for consistency.
type Orchestrator struct {
	config   *models.ConversionConfig
	repo     *repository.Repository
	backends []backend.Backend
}

// New creates an Orchestrator with an ordered backend fallback list.
func New(config *models.ConversionConfig, repo *repository.Repository, backends []backend.Backend) *Orchestrator {
	return &Orchestrator{
		config:   config,
		repo:     repo,
		backends: backends,
	}
}

// Convert builds every candidate in toBuild (or reuses an existing
// archive) and returns the artifact paths plus the dependency
// relationships the caller should declare on the primary candidates.
// A build failure aborts the whole batch: partial results are never
// returned.
func (o *Orchestrator) Convert(ctx context.Context, primary, toBuild []*resolver.Candidate) ([]string, []string, error) {
	if len(o.backends) == 0 {
		return nil, nil, &models.ConvertError{
			Type: models.ErrInvalidConfig,
			Err:  errors.New("no build backends configured"),
		}
	}

	if o.config.AutoInstall {
		if err := o.installBuildDependencies(ctx, toBuild); err != nil {
			return nil, nil, err
		}
	}

	var artifacts []string
	for _, candidate := range toBuild {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		artifact, err := o.convertOne(ctx, candidate)
		if err != nil {
			return nil, nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	if err := o.checkForDuplicateFiles(artifacts); err != nil {
		return nil, nil, err
	}

	relationships := make([]string, 0, len(primary))
	for _, candidate := range primary {
		relationships = append(relationships, fmt.Sprintf("%s (= %s)", candidate.DebianName(), candidate.DebianVersion()))
	}
	sort.Strings(relationships)

	return artifacts, relationships, nil
}

// convertOne converts a single candidate, consulting the repository
// first and falling back across backends on build failure. The
// candidate's source directory is released afterwards regardless of
// the outcome.
func (o *Orchestrator) convertOne(ctx context.Context, candidate *resolver.Candidate) (string, error) {
	defer o.releaseSources(candidate)

	// A previous run may have produced this archive already, as
	// either flavor of architecture.
	for _, architecture := range []string{"all", backend.HostArchitecture()} {
		existing, err := o.repo.Get(candidate.DebianName(), candidate.DebianVersion(), architecture)
		if err != nil {
			return "", &models.ConvertError{Type: models.ErrFileOp, Package: candidate.String(), Err: err}
		}
		if existing != "" {
			logrus.Infof("%s has been found in %s, skipping build", candidate.DebianName(), o.repo.Directory)
			return existing, nil
		}
	}

	if err := o.runBuildHook(ctx, candidate); err != nil {
		return "", err
	}

	logrus.Infof("Starting conversion of %s", candidate.SourceName)
	artifact, err := o.buildWithFallback(ctx, candidate)
	if err != nil {
		return "", err
	}

	registered, err := o.repo.Add(artifact)
	if err != nil {
		return "", &models.ConvertError{Type: models.ErrFileOp, Package: candidate.String(), Err: err}
	}
	logrus.Infof("%s has been converted to %s", candidate.SourceName, filepath.Base(registered))
	return registered, nil
}

// buildWithFallback tries each backend in order. Only the
// distinguished build-failure signal triggers a fallback; anything
// else is fatal immediately.
func (o *Orchestrator) buildWithFallback(ctx context.Context, candidate *resolver.Candidate) (string, error) {
	var lastErr error
	for i, builder := range o.backends {
		if i > 0 {
			logrus.Warnf("Retrying %s with the %s backend", candidate.SourceName, builder.Name())
		}
		buildCtx, cancel := ctx, func() {}
		if o.config.BuildTimeout > 0 {
			buildCtx, cancel = context.WithTimeout(ctx, o.config.BuildTimeout)
		}
		artifact, err := builder.Build(buildCtx, candidate)
		cancel()
		if err == nil {
			return artifact, nil
		}
		var buildErr *backend.BuildError
		if !errors.As(err, &buildErr) {
			return "", err
		}
		logrus.Warnf("The %s backend failed to build %s: %v", builder.Name(), candidate.SourceName, buildErr.Err)
		lastErr = err
	}
	return "", &models.ConvertError{
		Type:    models.ErrBuild,
		Package: candidate.String(),
		Err:     lastErr,
	}
}

// runBuildHook executes the configured per-package shell command in
// the candidate's source directory.
func (o *Orchestrator) runBuildHook(ctx context.Context, candidate *resolver.Candidate) error {
	hook := o.config.Options(candidate.SourceName).BuildHook
	if hook == "" {
		return nil
	}
	logrus.Infof("Applying build hook on %s in %s: %s", candidate.SourceName, candidate.SourceDir, hook)
	cmd := exec.CommandContext(ctx, "sh", "-c", hook)
	cmd.Dir = candidate.SourceDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return &models.ConvertError{
			Type:    models.ErrBuild,
			Package: candidate.String(),
			Err:     fmt.Errorf("build hook failed: %v: %s", err, strings.TrimSpace(string(output))),
		}
	}
	return nil
}

// installBuildDependencies installs all configured build dependencies
// in one apt-get invocation. The step mutates global host state, so
// it runs once up front rather than per candidate.
func (o *Orchestrator) installBuildDependencies(ctx context.Context, toBuild []*resolver.Candidate) error {
	seen := make(map[string]bool)
	var packages []string
	for _, candidate := range toBuild {
		for _, dependency := range o.config.Options(candidate.SourceName).BuildDepends {
			if !seen[dependency] {
				seen[dependency] = true
				packages = append(packages, dependency)
			}
		}
	}
	if len(packages) == 0 {
		return nil
	}
	sort.Strings(packages)

	logrus.Infof("Installing build dependencies: %s", strings.Join(packages, " "))
	args := append([]string{"install", "-y"}, packages...)
	cmd := exec.CommandContext(ctx, "apt-get", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return &models.ConvertError{
			Type: models.ErrBuild,
			Err:  fmt.Errorf("failed to install build dependencies: %v: %s", err, strings.TrimSpace(string(output))),
		}
	}
	return nil
}

// checkForDuplicateFiles verifies that no two artifacts in the
// conversion result claim ownership of the same installed path. A
// conflict means the result set can never be co-installed, so it is
// fatal rather than a warning.
func (o *Orchestrator) checkForDuplicateFiles(artifacts []string) error {
	owners := make(map[string]string)
	var conflicts []string
	for _, artifact := range artifacts {
		contents, err := deb.ListContents(artifact)
		if err != nil {
			return &models.ConvertError{
				Type:    models.ErrFileOp,
				Package: filepath.Base(artifact),
				Err:     err,
			}
		}
		name := filepath.Base(artifact)
		for _, path := range contents {
			if owner, taken := owners[path]; taken && owner != name {
				conflicts = append(conflicts, fmt.Sprintf("%s is owned by both %s and %s", path, owner, name))
				continue
			}
			owners[path] = name
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return &models.ConvertError{
			Type: models.ErrConsistency,
			Err:  fmt.Errorf("duplicate files found:\n%s", strings.Join(conflicts, "\n")),
		}
	}
	return nil
}

// releaseSources destroys the candidate's unpacked source directory
// unless the run keeps build directories for debugging.
func (o *Orchestrator) releaseSources(candidate *resolver.Candidate) {
	if o.config.RetainBuildDirs || candidate.SourceDir == "" {
		return
	}
	if err := os.RemoveAll(candidate.SourceDir); err != nil {
		logrus.Warnf("Failed to remove source directory %s: %v", candidate.SourceDir, err)
	}
	logrus.Debugf("Removed source directory: %s", candidate.SourceDir)
}
