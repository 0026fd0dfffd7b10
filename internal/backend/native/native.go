// Package native builds Debian packages without the Debian toolchain:
// the source distribution is installed into a staging root with pip
// and the archive is assembled directly.
package native

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ralt/pipdeb/internal/backend"
	"github.com/ralt/pipdeb/internal/deb"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/resolver"
	"github.com/sirupsen/logrus"
)

func init() {
	backend.Register("native", func(config *models.ConversionConfig) (backend.Backend, error) {
		return &Builder{python: "python3", installPrefix: config.InstallPrefix}, nil
	})
}

// Builder implements the native backend.
type Builder struct {
	python        string
	installPrefix string
}

// Name identifies the backend in configuration and logs.
func (b *Builder) Name() string {
	return "native"
}

// Build installs the candidate into a staging directory and assembles
// a .deb from the result.
func (b *Builder) Build(ctx context.Context, candidate *resolver.Candidate) (string, error) {
	logrus.Infof("Building %s with the native backend", candidate.DebianName())

	stagingDir, err := os.MkdirTemp("", "pipdeb-staging-")
	if err != nil {
		return "", &models.ConvertError{Type: models.ErrFileOp, Package: candidate.String(), Err: err}
	}
	defer os.RemoveAll(stagingDir)

	prefix := b.installPrefix
	if prefix == "" {
		prefix = "/usr"
	}
	installRoot := filepath.Join(stagingDir, strings.TrimPrefix(prefix, "/"))

	args := []string{
		"-m", "pip", "install",
		"--no-deps", "--ignore-installed",
		"--no-warn-script-location",
		"--prefix", installRoot,
		candidate.SourceDir,
	}
	cmd := exec.CommandContext(ctx, b.python, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	logrus.Debugf("Running pip install for %s: %v", candidate.SourceName, args)
	if err := cmd.Run(); err != nil {
		logrus.Debugf("pip install output for %s:\n%s", candidate.SourceName, output.String())
		return "", &backend.BuildError{
			Package: candidate.String(),
			Err:     fmt.Errorf("pip install failed: %v: %s", err, lastLine(output.String())),
		}
	}

	pkg, err := backend.ControlMetadata(candidate)
	if err != nil {
		return "", err
	}
	pkg.Architecture, err = detectArchitecture(stagingDir)
	if err != nil {
		return "", &models.ConvertError{Type: models.ErrFileOp, Package: candidate.String(), Err: err}
	}

	artifact := filepath.Join(os.TempDir(), fmt.Sprintf("%s_%s_%s.deb", pkg.Name, pkg.Version, pkg.Architecture))
	if err := deb.WriteArchive(artifact, pkg, stagingDir); err != nil {
		return "", &backend.BuildError{Package: candidate.String(), Err: err}
	}
	return artifact, nil
}

// detectArchitecture decides between an architecture-independent
// package and one tied to the host: compiled extension modules bind
// the package to the architecture they were built for.
func detectArchitecture(stagingDir string) (string, error) {
	hasSharedObjects := false
	err := filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".so") {
			hasSharedObjects = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if hasSharedObjects {
		return backend.HostArchitecture(), nil
	}
	return "all", nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return lines[len(lines)-1]
}
