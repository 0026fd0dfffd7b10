// Package dpkg builds Debian packages with the standard Debian
// toolchain: a debian/ directory is generated next to the unpacked
// sources and dpkg-buildpackage does the rest.
package dpkg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/pipdeb/internal/backend"
	"github.com/ralt/pipdeb/internal/deb"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/resolver"
	"github.com/sirupsen/logrus"
)

func init() {
	backend.Register("dpkg", func(config *models.ConversionConfig) (backend.Backend, error) {
		return &Builder{}, nil
	})
}

// Builder implements the dpkg backend.
type Builder struct{}

// Name identifies the backend in configuration and logs.
func (b *Builder) Name() string {
	return "dpkg"
}

// Build debianizes the candidate's source directory and runs
// dpkg-buildpackage, returning the path of the produced archive.
func (b *Builder) Build(ctx context.Context, candidate *resolver.Candidate) (string, error) {
	logrus.Infof("Building %s with the dpkg backend", candidate.DebianName())

	pkg, err := backend.ControlMetadata(candidate)
	if err != nil {
		return "", err
	}
	pkg.Architecture, err = sourceArchitecture(candidate.SourceDir)
	if err != nil {
		return "", &models.ConvertError{Type: models.ErrFileOp, Package: candidate.String(), Err: err}
	}

	if err := b.debianize(candidate, pkg); err != nil {
		return "", &models.ConvertError{Type: models.ErrFileOp, Package: candidate.String(), Err: err}
	}

	cmd := exec.CommandContext(ctx, "dpkg-buildpackage", "-us", "-uc", "-b")
	cmd.Dir = candidate.SourceDir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		logrus.Debugf("dpkg-buildpackage output for %s:\n%s", candidate.SourceName, output.String())
		return "", &backend.BuildError{
			Package: candidate.String(),
			Err:     fmt.Errorf("dpkg-buildpackage failed: %v", err),
		}
	}

	// dpkg-buildpackage leaves the archive next to the source tree.
	pattern := filepath.Join(filepath.Dir(candidate.SourceDir), fmt.Sprintf("%s_*.deb", pkg.Name))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", &backend.BuildError{
			Package: candidate.String(),
			Err:     fmt.Errorf("could not find the archive produced for %s", pkg.Name),
		}
	}
	return matches[0], nil
}

// sourceArchitecture decides the control architecture before the
// build runs: a source tree carrying compiled-extension sources (or
// prebuilt shared objects) produces an architecture-dependent package,
// declared as "any" so dpkg-buildpackage substitutes the host
// architecture in the built archive. Pure-Python trees stay "all".
func sourceArchitecture(sourceDir string) (string, error) {
	compiled := false
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".c", ".cc", ".cpp", ".pyx", ".so":
			compiled = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if compiled {
		return "any", nil
	}
	return "all", nil
}

// debianize writes the debian/ boilerplate dpkg-buildpackage needs.
func (b *Builder) debianize(candidate *resolver.Candidate, pkg *models.Package) error {
	debianDir := filepath.Join(candidate.SourceDir, "debian")
	if err := os.MkdirAll(debianDir, 0755); err != nil {
		return err
	}

	source := fmt.Sprintf("Source: %s\nSection: python\nPriority: optional\nMaintainer: %s\nStandards-Version: 4.6.0\n",
		pkg.Name, pkg.Maintainer)
	control := source + "\n" + string(deb.FormatControl(pkg, 0))

	changelog := fmt.Sprintf("%s (%s) unstable; urgency=low\n\n  * Converted from the Python package %s.\n\n -- %s  %s\n",
		pkg.Name, pkg.Version, candidate.SourceName, pkg.Maintainer,
		time.Now().Format("Mon, 02 Jan 2006 15:04:05 -0700"))

	// dh_python2-style dependency guessing would fight the converted
	// Depends line, so the rules file disables it.
	rules := strings.Join([]string{
		"#!/usr/bin/make -f",
		"%:",
		"\tdh $@ --with python3 --buildsystem=pybuild",
		"",
		"override_dh_python3:",
		"\tdh_python3 --no-guessing-deps",
		"",
	}, "\n")

	files := map[string][]byte{
		"control":   []byte(control),
		"changelog": []byte(changelog),
		"rules":     []byte(rules),
		"compat":    []byte("13\n"),
	}
	for name, data := range files {
		mode := os.FileMode(0644)
		if name == "rules" {
			mode = 0755
		}
		if err := os.WriteFile(filepath.Join(debianDir, name), data, mode); err != nil {
			return err
		}
	}
	return nil
}
