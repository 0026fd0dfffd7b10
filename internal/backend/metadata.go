package backend

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"

	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/resolver"
	"github.com/sirupsen/logrus"
)

// ControlMetadata derives the Debian control metadata for a
// candidate. The architecture is left empty: backends fill it in once
// they know whether compiled artifacts are present.
func ControlMetadata(candidate *resolver.Candidate) (*models.Package, error) {
	dependencies, err := candidate.DebianDependencies()
	if err != nil {
		return nil, &models.ConvertError{
			Type:    models.ErrResolution,
			Package: candidate.String(),
			Err:     err,
		}
	}
	pkg := &models.Package{
		Name:        candidate.DebianName(),
		Version:     candidate.DebianVersion(),
		Depends:     dependencies,
		Provides:    candidate.Provides(),
		Maintainer:  candidate.DebianMaintainer(),
		Description: candidate.DebianDescription(),
		Homepage:    candidate.Homepage,
	}
	fields := candidate.Config.Options(candidate.SourceName).ControlFields
	if len(fields) > 0 {
		pkg.Fields = make(map[string]string, len(fields))
		for field, value := range fields {
			pkg.Fields[field] = value
		}
	}
	return pkg, nil
}

// HostArchitecture returns the Debian architecture of the build host,
// asking dpkg when available.
func HostArchitecture() string {
	out, err := exec.Command("dpkg", "--print-architecture").Output()
	if err == nil {
		if arch := strings.TrimSpace(string(bytes.TrimSpace(out))); arch != "" {
			return arch
		}
	}
	logrus.Debug("dpkg not available, mapping GOARCH to a Debian architecture")
	switch runtime.GOARCH {
	case "amd64":
		return "amd64"
	case "386":
		return "i386"
	case "arm64":
		return "arm64"
	case "arm":
		return "armhf"
	default:
		return runtime.GOARCH
	}
}
