package resolver

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/naming"
	"github.com/sirupsen/logrus"
)

var numericComponent = regexp.MustCompile(`\d+`)

// Candidate is one resolved, unpacked source package awaiting
// conversion. It owns its source directory for the duration of the
// conversion and holds a read-only back-reference to the run
// configuration. Debian name and version are derived lazily and
// cached, as pure functions of the source identity and the policy.
type Candidate struct {
	SourceName    string
	SourceVersion string
	Extras        []string
	SourceDir     string
	Direct        bool

	// Declared dependency edges, with versions already corrected for
	// resolver munging.
	Depends []models.Dependency

	// Metadata carried over from the source distribution.
	Summary    string
	Homepage   string
	Maintainer string

	Config      *models.ConversionConfig
	transformer *naming.Transformer

	debianName    string
	debianVersion string
}

// NewCandidate creates a Candidate from a resolved requirement.
func NewCandidate(req models.Requirement, config *models.ConversionConfig, transformer *naming.Transformer) *Candidate {
	extras := append([]string(nil), req.Extras...)
	sort.Strings(extras)
	return &Candidate{
		SourceName:    req.Name,
		SourceVersion: req.Version,
		Extras:        extras,
		SourceDir:     req.SourceDir,
		Direct:        req.Direct,
		Depends:       append([]models.Dependency(nil), req.Depends...),
		Summary:       req.Summary,
		Homepage:      req.Homepage,
		Maintainer:    req.Maintainer,
		Config:        config,
		transformer:   transformer,
	}
}

// DebianName returns the converted package name.
func (c *Candidate) DebianName() string {
	if c.debianName == "" {
		c.debianName = c.transformer.Name(c.SourceName, c.Extras...)
	}
	return c.debianName
}

// DebianVersion returns the converted package version.
func (c *Candidate) DebianVersion() string {
	if c.debianVersion == "" {
		c.debianVersion = c.transformer.Version(c.SourceVersion)
	}
	return c.debianVersion
}

// Provides returns the extras-free converted name when the candidate
// was converted with extras: the package with extras also satisfies a
// dependency on the package without them.
func (c *Candidate) Provides() string {
	if len(c.Extras) == 0 {
		return ""
	}
	return c.transformer.Name(c.SourceName)
}

// DebianDependencies converts the candidate's declared dependency
// edges to Debian package relationships, sorted and de-duplicated.
func (c *Candidate) DebianDependencies() ([]string, error) {
	seen := make(map[string]bool)
	for _, dep := range c.Depends {
		debianName := c.transformer.Name(dep.Name, dep.Extras...)
		if _, system := c.transformer.IsSystemPackage(dep.Name); system {
			// The system package's own versioning is authoritative, so
			// no version constraint is carried over.
			seen[debianName] = true
			continue
		}
		if dep.Constraint == "" {
			seen[debianName] = true
			continue
		}
		version := c.transformer.Version(dep.Version)
		if version == "dev" {
			// Requirements like 'pytz > dev' don't mean anything to
			// pip but Debian rejects version strings without a
			// leading digit, so the constraint is dropped rather
			// than the dependency.
			seen[debianName] = true
			continue
		}
		relations, err := renderRelation(debianName, dep.Constraint, version)
		if err != nil {
			return nil, fmt.Errorf("%w (used by %s)", err, c.SourceName)
		}
		for _, relation := range relations {
			seen[relation] = true
		}
	}
	dependencies := make([]string, 0, len(seen))
	for relation := range seen {
		dependencies = append(dependencies, relation)
	}
	sort.Strings(dependencies)
	logrus.Debugf("Debian dependencies of %s: %v", c.SourceName, dependencies)
	return dependencies, nil
}

// renderRelation maps one version specifier to Debian relationship
// syntax.
func renderRelation(name, constraint, version string) ([]string, error) {
	switch constraint {
	case "==":
		return []string{fmt.Sprintf("%s (= %s)", name, version)}, nil
	case "!=":
		return []string{fmt.Sprintf("%s (<< %s) | %s (>> %s)", name, version, name, version)}, nil
	case "<":
		return []string{fmt.Sprintf("%s (<< %s)", name, version)}, nil
	case ">":
		return []string{fmt.Sprintf("%s (>> %s)", name, version)}, nil
	case "<=", ">=":
		return []string{fmt.Sprintf("%s (%s %s)", name, constraint, version)}, nil
	case "~=":
		// A compatible release clause becomes a half-open range:
		// ~= 2.4.5 means >= 2.4.5 together with << 2.5.
		upper, err := compatibleUpperBound(version)
		if err != nil {
			return nil, err
		}
		return []string{
			fmt.Sprintf("%s (>= %s)", name, version),
			fmt.Sprintf("%s (<< %s)", name, upper),
		}, nil
	default:
		return nil, fmt.Errorf("conversion specifier not supported: %q", constraint)
	}
}

func compatibleUpperBound(version string) (string, error) {
	components := numericComponent.FindAllString(version, -1)
	if len(components) < 2 {
		return "", fmt.Errorf("cannot convert '~=' requirement (version %q)", version)
	}
	components = components[:len(components)-1]
	last, err := strconv.Atoi(components[len(components)-1])
	if err != nil {
		return "", err
	}
	components[len(components)-1] = strconv.Itoa(last + 1)
	return strings.Join(components, "."), nil
}

// DebianMaintainer combines a maintainer name and e-mail address into
// a single control field value. $DEBFULLNAME and $DEBEMAIL take
// precedence over the source distribution metadata.
func (c *Candidate) DebianMaintainer() string {
	maintainer := c.Maintainer
	email := ""
	if name := os.Getenv("DEBFULLNAME"); name != "" {
		maintainer = name
		email = os.Getenv("DEBEMAIL")
	}
	if maintainer == "" {
		return "Unknown"
	}
	if email != "" {
		return fmt.Sprintf("%s <%s>", maintainer, strings.Trim(email, "<>"))
	}
	return maintainer
}

// DebianDescription synthesizes a minimal description recording the
// source package and conversion date.
func (c *Candidate) DebianDescription() string {
	if c.Summary != "" {
		return c.Summary
	}
	return fmt.Sprintf("Python package %s converted by pipdeb on %s",
		c.SourceName, time.Now().Format("January 2, 2006 at 15:04"))
}

// String identifies the candidate in logs and error messages.
func (c *Candidate) String() string {
	return fmt.Sprintf("%s %s", c.SourceName, c.SourceVersion)
}
