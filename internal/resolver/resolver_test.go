package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/naming"
)

type fakeAcquirer struct {
	requirements []models.Requirement
	err          error
}

func (f *fakeAcquirer) FetchAndUnpack(ctx context.Context, expressions []string) ([]models.Requirement, error) {
	return f.requirements, f.err
}

func testConfig(packages map[string]models.PackageOptions) *models.ConversionConfig {
	return &models.ConversionConfig{
		NamePrefix: "python",
		Packages:   packages,
	}
}

func newTestResolver(config *models.ConversionConfig, requirements ...models.Requirement) *Resolver {
	transformer := naming.NewTransformer(
		config.NamePrefix,
		config.NameOverrides(),
		config.SystemPackages(),
		config.NoPrefixNames(),
	)
	return New(&fakeAcquirer{requirements: requirements}, config, transformer)
}

func TestResolvePartitionsPrimaryAndToBuild(t *testing.T) {
	r := newTestResolver(testConfig(nil),
		models.Requirement{Name: "raven", Version: "5.0", Direct: true},
		models.Requirement{Name: "contextlib2", Version: "0.4.0"},
	)

	primary, toBuild, err := r.Resolve(context.Background(), []string{"raven==5.0"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(toBuild) != 2 {
		t.Fatalf("expected 2 candidates to build, got %d", len(toBuild))
	}
	if len(primary) != 1 || primary[0].SourceName != "raven" {
		t.Fatalf("expected raven as the only primary candidate, got %v", primary)
	}
	// Stable order: sorted by converted name.
	if toBuild[0].DebianName() != "python-contextlib2" || toBuild[1].DebianName() != "python-raven" {
		t.Errorf("candidates not in stable order: %s, %s", toBuild[0].DebianName(), toBuild[1].DebianName())
	}
}

func TestResolveSystemPackageSubstitution(t *testing.T) {
	config := testConfig(map[string]models.PackageOptions{
		"dbus-python": {SystemPackage: "python-dbus"},
	})
	r := newTestResolver(config,
		models.Requirement{
			Name: "app", Version: "1.0", Direct: true,
			Depends: []models.Dependency{{Name: "dbus-python", Constraint: "==", Version: "1.2.0"}},
		},
		models.Requirement{Name: "dbus-python", Version: "1.2.0"},
	)

	_, toBuild, err := r.Resolve(context.Background(), []string{"app"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(toBuild) != 1 || toBuild[0].SourceName != "app" {
		t.Fatalf("system package should not be built, got %v", toBuild)
	}

	dependencies, err := toBuild[0].DebianDependencies()
	if err != nil {
		t.Fatalf("DebianDependencies failed: %v", err)
	}
	// The substituted dependency keeps the configured name and loses
	// its version constraint: the system package's own versioning is
	// authoritative.
	if len(dependencies) != 1 || dependencies[0] != "python-dbus" {
		t.Errorf("expected [python-dbus], got %v", dependencies)
	}
}

func TestResolveCorrectsMungedVersions(t *testing.T) {
	r := newTestResolver(testConfig(nil),
		models.Requirement{
			Name: "install-requires-munging-test", Version: "1.0", Direct: true,
			Depends: []models.Dependency{{Name: "humanfriendly", Constraint: "==", Version: "1.30.0"}},
		},
		models.Requirement{Name: "humanfriendly", Version: "1.30"},
	)

	_, toBuild, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	var root *Candidate
	for _, candidate := range toBuild {
		if candidate.SourceName == "install-requires-munging-test" {
			root = candidate
		}
	}
	dependencies, err := root.DebianDependencies()
	if err != nil {
		t.Fatalf("DebianDependencies failed: %v", err)
	}
	if len(dependencies) != 1 || dependencies[0] != "python-humanfriendly (= 1.30)" {
		t.Errorf("munged version not rewritten, got %v", dependencies)
	}
}

func TestResolveLeavesGenuinelyDifferentVersionsAlone(t *testing.T) {
	r := newTestResolver(testConfig(nil),
		models.Requirement{
			Name: "app", Version: "1.0", Direct: true,
			Depends: []models.Dependency{{Name: "humanfriendly", Constraint: ">=", Version: "1.29"}},
		},
		models.Requirement{Name: "humanfriendly", Version: "1.30"},
	)

	_, toBuild, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for _, candidate := range toBuild {
		if candidate.SourceName != "app" {
			continue
		}
		dependencies, err := candidate.DebianDependencies()
		if err != nil {
			t.Fatalf("DebianDependencies failed: %v", err)
		}
		if len(dependencies) != 1 || dependencies[0] != "python-humanfriendly (>= 1.29)" {
			t.Errorf("version should not be rewritten, got %v", dependencies)
		}
	}
}

func TestResolveReportsAmbiguousMatches(t *testing.T) {
	r := newTestResolver(testConfig(nil),
		models.Requirement{
			Name: "app", Version: "1.0", Direct: true,
			Depends: []models.Dependency{{Name: "six", Constraint: "==", Version: "1.6.0"}},
		},
		models.Requirement{Name: "six", Version: "1.6"},
		models.Requirement{Name: "Six", Version: "1.7"},
	)

	_, _, err := r.Resolve(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error for an ambiguous dependency match")
	}
	var convertErr *models.ConvertError
	if !errors.As(err, &convertErr) || convertErr.Type != models.ErrResolution {
		t.Errorf("expected a resolution error, got %v", err)
	}
}

func TestResolveWrapsAcquisitionErrors(t *testing.T) {
	config := testConfig(nil)
	transformer := naming.NewTransformer(config.NamePrefix, nil, nil, nil)
	r := New(&fakeAcquirer{err: errors.New("index unreachable")}, config, transformer)

	_, _, err := r.Resolve(context.Background(), []string{"requests"})
	var convertErr *models.ConvertError
	if !errors.As(err, &convertErr) || convertErr.Type != models.ErrAcquisition {
		t.Errorf("expected an acquisition error, got %v", err)
	}
}

func TestDebianDependencyRendering(t *testing.T) {
	tests := []struct {
		name       string
		dependency models.Dependency
		expected   []string
	}{
		{
			"unversioned",
			models.Dependency{Name: "six"},
			[]string{"python-six"},
		},
		{
			"exact",
			models.Dependency{Name: "six", Constraint: "==", Version: "1.6.1"},
			[]string{"python-six (= 1.6.1)"},
		},
		{
			"exclusion",
			models.Dependency{Name: "six", Constraint: "!=", Version: "1.6.1"},
			[]string{"python-six (<< 1.6.1) | python-six (>> 1.6.1)"},
		},
		{
			"strict bounds",
			models.Dependency{Name: "six", Constraint: "<", Version: "2.0"},
			[]string{"python-six (<< 2.0)"},
		},
		{
			"compatible release",
			models.Dependency{Name: "six", Constraint: "~=", Version: "2.4.5"},
			[]string{"python-six (<< 2.5)", "python-six (>= 2.4.5)"},
		},
		{
			// Requirements like 'pytz > dev' carry no usable version.
			"dev version",
			models.Dependency{Name: "pytz", Constraint: ">", Version: "dev"},
			[]string{"python-pytz"},
		},
		{
			"extras",
			models.Dependency{Name: "raven", Extras: []string{"flask"}},
			[]string{"python-raven-flask"},
		},
	}

	config := testConfig(nil)
	transformer := naming.NewTransformer(config.NamePrefix, nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := NewCandidate(models.Requirement{
				Name:    "app",
				Version: "1.0",
				Depends: []models.Dependency{tt.dependency},
			}, config, transformer)

			dependencies, err := candidate.DebianDependencies()
			if err != nil {
				t.Fatalf("DebianDependencies failed: %v", err)
			}
			if len(dependencies) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, dependencies)
			}
			for i := range dependencies {
				if dependencies[i] != tt.expected[i] {
					t.Errorf("expected %v, got %v", tt.expected, dependencies)
				}
			}
		})
	}
}

func TestDebianDependencyRejectsUnknownConstraint(t *testing.T) {
	config := testConfig(nil)
	transformer := naming.NewTransformer(config.NamePrefix, nil, nil, nil)
	candidate := NewCandidate(models.Requirement{
		Name:    "app",
		Version: "1.0",
		Depends: []models.Dependency{{Name: "six", Constraint: "===", Version: "1.0"}},
	}, config, transformer)

	if _, err := candidate.DebianDependencies(); err == nil {
		t.Fatal("expected an error for an unsupported constraint")
	}
}

func TestProvides(t *testing.T) {
	config := testConfig(nil)
	transformer := naming.NewTransformer(config.NamePrefix, nil, nil, nil)

	with := NewCandidate(models.Requirement{Name: "raven", Version: "5.0", Extras: []string{"flask"}}, config, transformer)
	if with.DebianName() != "python-raven-flask" {
		t.Errorf("unexpected name: %s", with.DebianName())
	}
	if with.Provides() != "python-raven" {
		t.Errorf("candidate with extras should provide the plain name, got %q", with.Provides())
	}

	without := NewCandidate(models.Requirement{Name: "raven", Version: "5.0"}, config, transformer)
	if without.Provides() != "" {
		t.Errorf("candidate without extras should provide nothing, got %q", without.Provides())
	}
}
