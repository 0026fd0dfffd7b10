package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ralt/pipdeb/internal/models"
)

func TestSplitExpression(t *testing.T) {
	tests := []struct {
		expression string
		name       string
		extras     []string
		ok         bool
	}{
		{"requests", "requests", nil, true},
		{"requests==2.6.0", "requests", nil, true},
		{"raven[flask]==5.0", "raven", []string{"flask"}, true},
		{"raven[flask, amqp]", "raven", []string{"flask", "amqp"}, true},
		{"", "", nil, false},
	}
	for _, tt := range tests {
		name, extras, ok := splitExpression(tt.expression)
		if ok != tt.ok || name != tt.name || !reflect.DeepEqual(extras, tt.extras) {
			t.Errorf("splitExpression(%q) = %q, %v, %v; want %q, %v, %v",
				tt.expression, name, extras, ok, tt.name, tt.extras, tt.ok)
		}
	}
}

func TestParseRequirementSpec(t *testing.T) {
	tests := []struct {
		spec     string
		extras   []string
		expected []models.Dependency
	}{
		{
			"six",
			nil,
			[]models.Dependency{{Name: "six"}},
		},
		{
			"six (>=1.6.0)",
			nil,
			[]models.Dependency{{Name: "six", Constraint: ">=", Version: "1.6.0"}},
		},
		{
			"coloredlogs >= 0.5, < 2.0",
			nil,
			[]models.Dependency{
				{Name: "coloredlogs", Constraint: ">=", Version: "0.5"},
				{Name: "coloredlogs", Constraint: "<", Version: "2.0"},
			},
		},
		{
			"requests[security]",
			nil,
			[]models.Dependency{{Name: "requests", Extras: []string{"security"}}},
		},
		{
			// The environment marker names an extra that was not
			// requested, so the edge is dropped.
			"flask>=0.10 ; extra == 'flask'",
			nil,
			nil,
		},
		{
			"flask>=0.10 ; extra == 'flask'",
			[]string{"flask"},
			[]models.Dependency{{Name: "flask", Constraint: ">=", Version: "0.10"}},
		},
		{
			// Markers other than extras always exclude the edge.
			"pywin32 ; sys_platform == 'win32'",
			nil,
			nil,
		},
	}
	for _, tt := range tests {
		dependencies, _ := parseRequirementSpec(tt.spec, tt.extras)
		if !reflect.DeepEqual(dependencies, tt.expected) {
			t.Errorf("parseRequirementSpec(%q, %v) = %v, want %v",
				tt.spec, tt.extras, dependencies, tt.expected)
		}
	}
}

func TestParseRequiresFile(t *testing.T) {
	data := []byte(`coloredlogs >= 0.5
humanfriendly

[socks]
PySocks

[security:python_version<'3']
pyOpenSSL
`)
	dependencies := parseRequiresFile(data, nil)
	expected := []models.Dependency{
		{Name: "coloredlogs", Constraint: ">=", Version: "0.5"},
		{Name: "humanfriendly"},
	}
	if !reflect.DeepEqual(dependencies, expected) {
		t.Errorf("parseRequiresFile = %v, want %v", dependencies, expected)
	}

	// A section named after a requested extra contributes its
	// requirements; other sections stay excluded.
	dependencies = parseRequiresFile(data, []string{"socks"})
	expected = append(expected, models.Dependency{Name: "PySocks"})
	if !reflect.DeepEqual(dependencies, expected) {
		t.Errorf("parseRequiresFile with extras = %v, want %v", dependencies, expected)
	}
}

func TestStripRoot(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "six-1.6.1")

	target, ok := stripRoot(dest, "six-1.6.1/six.py")
	if !ok || target != filepath.Join(dest, "six.py") {
		t.Errorf("stripRoot = %q, %v", target, ok)
	}

	// The top-level directory itself produces nothing.
	if _, ok := stripRoot(dest, "six-1.6.1"); ok {
		t.Error("top-level entry should be skipped")
	}

	// Path traversal is rejected.
	if _, ok := stripRoot(dest, "six-1.6.1/../../../etc/passwd"); ok {
		t.Error("traversal outside the destination should be rejected")
	}
}

func TestReadMetadata(t *testing.T) {
	sourceDir := t.TempDir()
	pkgInfo := `Metadata-Version: 2.1
Name: raven
Version: 5.0
Summary: A client for Sentry
Home-page: https://example.com/raven
Author: Test Author
Requires-Dist: contextlib2
Requires-Dist: flask (>=0.10) ; extra == 'flask'

Long description follows.
Name: not-a-header
`
	if err := os.WriteFile(filepath.Join(sourceDir, "PKG-INFO"), []byte(pkgInfo), 0644); err != nil {
		t.Fatal(err)
	}

	requirement, err := readMetadata(sourceDir, nil)
	if err != nil {
		t.Fatalf("readMetadata failed: %v", err)
	}
	if requirement.Name != "raven" || requirement.Version != "5.0" {
		t.Errorf("unexpected identity: %s %s", requirement.Name, requirement.Version)
	}
	if requirement.Summary != "A client for Sentry" || requirement.Homepage != "https://example.com/raven" {
		t.Errorf("unexpected metadata: %+v", requirement)
	}
	if requirement.Maintainer != "Test Author" {
		t.Errorf("author should back the maintainer field, got %q", requirement.Maintainer)
	}
	// The extra-guarded dependency is dropped; the plain one survives.
	expected := []models.Dependency{{Name: "contextlib2"}}
	if !reflect.DeepEqual(requirement.Depends, expected) {
		t.Errorf("unexpected dependencies: %v", requirement.Depends)
	}
}

func TestReadMetadataHonorsRequestedExtras(t *testing.T) {
	sourceDir := t.TempDir()
	pkgInfo := `Metadata-Version: 2.1
Name: raven
Version: 5.0
Requires-Dist: contextlib2
Requires-Dist: flask (>=0.10) ; extra == 'flask'
Requires-Dist: amqp ; extra == 'amqp'
`
	if err := os.WriteFile(filepath.Join(sourceDir, "PKG-INFO"), []byte(pkgInfo), 0644); err != nil {
		t.Fatal(err)
	}

	// The extras requested on the root expression unlock the matching
	// guarded edges. The amqp extra was not requested and stays out.
	requirement, err := readMetadata(sourceDir, map[string][]string{"raven": {"flask"}})
	if err != nil {
		t.Fatalf("readMetadata failed: %v", err)
	}
	expected := []models.Dependency{
		{Name: "contextlib2"},
		{Name: "flask", Constraint: ">=", Version: "0.10"},
	}
	if !reflect.DeepEqual(requirement.Depends, expected) {
		t.Errorf("unexpected dependencies: %v", requirement.Depends)
	}
}

func TestReadMetadataFallsBackToRequiresFile(t *testing.T) {
	sourceDir := t.TempDir()
	pkgInfo := "Metadata-Version: 1.1\nName: six\nVersion: 1.6.1\n"
	if err := os.WriteFile(filepath.Join(sourceDir, "PKG-INFO"), []byte(pkgInfo), 0644); err != nil {
		t.Fatal(err)
	}
	eggInfo := filepath.Join(sourceDir, "six.egg-info")
	if err := os.MkdirAll(eggInfo, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(eggInfo, "requires.txt"), []byte("ordereddict\n"), 0644); err != nil {
		t.Fatal(err)
	}

	requirement, err := readMetadata(sourceDir, nil)
	if err != nil {
		t.Fatalf("readMetadata failed: %v", err)
	}
	expected := []models.Dependency{{Name: "ordereddict"}}
	if !reflect.DeepEqual(requirement.Depends, expected) {
		t.Errorf("requires.txt not consulted, got %v", requirement.Depends)
	}
}

// stubAcquirer builds a PipAcquirer whose interpreter is a shell
// script, so the retry loop can be exercised without pip. COUNTER in
// the script is replaced with a file path; the scripts append one line
// to it per invocation.
func stubAcquirer(t *testing.T, script string) (*PipAcquirer, string) {
	t.Helper()
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	stub := filepath.Join(dir, "python3")
	script = strings.ReplaceAll(script, "COUNTER", counter)
	if err := os.WriteFile(stub, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	acquirer := NewPipAcquirer(t.TempDir(), 3)
	acquirer.Python = stub
	acquirer.Backoff = time.Millisecond
	return acquirer, counter
}

func countAttempts(t *testing.T, counter string) int {
	t.Helper()
	data, err := os.ReadFile(counter)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	return strings.Count(string(data), "\n")
}

func TestFetchAndUnpackRetriesUntilFound(t *testing.T) {
	// Not found twice, then a successful (empty) download.
	acquirer, counter := stubAcquirer(t, `#!/bin/sh
echo attempt >> 'COUNTER'
if [ "$(wc -l < 'COUNTER')" -lt 3 ]; then
  echo "No matching distribution found for raven" >&2
  exit 1
fi
`)

	requirements, err := acquirer.FetchAndUnpack(context.Background(), []string{"raven==5.0"})
	if err != nil {
		t.Fatalf("FetchAndUnpack failed: %v", err)
	}
	if len(requirements) != 0 {
		t.Errorf("expected no requirements from an empty download, got %v", requirements)
	}
	if got := countAttempts(t, counter); got != 3 {
		t.Errorf("expected 3 download attempts, got %d", got)
	}
}

func TestFetchAndUnpackExhaustsRetryBudget(t *testing.T) {
	acquirer, counter := stubAcquirer(t, `#!/bin/sh
echo attempt >> 'COUNTER'
echo "No matching distribution found for raven" >&2
exit 1
`)

	_, err := acquirer.FetchAndUnpack(context.Background(), []string{"raven==5.0"})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected the error to wrap the not-found signal, got %v", err)
	}
	if got := countAttempts(t, counter); got != 3 {
		t.Errorf("expected the full retry budget of 3 attempts, got %d", got)
	}
}

func TestFetchAndUnpackDoesNotRetryFatalErrors(t *testing.T) {
	acquirer, counter := stubAcquirer(t, `#!/bin/sh
echo attempt >> 'COUNTER'
echo "error: invalid requirement" >&2
exit 1
`)

	_, err := acquirer.FetchAndUnpack(context.Background(), []string{"=="})
	if err == nil {
		t.Fatal("expected an error")
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		t.Fatal("a fatal pip failure must not be classified as retryable")
	}
	if got := countAttempts(t, counter); got != 1 {
		t.Errorf("fatal errors should not be retried, got %d attempts", got)
	}
}

func TestReadMetadataRequiresIdentity(t *testing.T) {
	sourceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "PKG-INFO"), []byte("Summary: nameless\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := readMetadata(sourceDir, nil); err == nil {
		t.Fatal("expected an error for metadata without a name and version")
	}
}
