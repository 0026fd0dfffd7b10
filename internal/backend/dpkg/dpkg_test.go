package dpkg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/naming"
	"github.com/ralt/pipdeb/internal/resolver"
)

func writeSourceTree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, file := range files {
		path := filepath.Join(dir, filepath.FromSlash(file))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSourceArchitecture(t *testing.T) {
	pure := writeSourceTree(t, "setup.py", "six.py")
	arch, err := sourceArchitecture(pure)
	if err != nil {
		t.Fatalf("sourceArchitecture failed: %v", err)
	}
	if arch != "all" {
		t.Errorf("pure-Python tree should be architecture-independent, got %q", arch)
	}

	compiled := writeSourceTree(t, "setup.py", "src/speedups.c")
	arch, err = sourceArchitecture(compiled)
	if err != nil {
		t.Fatalf("sourceArchitecture failed: %v", err)
	}
	if arch != "any" {
		t.Errorf("tree with extension sources should be architecture-dependent, got %q", arch)
	}
}

func TestDebianizeWritesArchitecture(t *testing.T) {
	config := &models.ConversionConfig{NamePrefix: "python"}
	transformer := naming.NewTransformer(config.NamePrefix, nil, nil, nil)
	candidate := resolver.NewCandidate(models.Requirement{
		Name:      "markupsafe",
		Version:   "1.0",
		SourceDir: writeSourceTree(t, "setup.py", "markupsafe/_speedups.c"),
	}, config, transformer)

	pkg := &models.Package{
		Name:       candidate.DebianName(),
		Version:    candidate.DebianVersion(),
		Maintainer: "Test Suite <test@example.com>",
	}
	var err error
	pkg.Architecture, err = sourceArchitecture(candidate.SourceDir)
	if err != nil {
		t.Fatalf("sourceArchitecture failed: %v", err)
	}

	if err := (&Builder{}).debianize(candidate, pkg); err != nil {
		t.Fatalf("debianize failed: %v", err)
	}
	control, err := os.ReadFile(filepath.Join(candidate.SourceDir, "debian", "control"))
	if err != nil {
		t.Fatalf("debian/control not written: %v", err)
	}
	if !strings.Contains(string(control), "Architecture: any\n") {
		t.Errorf("compiled package should be declared Architecture: any:\n%s", control)
	}
	if !strings.Contains(string(control), "Source: python-markupsafe\n") {
		t.Errorf("source paragraph missing:\n%s", control)
	}

	rules, err := os.Stat(filepath.Join(candidate.SourceDir, "debian", "rules"))
	if err != nil {
		t.Fatalf("debian/rules not written: %v", err)
	}
	if rules.Mode()&0111 == 0 {
		t.Error("debian/rules should be executable")
	}
}
