package acquire

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/naming"
	"github.com/sirupsen/logrus"
)

var (
	requirementLine = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[([^\]]*)\])?\s*\(?\s*([^();]*?)\s*\)?\s*(?:;\s*(.*))?$`)
	versionSpec     = regexp.MustCompile(`^(==|!=|<=|>=|~=|<|>)\s*(\S+)$`)
	extraMarker     = regexp.MustCompile(`extra\s*==\s*['"]([^'"]+)['"]`)
)

// PipAcquirer fetches source distributions with pip and unpacks them
// below a build directory. Downloads are retried with a linear
// backoff when pip cannot locate a distribution, because transient
// index failures look identical to genuinely missing packages.
type PipAcquirer struct {
	Python      string
	BuildDir    string
	MaxAttempts int
	Backoff     time.Duration
}

// NewPipAcquirer creates a PipAcquirer rooted at buildDir.
func NewPipAcquirer(buildDir string, maxAttempts int) *PipAcquirer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PipAcquirer{
		Python:      "python3",
		BuildDir:    buildDir,
		MaxAttempts: maxAttempts,
		Backoff:     time.Second,
	}
}

// FetchAndUnpack implements the Acquirer interface on top of "pip
// download". Already-installed copies on the host are ignored so the
// resolved set is complete and reproducible regardless of host state.
func (p *PipAcquirer) FetchAndUnpack(ctx context.Context, expressions []string) ([]models.Requirement, error) {
	downloadDir := filepath.Join(p.BuildDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		logrus.Debugf("Attempt %d/%d of downloading source distributions", attempt, p.MaxAttempts)
		lastErr = p.download(ctx, downloadDir, expressions)
		if lastErr == nil {
			break
		}
		var notFound *NotFoundError
		if !errors.As(lastErr, &notFound) {
			return nil, lastErr
		}
		if attempt < p.MaxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * p.Backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to download source distributions %d times: %w", p.MaxAttempts, lastErr)
	}

	return p.unpackAll(downloadDir, expressions)
}

func (p *PipAcquirer) download(ctx context.Context, downloadDir string, expressions []string) error {
	args := []string{"-m", "pip", "download", "--no-binary", ":all:", "--dest", downloadDir}
	args = append(args, expressions...)
	logrus.Debugf("Running pip with arguments: %v", args)

	cmd := exec.CommandContext(ctx, p.Python, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		output := stderr.String()
		if strings.Contains(output, "No matching distribution found") ||
			strings.Contains(output, "Could not find a version") {
			return &NotFoundError{Expression: strings.Join(expressions, " ")}
		}
		return fmt.Errorf("pip download failed: %v: %s", err, strings.TrimSpace(output))
	}
	return nil
}

// unpackAll unpacks every downloaded distribution and parses its
// metadata into a Requirement.
func (p *PipAcquirer) unpackAll(downloadDir string, expressions []string) ([]models.Requirement, error) {
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		return nil, err
	}

	// Extras and directness are keyed by the normalized names of the
	// root expressions.
	direct := make(map[string][]string)
	for _, expression := range expressions {
		if name, extras, ok := splitExpression(expression); ok {
			direct[naming.NormalizeName(name)] = extras
		}
	}

	var requirements []models.Requirement
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		archive := filepath.Join(downloadDir, entry.Name())
		sourceDir := filepath.Join(p.BuildDir, "sources", strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".tar.gz"), ".zip"))
		if err := unpackArchive(archive, sourceDir); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", entry.Name(), err)
		}
		requirement, err := readMetadata(sourceDir, direct)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata of %s: %w", entry.Name(), err)
		}
		extras, isDirect := direct[naming.NormalizeName(requirement.Name)]
		requirement.Direct = isDirect
		requirement.Extras = extras
		requirements = append(requirements, *requirement)
	}

	logrus.Infof("Unpacked %d source distributions", len(requirements))
	return requirements, nil
}

// splitExpression extracts the package name and extras from a root
// requirement expression like "raven[flask]==5.0".
func splitExpression(expression string) (string, []string, bool) {
	match := requirementLine.FindStringSubmatch(strings.TrimSpace(expression))
	if match == nil {
		return "", nil, false
	}
	var extras []string
	if match[2] != "" {
		for _, extra := range strings.Split(match[2], ",") {
			extras = append(extras, strings.TrimSpace(extra))
		}
	}
	return match[1], extras, true
}

// unpackArchive unpacks a source distribution (tar.gz or zip) into
// destDir, stripping the top-level directory that sdists carry.
func unpackArchive(archive, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	if strings.HasSuffix(archive, ".zip") {
		return unpackZip(archive, destDir)
	}
	return unpackTarGz(archive, destDir)
}

func unpackTarGz(archive, destDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, ok := stripRoot(destDir, header.Name)
		if !ok {
			continue
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func unpackZip(archive, destDir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, file := range zr.File {
		target, ok := stripRoot(destDir, file.Name)
		if !ok {
			continue
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, file.Mode()&0777)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// stripRoot drops the archive's top-level directory and guards
// against path traversal.
func stripRoot(destDir, name string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(name)), "/")
	if len(parts) < 2 {
		return "", false
	}
	rel := filepath.Join(parts[1:]...)
	target := filepath.Join(destDir, rel)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", false
	}
	return target, true
}

// readMetadata parses the unpacked distribution's PKG-INFO and
// declared requirements. The direct map carries the extras requested
// for each root expression, keyed by normalized name; dependency edges
// guarded by an extras marker are only kept for requested extras, so
// the filter can run only once the distribution's own name is known.
func readMetadata(sourceDir string, direct map[string][]string) (*models.Requirement, error) {
	pkgInfo, err := findMetadataFile(sourceDir, "PKG-INFO")
	if err != nil {
		return nil, err
	}

	requirement := &models.Requirement{SourceDir: sourceDir}
	var requiresDist []string
	scanner := bufio.NewScanner(bytes.NewReader(pkgInfo))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			requirement.Name = value
		case "Version":
			requirement.Version = value
		case "Summary":
			if value != "UNKNOWN" {
				requirement.Summary = value
			}
		case "Home-page":
			if value != "UNKNOWN" {
				requirement.Homepage = value
			}
		case "Maintainer", "Author":
			if requirement.Maintainer == "" && value != "UNKNOWN" {
				requirement.Maintainer = value
			}
		case "Requires-Dist":
			requiresDist = append(requiresDist, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if requirement.Name == "" || requirement.Version == "" {
		return nil, fmt.Errorf("PKG-INFO in %s is missing a name or version", sourceDir)
	}

	requestedExtras := direct[naming.NormalizeName(requirement.Name)]
	for _, value := range requiresDist {
		if dependencies, ok := parseRequirementSpec(value, requestedExtras); ok {
			requirement.Depends = append(requirement.Depends, dependencies...)
		}
	}

	// Older sdists declare dependencies in *.egg-info/requires.txt
	// instead of Requires-Dist headers.
	if len(requirement.Depends) == 0 {
		if requires, err := findMetadataFile(sourceDir, "requires.txt"); err == nil {
			requirement.Depends = parseRequiresFile(requires, requestedExtras)
		}
	}
	return requirement, nil
}

// findMetadataFile locates a metadata file at the source root or
// below an *.egg-info directory.
func findMetadataFile(sourceDir, name string) ([]byte, error) {
	if data, err := os.ReadFile(filepath.Join(sourceDir, name)); err == nil {
		return data, nil
	}
	matches, _ := filepath.Glob(filepath.Join(sourceDir, "*.egg-info", name))
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(sourceDir, "*", "*.egg-info", name))
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s not found in %s", name, sourceDir)
	}
	return os.ReadFile(matches[0])
}

// parseRequiresFile parses an egg-info requires.txt. Sections other
// than the default one are conditional: a section named after a
// requested extra contributes its requirements, every other section
// (unrequested extras, environment markers) is skipped.
func parseRequiresFile(data []byte, requestedExtras []string) []models.Dependency {
	var dependencies []models.Dependency
	scanner := bufio.NewScanner(bytes.NewReader(data))
	include := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			// Section names may carry an environment marker after a
			// colon ("[flask:python_version<'3']").
			section, _, _ := strings.Cut(strings.Trim(line, "[]"), ":")
			include = false
			for _, extra := range requestedExtras {
				if naming.NamesMatch(extra, section) {
					include = true
					break
				}
			}
			continue
		}
		if !include {
			continue
		}
		if parsed, ok := parseRequirementSpec(line, requestedExtras); ok {
			dependencies = append(dependencies, parsed...)
		}
	}
	return dependencies
}

// parseRequirementSpec parses one requirement specifier, returning a
// dependency edge per version constraint. Requirements guarded by an
// environment marker are only kept when the marker names one of the
// requested extras.
func parseRequirementSpec(spec string, requestedExtras []string) ([]models.Dependency, bool) {
	match := requirementLine.FindStringSubmatch(spec)
	if match == nil {
		return nil, false
	}
	name, extrasField, constraints, marker := match[1], match[2], match[3], match[4]

	if marker != "" {
		extraMatch := extraMarker.FindStringSubmatch(marker)
		if extraMatch == nil {
			return nil, false
		}
		wanted := false
		for _, extra := range requestedExtras {
			if naming.NamesMatch(extra, extraMatch[1]) {
				wanted = true
				break
			}
		}
		if !wanted {
			return nil, false
		}
	}

	var extras []string
	if extrasField != "" {
		for _, extra := range strings.Split(extrasField, ",") {
			extras = append(extras, strings.TrimSpace(extra))
		}
	}

	if strings.TrimSpace(constraints) == "" {
		return []models.Dependency{{Name: name, Extras: extras}}, true
	}

	var dependencies []models.Dependency
	for _, constraint := range strings.Split(constraints, ",") {
		specMatch := versionSpec.FindStringSubmatch(strings.TrimSpace(constraint))
		if specMatch == nil {
			// An unparseable constraint degrades to an unversioned
			// dependency rather than dropping the edge.
			dependencies = append(dependencies, models.Dependency{Name: name, Extras: extras})
			continue
		}
		dependencies = append(dependencies, models.Dependency{
			Name:       name,
			Constraint: specMatch[1],
			Version:    specMatch[2],
			Extras:     extras,
		})
	}
	return dependencies, true
}
