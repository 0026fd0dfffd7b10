package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ralt/pipdeb/internal/utils"
	"github.com/sirupsen/logrus"
)

// Archive identifies one package archive in the repository.
type Archive struct {
	Name         string
	Version      string
	Architecture string
	Path         string
}

// Repository is a directory of previously produced .deb archives,
// indexed by (name, version, architecture). It is used to recognize
// which packages have already been converted and can be skipped.
type Repository struct {
	Directory string

	mu       sync.Mutex
	archives []Archive
	scanned  bool
}

// New creates a Repository rooted at directory, creating it when
// necessary.
func New(directory string) (*Repository, error) {
	if err := utils.EnsureDir(directory); err != nil {
		return nil, err
	}
	return &Repository{Directory: directory}, nil
}

// Archives returns the archives present in the repository directory,
// scanning it on first use.
func (r *Repository) Archives() ([]Archive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.scanned {
		if err := r.scanLocked(); err != nil {
			return nil, err
		}
	}
	return append([]Archive(nil), r.archives...), nil
}

// Get finds an archive matching the identity triple, or returns an
// empty path.
func (r *Repository) Get(name, version, architecture string) (string, error) {
	archives, err := r.Archives()
	if err != nil {
		return "", err
	}
	for _, archive := range archives {
		if archive.Name == name && archive.Version == version && archive.Architecture == architecture {
			return archive.Path, nil
		}
	}
	return "", nil
}

// Add registers a produced archive, moving it into the repository
// directory under its canonical name. Registration goes through a
// rename so concurrent writers cannot observe a partial archive.
func (r *Repository) Add(artifactPath string) (string, error) {
	archive, err := parseArchiveName(filepath.Base(artifactPath))
	if err != nil {
		return "", err
	}
	target := filepath.Join(r.Directory, filepath.Base(artifactPath))
	if err := moveFile(artifactPath, target); err != nil {
		return "", err
	}
	archive.Path = target

	r.mu.Lock()
	if r.scanned {
		r.archives = append(r.archives, *archive)
	}
	r.mu.Unlock()

	logrus.Debugf("Registered %s %s (%s) in %s", archive.Name, archive.Version, archive.Architecture, r.Directory)
	return target, nil
}

func (r *Repository) scanLocked() error {
	entries, err := os.ReadDir(r.Directory)
	if err != nil {
		return err
	}
	r.archives = nil
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".deb") {
			continue
		}
		archive, err := parseArchiveName(entry.Name())
		if err != nil {
			logrus.Warnf("Skipping unrecognized archive name: %s", entry.Name())
			continue
		}
		archive.Path = filepath.Join(r.Directory, entry.Name())
		r.archives = append(r.archives, *archive)
	}
	r.scanned = true
	logrus.Debugf("Found %d archives in %s", len(r.archives), r.Directory)
	return nil
}

// parseArchiveName splits the canonical name_version_architecture.deb
// filename layout.
func parseArchiveName(filename string) (*Archive, error) {
	base := strings.TrimSuffix(filename, ".deb")
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%s does not match name_version_architecture.deb", filename)
	}
	return &Archive{Name: parts[0], Version: parts[1], Architecture: parts[2]}, nil
}

// moveFile renames src to dst, falling back to copy-and-remove when
// the two live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := utils.CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
