package repository

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ralt/pipdeb/internal/deb"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/signer"
	"github.com/ralt/pipdeb/internal/utils"
	"github.com/sirupsen/logrus"
)

// WriteIndex generates a flat APT index (Packages, Packages.gz,
// Release) for the repository directory so the converted archives can
// be served directly with a "deb [trusted=yes] ... ./" source line.
// When a signer is configured InRelease and Release.gpg are emitted
// as well; unsigned repositories still get an InRelease copy for
// compatibility with modern apt.
func (r *Repository) WriteIndex(ctx context.Context, s signer.Signer) error {
	archives, err := r.Archives()
	if err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: err}
	}
	logrus.Infof("Indexing %d archives in %s", len(archives), r.Directory)

	var packages []models.Package
	for _, archive := range archives {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkg, err := deb.ParsePackage(archive.Path)
		if err != nil {
			logrus.Warnf("Failed to parse %s: %v", archive.Path, err)
			continue
		}
		pkg.Filename = "./" + filepath.Base(archive.Path)
		packages = append(packages, *pkg)
	}

	packagesData := formatPackagesIndex(packages)
	packagesPath := filepath.Join(r.Directory, "Packages")
	if err := utils.WriteFile(packagesPath, packagesData, 0644); err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to write Packages: %w", err)}
	}

	packagesGz, err := utils.GzipCompress(packagesData)
	if err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to compress Packages: %w", err)}
	}
	if err := utils.WriteFile(filepath.Join(r.Directory, "Packages.gz"), packagesGz, 0644); err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to write Packages.gz: %w", err)}
	}

	releaseData, err := r.formatRelease([]string{"Packages", "Packages.gz"})
	if err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: err}
	}
	if err := utils.WriteFile(filepath.Join(r.Directory, "Release"), releaseData, 0644); err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to write Release: %w", err)}
	}

	inReleasePath := filepath.Join(r.Directory, "InRelease")
	if s != nil {
		inRelease, err := s.SignCleartext(releaseData)
		if err != nil {
			return fmt.Errorf("failed to sign InRelease: %w", err)
		}
		if err := utils.WriteFile(inReleasePath, inRelease, 0644); err != nil {
			return &models.ConvertError{Type: models.ErrFileOp, Err: err}
		}
		releaseGpg, err := s.SignDetached(releaseData)
		if err != nil {
			return fmt.Errorf("failed to create Release.gpg: %w", err)
		}
		if err := utils.WriteFile(filepath.Join(r.Directory, "Release.gpg"), releaseGpg, 0644); err != nil {
			return &models.ConvertError{Type: models.ErrFileOp, Err: err}
		}
		// Publish the key so clients can install it with one fetch.
		publicKey, err := s.PublicKey()
		if err != nil {
			return fmt.Errorf("failed to serialize public key: %w", err)
		}
		if err := utils.WriteFile(filepath.Join(r.Directory, "Release.key"), publicKey, 0644); err != nil {
			return &models.ConvertError{Type: models.ErrFileOp, Err: err}
		}
		logrus.Info("Release file signed successfully")
	} else {
		if err := utils.WriteFile(inReleasePath, releaseData, 0644); err != nil {
			return &models.ConvertError{Type: models.ErrFileOp, Err: err}
		}
		logrus.Warn("No signing key configured, repository index will be unsigned")
	}
	return nil
}

// formatPackagesIndex renders the Packages file for the repository.
func formatPackagesIndex(packages []models.Package) []byte {
	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})

	var buf bytes.Buffer
	for _, pkg := range packages {
		fmt.Fprintf(&buf, "Package: %s\n", pkg.Name)
		fmt.Fprintf(&buf, "Version: %s\n", pkg.Version)
		fmt.Fprintf(&buf, "Architecture: %s\n", pkg.Architecture)
		fmt.Fprintf(&buf, "Filename: %s\n", pkg.Filename)
		fmt.Fprintf(&buf, "Size: %d\n", pkg.Size)
		fmt.Fprintf(&buf, "MD5sum: %s\n", pkg.MD5Sum)
		fmt.Fprintf(&buf, "SHA1: %s\n", pkg.SHA1Sum)
		fmt.Fprintf(&buf, "SHA256: %s\n", pkg.SHA256Sum)
		if pkg.Maintainer != "" {
			fmt.Fprintf(&buf, "Maintainer: %s\n", pkg.Maintainer)
		}
		if pkg.Homepage != "" {
			fmt.Fprintf(&buf, "Homepage: %s\n", pkg.Homepage)
		}
		if len(pkg.Depends) > 0 {
			fmt.Fprintf(&buf, "Depends: %s\n", strings.Join(pkg.Depends, ", "))
		}
		if pkg.Provides != "" {
			fmt.Fprintf(&buf, "Provides: %s\n", pkg.Provides)
		}
		fields := make([]string, 0, len(pkg.Fields))
		for field := range pkg.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(&buf, "%s: %s\n", field, pkg.Fields[field])
		}
		if pkg.Description != "" {
			fmt.Fprintf(&buf, "Description: %s\n", pkg.Description)
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// formatRelease renders a Release file covering the index files.
func (r *Repository) formatRelease(files []string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Origin: pipdeb\n")
	fmt.Fprintf(&buf, "Label: pipdeb\n")
	fmt.Fprintf(&buf, "Date: %s\n", time.Now().UTC().Format(time.RFC1123Z))

	checksums := make([]*utils.Checksum, len(files))
	for i, file := range files {
		checksum, err := utils.CalculateChecksums(filepath.Join(r.Directory, file))
		if err != nil {
			return nil, fmt.Errorf("failed to calculate checksum for %s: %w", file, err)
		}
		checksums[i] = checksum
	}

	buf.WriteString("MD5Sum:\n")
	for i, file := range files {
		fmt.Fprintf(&buf, " %s %d %s\n", checksums[i].MD5, checksums[i].Size, file)
	}
	buf.WriteString("SHA1:\n")
	for i, file := range files {
		fmt.Fprintf(&buf, " %s %d %s\n", checksums[i].SHA1, checksums[i].Size, file)
	}
	buf.WriteString("SHA256:\n")
	for i, file := range files {
		fmt.Fprintf(&buf, " %s %d %s\n", checksums[i].SHA256, checksums[i].Size, file)
	}
	buf.WriteString("SHA512:\n")
	for i, file := range files {
		fmt.Fprintf(&buf, " %s %d %s\n", checksums[i].SHA512, checksums[i].Size, file)
	}
	return buf.Bytes(), nil
}
