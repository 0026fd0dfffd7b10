package deb

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ulikunitz/xz"
)

const arMagic = "!<arch>\n"

// WriteArchive assembles a Debian binary package at path from the
// given control metadata and a staging directory whose layout mirrors
// the target filesystem. The archive is the standard ar container
// holding debian-binary, control.tar.gz and data.tar.xz.
func WriteArchive(path string, pkg *models.Package, stagingDir string) error {
	dataTar, installedSize, err := buildDataArchive(stagingDir)
	if err != nil {
		return fmt.Errorf("failed to build data archive: %w", err)
	}

	md5sums, err := buildMD5Sums(stagingDir)
	if err != nil {
		return fmt.Errorf("failed to checksum staged files: %w", err)
	}

	controlTar, err := buildControlArchive(FormatControl(pkg, installedSize), md5sums)
	if err != nil {
		return fmt.Errorf("failed to build control archive: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(arMagic); err != nil {
		return err
	}
	for _, member := range []struct {
		name string
		data []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", controlTar},
		{"data.tar.xz", dataTar},
	} {
		if err := writeArMember(f, member.name, member.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", member.name, err)
		}
	}
	return f.Sync()
}

// FormatControl renders the control paragraph for a package. Field
// order follows the conventional control file layout.
func FormatControl(pkg *models.Package, installedSize int64) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Package: %s\n", pkg.Name)
	fmt.Fprintf(&buf, "Version: %s\n", pkg.Version)
	fmt.Fprintf(&buf, "Architecture: %s\n", pkg.Architecture)
	if pkg.Maintainer != "" {
		fmt.Fprintf(&buf, "Maintainer: %s\n", pkg.Maintainer)
	}
	if installedSize > 0 {
		fmt.Fprintf(&buf, "Installed-Size: %d\n", (installedSize+1023)/1024)
	}
	if len(pkg.Depends) > 0 {
		fmt.Fprintf(&buf, "Depends: %s\n", strings.Join(pkg.Depends, ", "))
	}
	if pkg.Provides != "" {
		fmt.Fprintf(&buf, "Provides: %s\n", pkg.Provides)
	}
	if pkg.Homepage != "" {
		fmt.Fprintf(&buf, "Homepage: %s\n", pkg.Homepage)
	}

	// Extra fields in deterministic order
	extra := make([]string, 0, len(pkg.Fields))
	for field := range pkg.Fields {
		extra = append(extra, field)
	}
	sort.Strings(extra)
	for _, field := range extra {
		fmt.Fprintf(&buf, "%s: %s\n", field, pkg.Fields[field])
	}

	if pkg.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", pkg.Description)
	}
	return buf.Bytes()
}

// buildDataArchive creates data.tar.xz from the staging directory and
// reports the total size of the staged files.
func buildDataArchive(stagingDir string) ([]byte, int64, error) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, 0, err
	}
	tw := tar.NewWriter(xw)

	var totalSize int64
	err = walkStaging(stagingDir, func(path, relPath string, info os.FileInfo) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = "./" + relPath
		if info.IsDir() {
			header.Name += "/"
		}
		header.Uname = "root"
		header.Gname = "root"
		header.Uid = 0
		header.Gid = 0
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(tw, f)
		totalSize += n
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if err := tw.Close(); err != nil {
		return nil, 0, err
	}
	if err := xw.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), totalSize, nil
}

// buildControlArchive creates control.tar.gz holding the control file
// and the md5sums manifest.
func buildControlArchive(control, md5sums []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, member := range []struct {
		name string
		data []byte
	}{
		{"./control", control},
		{"./md5sums", md5sums},
	} {
		header := &tar.Header{
			Name:  member.name,
			Mode:  0644,
			Size:  int64(len(member.data)),
			Uname: "root",
			Gname: "root",
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, err
		}
		if _, err := tw.Write(member.data); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildMD5Sums renders the md5sums manifest for all regular files in
// the staging directory.
func buildMD5Sums(stagingDir string) ([]byte, error) {
	var buf bytes.Buffer
	err := walkStaging(stagingDir, func(path, relPath string, info os.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		fmt.Fprintf(&buf, "%s  %s\n", hex.EncodeToString(h.Sum(nil)), relPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// walkStaging visits the staging directory in a stable order, calling
// fn with the absolute path, the slash-separated relative path and
// the file info of every entry below the root.
func walkStaging(stagingDir string, fn func(path, relPath string, info os.FileInfo) error) error {
	return filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == stagingDir {
			return nil
		}
		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		return fn(path, filepath.ToSlash(relPath), info)
	})
}

// writeArMember appends one member to an ar archive, padding to the
// 2-byte boundary the format requires.
func writeArMember(w io.Writer, name string, data []byte) error {
	header := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8s%-10d`\n", name, 0, 0, 0, "100644", len(data))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data)%2 != 0 {
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}
