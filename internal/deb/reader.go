package deb

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/utils"
	"github.com/ulikunitz/xz"
)

// ParsePackage parses a .deb file and extracts metadata
func ParsePackage(path string) (*models.Package, error) {
	// Calculate checksums
	checksums, err := utils.CalculateChecksums(path)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksums: %w", err)
	}

	// Extract control file from the .deb
	control, err := extractMember(path, "control.tar")
	if err != nil {
		return nil, fmt.Errorf("failed to extract control: %w", err)
	}

	controlData, err := readTarFile(control.data, control.name, "control")
	if err != nil {
		return nil, fmt.Errorf("failed to read control file: %w", err)
	}

	pkg, err := parseControl(controlData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse control: %w", err)
	}

	// Set file information (keep full path for copying)
	pkg.Filename = path
	pkg.Size = checksums.Size
	pkg.MD5Sum = checksums.MD5
	pkg.SHA1Sum = checksums.SHA1
	pkg.SHA256Sum = checksums.SHA256

	return pkg, nil
}

// ListContents returns the installed file paths claimed by a .deb
// archive (regular files only, normalized to absolute paths).
func ListContents(path string) ([]string, error) {
	data, err := extractMember(path, "data.tar")
	if err != nil {
		return nil, fmt.Errorf("failed to extract data archive: %w", err)
	}

	tarReader, closer, err := tarReaderFor(data.data, data.name)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	var contents []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		name := strings.TrimPrefix(header.Name, ".")
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		contents = append(contents, name)
	}
	return contents, nil
}

type arMember struct {
	name string
	data []byte
}

// extractMember extracts a member (by name prefix) from a .deb, which
// is an ar archive.
func extractMember(path, prefix string) (*arMember, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Skip the global header ("!<arch>\n")
	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, []byte(arMagic)) {
		return nil, fmt.Errorf("%s is not an ar archive", path)
	}

	for {
		// Read ar header (60 bytes)
		arHeader := make([]byte, 60)
		if _, err := io.ReadFull(f, arHeader); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read ar header")
		}

		// Parse filename (first 16 bytes, space-padded). Also trim
		// the trailing slash that the ar format may include.
		filename := strings.TrimRight(strings.TrimSpace(string(arHeader[0:16])), "/")

		// Parse file size (bytes 48-58, decimal)
		sizeStr := strings.TrimSpace(string(arHeader[48:58]))
		var size int64
		fmt.Sscanf(sizeStr, "%d", &size)

		if strings.HasPrefix(filename, prefix) {
			data := make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, err
			}
			return &arMember{name: filename, data: data}, nil
		}

		// Skip this file's data
		if _, err := f.Seek(size, io.SeekCurrent); err != nil {
			return nil, err
		}

		// Align to 2-byte boundary
		if size%2 != 0 {
			f.Seek(1, io.SeekCurrent)
		}
	}

	return nil, fmt.Errorf("%s not found in package", prefix)
}

// tarReaderFor wraps member data in the right decompressor based on
// the member's extension.
func tarReaderFor(data []byte, filename string) (*tar.Reader, func(), error) {
	switch {
	case strings.HasSuffix(filename, ".gz"):
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(gr), func() { gr.Close() }, nil
	case strings.HasSuffix(filename, ".xz"):
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(xr), nil, nil
	case strings.HasSuffix(filename, ".zst"):
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(zr), func() { zr.Close() }, nil
	default:
		return tar.NewReader(bytes.NewReader(data)), nil, nil
	}
}

// readTarFile extracts a single file from compressed tar member data.
func readTarFile(data []byte, memberName, fileName string) ([]byte, error) {
	tarReader, closer, err := tarReaderFor(data, memberName)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Name == "./"+fileName || header.Name == fileName {
			return io.ReadAll(tarReader)
		}
	}
	return nil, fmt.Errorf("%s not found in %s", fileName, memberName)
}

// parseControl parses the Debian control file format
func parseControl(data []byte) (*models.Package, error) {
	pkg := &models.Package{
		Fields: make(map[string]string),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var currentKey string
	var currentValue strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Handle continuation lines (start with space)
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			currentValue.WriteString("\n")
			currentValue.WriteString(strings.TrimSpace(line))
			continue
		}

		// Save previous key-value pair
		if currentKey != "" {
			setValue(pkg, currentKey, currentValue.String())
		}

		// Parse new key-value pair
		if strings.Contains(line, ":") {
			parts := strings.SplitN(line, ":", 2)
			currentKey = strings.TrimSpace(parts[0])
			currentValue.Reset()
			if len(parts) > 1 {
				currentValue.WriteString(strings.TrimSpace(parts[1]))
			}
		}
	}

	// Save last key-value pair
	if currentKey != "" {
		setValue(pkg, currentKey, currentValue.String())
	}

	return pkg, scanner.Err()
}

// setValue sets a field in the Package based on the control file key
func setValue(pkg *models.Package, key, value string) {
	switch key {
	case "Package":
		pkg.Name = value
	case "Version":
		pkg.Version = value
	case "Architecture":
		pkg.Architecture = value
	case "Description":
		pkg.Description = value
	case "Maintainer":
		pkg.Maintainer = value
	case "Homepage":
		pkg.Homepage = value
	case "Provides":
		pkg.Provides = value
	case "Depends":
		// Parse dependencies (comma-separated)
		deps := strings.Split(value, ",")
		for _, dep := range deps {
			pkg.Depends = append(pkg.Depends, strings.TrimSpace(dep))
		}
	default:
		// Store other fields verbatim
		pkg.Fields[key] = value
	}
}
