package models

// Package represents a Debian binary package with its metadata
type Package struct {
	// Core metadata
	Name         string
	Version      string
	Architecture string
	Description  string
	Maintainer   string
	Homepage     string
	Depends      []string
	Provides     string

	// File information
	Filename  string
	Size      int64
	MD5Sum    string
	SHA1Sum   string
	SHA256Sum string

	// Extra control fields not covered above
	Fields map[string]string
}
