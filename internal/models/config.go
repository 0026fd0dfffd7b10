package models

import (
	"strings"
	"time"
)

// PackageOptions carries per-package settings from the configuration
// file, keyed by the lower-cased source package name.
type PackageOptions struct {
	// Rename maps the package to an explicit Debian name, bypassing
	// the name prefix.
	Rename string `mapstructure:"rename"`

	// NoNamePrefix converts the package under its own (normalized)
	// name without the configured prefix.
	NoNamePrefix bool `mapstructure:"no_name_prefix"`

	// SystemPackage substitutes an existing Debian package for this
	// source package instead of converting it.
	SystemPackage string `mapstructure:"system_package"`

	// BuildHook is a shell command executed in the unpacked source
	// directory before the package is built.
	BuildHook string `mapstructure:"build_hook"`

	// BuildDepends lists Debian packages required to build this
	// package, installed up front when AutoInstall is enabled.
	BuildDepends []string `mapstructure:"build_depends"`

	// ControlFields holds extra fields merged into the generated
	// control paragraph (e.g. "Conflicts", "Breaks").
	ControlFields map[string]string `mapstructure:"control_fields"`
}

// ConversionConfig contains the policy for one conversion run. It is
// fixed for the lifetime of a convert() call and must not be mutated
// concurrently with resolution or building.
type ConversionConfig struct {
	// NamePrefix is prepended to all converted package names.
	NamePrefix string `mapstructure:"name_prefix"`

	// Repository is the directory where produced *.deb archives are
	// collected and looked up.
	Repository string `mapstructure:"repository"`

	// InstallPrefix, when set, installs converted packages under a
	// custom prefix instead of the system-wide Python directories.
	InstallPrefix string `mapstructure:"install_prefix"`

	// Backends is the ordered backend fallback list.
	Backends []string `mapstructure:"backends"`

	// AutoInstall enables automatic installation of build dependencies.
	AutoInstall bool `mapstructure:"auto_install"`

	// MaxDownloadAttempts bounds the acquisition retry loop.
	MaxDownloadAttempts int `mapstructure:"max_download_attempts"`

	// BuildTimeout bounds a single backend invocation. Zero means no
	// timeout.
	BuildTimeout time.Duration `mapstructure:"build_timeout"`

	// RetainBuildDirs keeps per-package build directories around for
	// debugging instead of removing them after conversion.
	RetainBuildDirs bool `mapstructure:"retain_build_dirs"`

	// Packages holds per-package overrides keyed by lower-cased
	// source package name.
	Packages map[string]PackageOptions `mapstructure:"packages"`

	// Signing key for the index command.
	GPGKeyPath    string `mapstructure:"gpg_key"`
	GPGPassphrase string `mapstructure:"gpg_passphrase"`
}

// NameOverrides collects the explicit source-name to Debian-name
// mappings (highest priority during name transformation).
func (c *ConversionConfig) NameOverrides() map[string]string {
	overrides := make(map[string]string)
	for name, opts := range c.Packages {
		if opts.Rename != "" {
			overrides[strings.ToLower(name)] = opts.Rename
		}
	}
	return overrides
}

// SystemPackages collects the source-name to Debian-name substitution
// map for packages that should not be converted.
func (c *ConversionConfig) SystemPackages() map[string]string {
	system := make(map[string]string)
	for name, opts := range c.Packages {
		if opts.SystemPackage != "" {
			system[strings.ToLower(name)] = opts.SystemPackage
		}
	}
	return system
}

// NoPrefixNames collects the names configured to be converted without
// the name prefix.
func (c *ConversionConfig) NoPrefixNames() map[string]bool {
	names := make(map[string]bool)
	for name, opts := range c.Packages {
		if opts.NoNamePrefix {
			names[strings.ToLower(name)] = true
		}
	}
	return names
}

// Options returns the per-package options for a source package name,
// or the zero value if none are configured.
func (c *ConversionConfig) Options(name string) PackageOptions {
	return c.Packages[strings.ToLower(name)]
}
