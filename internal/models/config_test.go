package models

import (
	"errors"
	"testing"
)

var errOriginal = errors.New("pip download failed")

func TestOptionsLookupIsCaseInsensitive(t *testing.T) {
	config := &ConversionConfig{
		Packages: map[string]PackageOptions{
			"MySQL-python": {BuildHook: "touch hooked"},
		},
	}
	if config.Options("mysql-python").BuildHook != "touch hooked" {
		t.Error("options should be found regardless of case")
	}
	if config.Options("unknown").BuildHook != "" {
		t.Error("unknown packages should yield zero options")
	}
}

func TestConfigIndexesAreLowercased(t *testing.T) {
	config := &ConversionConfig{
		Packages: map[string]PackageOptions{
			"DBus-Python": {SystemPackage: "python-dbus"},
			"ColoredLogs": {Rename: "custom-name"},
			"Pip-Accel":   {NoNamePrefix: true},
		},
	}
	if got := config.SystemPackages()["dbus-python"]; got != "python-dbus" {
		t.Errorf("system package index not lowercased: %v", config.SystemPackages())
	}
	if got := config.NameOverrides()["coloredlogs"]; got != "custom-name" {
		t.Errorf("rename index not lowercased: %v", config.NameOverrides())
	}
	if !config.NoPrefixNames()["pip-accel"] {
		t.Errorf("no-prefix index not lowercased: %v", config.NoPrefixNames())
	}
}

func TestConvertErrorUnwrap(t *testing.T) {
	inner := &ConvertError{Type: ErrBuild, Package: "six 1.6.1", Err: errOriginal}
	if inner.Unwrap() != errOriginal {
		t.Error("Unwrap should expose the underlying error")
	}
	if inner.Error() == "" {
		t.Error("Error should render a message")
	}
}
