package naming

import (
	"reflect"
	"testing"
)

func TestVersionConversion(t *testing.T) {
	tests := []struct {
		version  string
		expected string
	}{
		// Pre-release identifiers sort before the final release
		// thanks to the tilde.
		{"1.0a2", "1.0~a2"},
		{"1.0b1", "1.0~b1"},
		{"1.0rc9", "1.0~rc9"},
		// The 'c' identifier is a release candidate.
		{"1.0c2", "1.0~rc2"},
		// Invalid characters become dashes.
		{"1.5_42", "1.5-42"},
		{"2014.04.08", "2014.04.08"},
		// A Debian revision without a digit gets a synthetic one.
		{"1.5-whatever", "1.5-whatever-1"},
		// Local version labels are not normalized.
		{"1.2.3+gAbC123", "1.2.3+gAbC123"},
		{"1.0B2+Deadbeef", "1.0~b2+Deadbeef"},
	}

	transformer := NewTransformer("python", nil, nil, nil)
	for _, tt := range tests {
		if got := transformer.Version(tt.version); got != tt.expected {
			t.Errorf("Version(%q) = %q, want %q", tt.version, got, tt.expected)
		}
	}
}

func TestTokenizeVersion(t *testing.T) {
	tests := []struct {
		version  string
		expected []string
	}{
		{"1.30.0", []string{"1", ".", "30", ".", "0"}},
		{"1.30", []string{"1", ".", "30"}},
		{"2.0rc1", []string{"2", ".", "0", "rc", "1"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := TokenizeVersion(tt.version); !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("TokenizeVersion(%q) = %v, want %v", tt.version, got, tt.expected)
		}
	}
}
