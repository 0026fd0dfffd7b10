package naming

import (
	"regexp"
	"strings"
)

var (
	invalidVersionChars = regexp.MustCompile(`[^a-z0-9.+]+`)
	candidateMarker     = regexp.MustCompile(`(\d)c(\d)`)
	prereleaseMarker    = regexp.MustCompile(`(\d)(a|b|rc)(\d)`)
	anyDigit            = regexp.MustCompile(`[0-9]`)
	digitRuns           = regexp.MustCompile(`[0-9]+`)
)

// Version converts a Python package version into a version string
// that complies with the Debian policy manual. All characters except
// alphanumerics, dot and plus are replaced with dashes.
//
// The PEP 440 pre-release identifiers 'a', 'b', 'c' and 'rc' are
// prefixed with a tilde to replicate the intended ordering under the
// Debian version comparator (a tilde sorts before anything, so
// 1.0~rc1 precedes 1.0); the identifier 'c' is translated into 'rc'.
func (t *Transformer) Version(version string) string {
	// Local version labels (PEP 440) may contain strings such as SCM
	// hashes that must not be altered, so only the public version
	// identifier is normalized.
	public, local, _ := strings.Cut(version, "+")
	public = strings.Trim(invalidVersionChars.ReplaceAllString(strings.ToLower(public), "-"), "-")
	public = candidateMarker.ReplaceAllString(public, "${1}rc${2}")
	public = prereleaseMarker.ReplaceAllString(public, "${1}~${2}${3}")
	if local != "" {
		public = public + "+" + local
	}
	// dpkg and apt abort on a Debian revision without a digit, so a
	// synthetic revision is appended when the trailing component has
	// none.
	if strings.Contains(public, "-") {
		components := strings.Split(public, "-")
		if !anyDigit.MatchString(components[len(components)-1]) {
			public += "-1"
		}
	}
	return public
}

// TokenizeVersion splits a version string into its alternating
// non-digit and digit runs, dropping empty tokens.
func TokenizeVersion(version string) []string {
	var tokens []string
	last := 0
	for _, loc := range digitRuns.FindAllStringIndex(version, -1) {
		if loc[0] > last {
			tokens = append(tokens, version[last:loc[0]])
		}
		tokens = append(tokens, version[loc[0]:loc[1]])
		last = loc[1]
	}
	if last < len(version) {
		tokens = append(tokens, version[last:])
	}
	return tokens
}
