package naming

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// Transformer converts Python package identities into Debian package
// identities under a fixed policy. Transformed names are cached per
// instance so repeated lookups during resolution stay cheap without
// leaking state across runs.
type Transformer struct {
	prefix    string
	overrides map[string]string
	system    map[string]string
	noPrefix  map[string]bool

	mu    sync.Mutex
	cache map[string]string
}

// NewTransformer creates a Transformer. The overrides map has the
// highest priority, the system map names pre-existing Debian packages
// that are substituted instead of converted, and noPrefix lists
// packages converted under their own name.
func NewTransformer(prefix string, overrides, system map[string]string, noPrefix map[string]bool) *Transformer {
	return &Transformer{
		prefix:    prefix,
		overrides: overrides,
		system:    system,
		noPrefix:  noPrefix,
		cache:     make(map[string]string),
	}
}

// IsSystemPackage reports whether a source package is mapped to an
// existing Debian package and returns that package's name.
func (t *Transformer) IsSystemPackage(name string) (string, bool) {
	debianName, ok := t.system[strings.ToLower(name)]
	return debianName, ok
}

// Name converts a Python package name (plus any extras) to a Debian
// package name. The conversion is idempotent: feeding a converted
// name back in with the same policy yields the same string.
func (t *Transformer) Name(name string, extras ...string) string {
	key := strings.ToLower(name) + "\x00" + strings.Join(extras, "\x00")
	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.cache[key]; ok {
		return cached
	}
	converted := t.convertName(name, extras)
	t.cache[key] = converted
	return converted
}

func (t *Transformer) convertName(name string, extras []string) string {
	lowered := strings.ToLower(name)

	// System packages keep their configured name as-is: they exist in
	// the target distribution already and are never prefixed.
	if debianName, ok := t.system[lowered]; ok {
		return debianName
	}

	debianName := ""
	switch {
	case t.overrides[lowered] != "":
		debianName = t.overrides[lowered]
	case t.noPrefix[lowered]:
		debianName = lowered
	default:
		debianName = t.prefix + "-" + name
	}

	debianName = NormalizeName(debianName)
	debianName = strings.Join(compactRepeatingWords(strings.Split(debianName, "-")), "-")

	// Debian has no concept of extras, so their names are encoded
	// into the package name.
	if len(extras) > 0 {
		words := []string{debianName}
		for _, extra := range extras {
			words = append(words, strings.ToLower(extra))
		}
		sort.Strings(words[1:])
		debianName = NormalizeName(strings.Join(words, "-"))
	}
	return debianName
}

// NormalizeName lower-cases a package name and replaces every run of
// characters outside [a-z0-9] with a single dash.
func NormalizeName(name string) string {
	return strings.Trim(invalidNameChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// NamesMatch reports whether two Python package names refer to the
// same package, ignoring case and dashes versus underscores.
func NamesMatch(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// compactRepeatingWords removes immediately adjacent repeated words so
// that prefixing "python-debian" with "python" does not produce
// "python-python-debian". Non-adjacent repeats are preserved.
func compactRepeatingWords(words []string) []string {
	compacted := make([]string, 0, len(words))
	last := ""
	for i, word := range words {
		if i == 0 || word != last {
			compacted = append(compacted, word)
		}
		last = word
	}
	return compacted
}
