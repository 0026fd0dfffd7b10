package models

// Dependency is one declared dependency edge of a source package, as
// found in its metadata: a requirement name, an optional version
// specifier and optional extras.
type Dependency struct {
	Name       string
	Constraint string // "==", "!=", "<", ">", "<=", ">=", "~=" or "" for unversioned
	Version    string
	Extras     []string
}

// Requirement is one resolved source package produced by the
// acquisition step. Direct marks requirements that were explicitly
// requested by the caller rather than pulled in transitively.
// Requirements are immutable once created.
type Requirement struct {
	Name      string
	Version   string
	Extras    []string
	Direct    bool
	SourceDir string
	Depends   []Dependency

	// Optional metadata extracted from the source distribution.
	Summary    string
	Homepage   string
	Maintainer string
}
