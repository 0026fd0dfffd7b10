package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/ralt/pipdeb/internal/acquire"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/naming"
	"github.com/sirupsen/logrus"
)

// Resolver turns a root set of requirement expressions into the set
// of conversion candidates that actually need to be built, applying
// system-package substitution and version-munging correction.
type Resolver struct {
	acquirer    acquire.Acquirer
	config      *models.ConversionConfig
	transformer *naming.Transformer
}

// New creates a Resolver.
func New(acquirer acquire.Acquirer, config *models.ConversionConfig, transformer *naming.Transformer) *Resolver {
	return &Resolver{
		acquirer:    acquirer,
		config:      config,
		transformer: transformer,
	}
}

// Resolve fetches the root requirements plus their transitive
// dependencies and partitions the result into the directly requested
// candidates and the full set to build. Requirements satisfied by a
// system package yield no candidate; their substitution is applied
// when dependency relationships are rendered.
func (r *Resolver) Resolve(ctx context.Context, expressions []string) (primary, toBuild []*Candidate, err error) {
	requirements, err := r.acquirer.FetchAndUnpack(ctx, expressions)
	if err != nil {
		return nil, nil, &models.ConvertError{
			Type: models.ErrAcquisition,
			Err:  err,
		}
	}

	for _, requirement := range requirements {
		if debianName, ok := r.transformer.IsSystemPackage(requirement.Name); ok {
			logrus.Infof("%s is satisfied by the system package %s and will not be built",
				requirement.Name, debianName)
			continue
		}
		toBuild = append(toBuild, NewCandidate(requirement, r.config, r.transformer))
	}

	if err := r.correctMungedVersions(toBuild); err != nil {
		return nil, nil, err
	}

	// Stable order for reproducible logs and artifact listings.
	sort.Slice(toBuild, func(i, j int) bool {
		return toBuild[i].DebianName() < toBuild[j].DebianName()
	})

	for _, candidate := range toBuild {
		if candidate.Direct {
			primary = append(primary, candidate)
		}
	}

	logrus.Infof("Resolved %d packages to build (%d requested directly)", len(toBuild), len(primary))
	return primary, toBuild, nil
}

// correctMungedVersions rewrites dependency versions that pip has
// satisfied with a package whose version string drops trailing zeros
// (requiring exactly 1.0.0 when the resolved package calls itself
// 1.0). Without the correction the converted dependency would be
// unsatisfiable.
func (r *Resolver) correctMungedVersions(candidates []*Candidate) error {
	for _, candidate := range candidates {
		for i, dep := range candidate.Depends {
			if dep.Version == "" {
				continue
			}
			var matches []*Candidate
			for _, other := range candidates {
				if naming.NamesMatch(other.SourceName, dep.Name) {
					matches = append(matches, other)
				}
			}
			if len(matches) > 1 {
				return &models.ConvertError{
					Type:    models.ErrResolution,
					Package: candidate.String(),
					Err: fmt.Errorf("%d resolved packages match the dependency %q; the requirement set is inconsistent",
						len(matches), dep.Name),
				}
			}
			if len(matches) != 1 || matches[0].SourceVersion == dep.Version {
				continue
			}
			if versionsMungedEqual(matches[0].SourceVersion, dep.Version) {
				logrus.Debugf("Rewriting munged dependency version of %s: %s %s -> %s",
					candidate.SourceName, dep.Name, dep.Version, matches[0].SourceVersion)
				candidate.Depends[i].Version = matches[0].SourceVersion
			}
		}
	}
	return nil
}

// versionsMungedEqual reports whether required differs from resolved
// only by trailing zero-valued tokens, comparing the alternating
// digit and non-digit runs of both version strings.
func versionsMungedEqual(resolved, required string) bool {
	resolvedTokens := naming.TokenizeVersion(resolved)
	requiredTokens := naming.TokenizeVersion(required)
	if len(requiredTokens) <= len(resolvedTokens) {
		return false
	}
	for i, token := range resolvedTokens {
		if requiredTokens[i] != token {
			return false
		}
	}
	for _, token := range requiredTokens[len(resolvedTokens):] {
		if !isZeroToken(token) {
			return false
		}
	}
	return true
}

// isZeroToken accepts separator tokens and all-zero digit runs.
func isZeroToken(token string) bool {
	for _, ch := range token {
		if ch >= '1' && ch <= '9' {
			return false
		}
	}
	return true
}
