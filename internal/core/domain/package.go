package domain

import (
	"fmt"
	"strings"
	"time"

	"go.trai.ch/zerr"
)

// Origin identifies where a package record was loaded from.
type Origin string

const (
	// OriginRepository marks a record loaded from a repository index.
	OriginRepository Origin = "repository"

	// OriginInstalled marks a record loaded from the installed database.
	OriginInstalled Origin = "installed"

	// OriginLocalFile marks a record extracted from a local archive file.
	OriginLocalFile Origin = "local-file"
)

// Dependency is a single requirement, capability, or conflict entry such as
// "libz >= 1.2" or the bare "openssl".
type Dependency struct {
	Name       string
	Constraint Constraint
}

// ParseDependency parses a dependency expression of the form "name" or
// "name OP version".
func ParseDependency(s string) (Dependency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Dependency{}, zerr.With(ErrInvalidConstraint, "dependency", s)
	}
	idx := strings.IndexAny(s, "=~<>!")
	if idx < 0 {
		return Dependency{Name: s}, nil
	}
	name := strings.TrimSpace(s[:idx])
	if name == "" {
		return Dependency{}, zerr.With(ErrInvalidConstraint, "dependency", s)
	}
	c, err := ParseConstraint(s[idx:])
	if err != nil {
		return Dependency{}, zerr.With(err, "dependency", s)
	}
	return Dependency{Name: name, Constraint: c}, nil
}

// String renders the dependency as it appears in repository indexes.
func (d Dependency) String() string {
	if d.Constraint.IsZero() {
		return d.Name
	}
	return d.Name + " " + d.Constraint.String()
}

// Capability is a provides entry, either a bare name or "name(arg)" with an
// optional version.
type Capability struct {
	Name    string
	Version Version
}

// ParseCapability parses a provides entry of the form "name", "name(arg)",
// or either followed by "= version".
func ParseCapability(s string) (Capability, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Capability{}, zerr.With(ErrInvalidConstraint, "capability", s)
	}
	name := s
	var ver Version
	if idx := strings.Index(s, "="); idx >= 0 {
		name = strings.TrimSpace(s[:idx])
		v, err := ParseVersion(s[idx+1:])
		if err != nil {
			return Capability{}, zerr.With(err, "capability", s)
		}
		ver = v
	}
	if name == "" {
		return Capability{}, zerr.With(ErrInvalidConstraint, "capability", s)
	}
	return Capability{Name: name, Version: ver}, nil
}

// String renders the capability as it appears in repository indexes.
func (c Capability) String() string {
	if c.Version.IsZero() {
		return c.Name
	}
	return c.Name + " = " + c.Version.String()
}

// ArchNoarch is the universally compatible architecture token.
const ArchNoarch = "noarch"

// PackageRecord is a catalog entry: one installable candidate from a
// repository index, the installed database, or a local archive.
type PackageRecord struct {
	Name     string  `json:"name"`
	Version  Version `json:"-"`
	Release  int     `json:"release"`
	Arch     string  `json:"arch"`
	Summary  string  `json:"summary,omitempty"`
	Homepage string  `json:"homepage,omitempty"`
	License  string  `json:"license,omitempty"`

	Requires   []Dependency `json:"-"`
	Provides   []Capability `json:"-"`
	Conflicts  []Dependency `json:"-"`
	Obsoletes  []Dependency `json:"-"`
	Recommends []Dependency `json:"-"`
	Suggests   []Dependency `json:"-"`

	BlobName   string `json:"blob,omitempty"`
	BlobSize   int64  `json:"size,omitempty"`
	BlobSHA256 string `json:"sha256,omitempty"`
	Signature  string `json:"signature,omitempty"`

	RepoName     string  `json:"-"`
	RepoPriority int     `json:"-"`
	Bias         float64 `json:"bias,omitempty"`
	Decay        float64 `json:"decay,omitempty"`

	Origin Origin `json:"-"`
}

// ID returns the unique package identity "name-version-release.arch".
func (p PackageRecord) ID() string {
	return fmt.Sprintf("%s-%s-%d.%s", p.Name, p.Version, p.Release, p.Arch)
}

// NVR returns "name-version-release" without the architecture.
func (p PackageRecord) NVR() string {
	return fmt.Sprintf("%s-%s-%d", p.Name, p.Version, p.Release)
}

// SameIdentity reports whether two records denote the same artifact.
func (p PackageRecord) SameIdentity(o PackageRecord) bool {
	return p.Name == o.Name && p.Version.Compare(o.Version) == 0 &&
		p.Release == o.Release && p.Arch == o.Arch
}

// CompatibleWith reports whether the record's architecture can run on the
// given host architecture.
func (p PackageRecord) CompatibleWith(hostArch string) bool {
	return p.Arch == ArchNoarch || p.Arch == hostArch
}

// SatisfiesDependency reports whether this record satisfies the requirement,
// either by its own name and version or by one of its provides entries.
func (p PackageRecord) SatisfiesDependency(d Dependency) bool {
	if p.Name == d.Name && d.Constraint.Satisfies(p.Version) {
		return true
	}
	for _, cap := range p.Provides {
		if cap.Name != d.Name {
			continue
		}
		if d.Constraint.IsZero() {
			return true
		}
		if !cap.Version.IsZero() && d.Constraint.Satisfies(cap.Version) {
			return true
		}
		if cap.Version.IsZero() && d.Constraint.Satisfies(p.Version) {
			return true
		}
	}
	return false
}

// InstalledRecord is a PackageRecord augmented with installation state.
type InstalledRecord struct {
	PackageRecord

	InstallTime time.Time
	Explicit    bool
	ManifestID  int64
}

// IsMeta reports whether the record describes a meta-package: no payload
// entries beyond its own metadata, with at least one requirement.
func IsMeta(manifest Manifest, requires []Dependency) bool {
	if len(requires) == 0 {
		return false
	}
	for _, e := range manifest.Entries {
		if !strings.HasPrefix(e.Path, ".lpm/") && e.Path != ".lpm" {
			return false
		}
	}
	return true
}
