package domain

import (
	"strconv"
	"strings"

	"go.trai.ch/zerr"
)

// Version is a parsed dotted package version such as "1.24.3" or "2.0.rc1".
// Components alternate between numeric and alphabetic runs; "1a2" splits
// into three components.
type Version struct {
	raw   string
	parts []versionPart
}

type versionPart struct {
	num     uint64
	alpha   string
	numeric bool
}

// ParseVersion parses a dotted version string. Each dot-separated segment is
// split further into alternating numeric and alphabetic runs.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, zerr.With(ErrInvalidVersion, "version", s)
	}
	v := Version{raw: s}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return Version{}, zerr.With(ErrInvalidVersion, "version", s)
		}
		start := 0
		for start < len(seg) {
			end := start
			numeric := isDigit(seg[start])
			for end < len(seg) && isDigit(seg[end]) == numeric {
				end++
			}
			run := seg[start:end]
			if numeric {
				n, err := strconv.ParseUint(run, 10, 64)
				if err != nil {
					return Version{}, zerr.With(ErrInvalidVersion, "version", s)
				}
				v.parts = append(v.parts, versionPart{num: n, numeric: true})
			} else {
				for i := 0; i < len(run); i++ {
					c := run[i]
					if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '-' || c == '_' || c == '+' || c == '~') {
						return Version{}, zerr.With(ErrInvalidVersion, "version", s)
					}
				}
				v.parts = append(v.parts, versionPart{alpha: run})
			}
			start = end
		}
	}
	return v, nil
}

// MustParseVersion parses a version and panics on failure. Intended for
// literals in tests and defaults.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// String returns the original version string.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.raw == "" }

// Compare orders two versions component-wise. Numeric components compare by
// integer value, alphabetic ones lexically, and a numeric component outranks
// an alphabetic one at the same position. When one version is a prefix of
// the other, extra numeric zero components are ignored ("1.0" equals
// "1.0.0"); any other extra component makes the longer one larger.
func (v Version) Compare(o Version) int {
	n := len(v.parts)
	if len(o.parts) > n {
		n = len(o.parts)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(v.parts):
			if o.parts[i].numeric && o.parts[i].num == 0 {
				continue
			}
			return -1
		case i >= len(o.parts):
			if v.parts[i].numeric && v.parts[i].num == 0 {
				continue
			}
			return 1
		}
		if c := v.parts[i].compare(o.parts[i]); c != 0 {
			return c
		}
	}
	return 0
}

func (p versionPart) compare(o versionPart) int {
	switch {
	case p.numeric && o.numeric:
		switch {
		case p.num < o.num:
			return -1
		case p.num > o.num:
			return 1
		}
		return 0
	case p.numeric:
		return 1
	case o.numeric:
		return -1
	}
	return strings.Compare(p.alpha, o.alpha)
}

// ConstraintOp is a version comparison operator in a dependency expression.
type ConstraintOp string

// Constraint operators in match order. Longer operators are listed first so
// that ">=" is not read as ">".
const (
	OpCompatible ConstraintOp = "~="
	OpGE         ConstraintOp = ">="
	OpLE         ConstraintOp = "<="
	OpNE         ConstraintOp = "!="
	OpEQ         ConstraintOp = "="
	OpGT         ConstraintOp = ">"
	OpLT         ConstraintOp = "<"
)

var constraintOps = []ConstraintOp{OpCompatible, OpGE, OpLE, OpNE, OpEQ, OpGT, OpLT}

// Constraint restricts acceptable versions of a dependency. The zero
// Constraint matches every version.
type Constraint struct {
	Op      ConstraintOp
	Version Version
}

// IsZero reports whether the constraint matches everything.
func (c Constraint) IsZero() bool { return c.Op == "" }

// String renders the constraint as it appears in dependency expressions.
func (c Constraint) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.Op) + c.Version.String()
}

// ParseConstraint parses an operator-prefixed version such as ">=1.2" or
// "~=3.3.1".
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Constraint{}, nil
	}
	for _, op := range constraintOps {
		if strings.HasPrefix(s, string(op)) {
			v, err := ParseVersion(strings.TrimSpace(s[len(op):]))
			if err != nil {
				return Constraint{}, zerr.Wrap(err, ErrInvalidConstraint.Error())
			}
			return Constraint{Op: op, Version: v}, nil
		}
	}
	return Constraint{}, zerr.With(ErrInvalidConstraint, "constraint", s)
}

// Satisfies reports whether v is accepted by the constraint.
func (c Constraint) Satisfies(v Version) bool {
	if c.IsZero() {
		return true
	}
	cmp := v.Compare(c.Version)
	switch c.Op {
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpCompatible:
		return c.compatible(v)
	}
	return false
}

// compatible implements "~=": every component of the right operand except
// the last must match exactly, and the last acts as a floor.
func (c Constraint) compatible(v Version) bool {
	ref := c.Version.parts
	if len(ref) == 0 {
		return true
	}
	prefix := ref[:len(ref)-1]
	if len(v.parts) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if p.compare(v.parts[i]) != 0 {
			return false
		}
	}
	return v.Compare(c.Version) >= 0
}

// CompareIdentity orders two (version, release) pairs, release as the
// tiebreaker.
func CompareIdentity(av Version, ar int, bv Version, br int) int {
	if c := av.Compare(bv); c != 0 {
		return c
	}
	switch {
	case ar < br:
		return -1
	case ar > br:
		return 1
	}
	return 0
}
