package solver

import (
	"strings"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// Session resolves requests against a universe, carrying variable activity
// across solves while the catalog hash is unchanged. A hash change resets
// all accumulated state.
type Session struct {
	hash     uint64
	activity map[string]float64
}

// NewSession creates an empty Session.
func NewSession() *Session {
	return &Session{activity: map[string]float64{}}
}

// Resolution is the outcome of a successful solve: the chosen candidate set.
type Resolution struct {
	// Selected maps package names to the chosen candidate.
	Selected map[string]domain.PackageRecord

	// Problem retains the encoding for diagnostics.
	Problem *Problem
}

// Resolve encodes and solves the request. UNSAT returns ErrResolveUnsat
// carrying the rendered conflict core.
func (s *Session) Resolve(u ports.Universe, cfg domain.Config, req Request) (Resolution, error) {
	if u.Hash() != s.hash {
		s.hash = u.Hash()
		s.activity = map[string]float64{}
	}

	b := &Builder{Universe: u, Config: cfg, MaxLearnt: cfg.MaxLearntClauses}
	problem, err := b.Build(req)
	if err != nil {
		return Resolution{}, err
	}

	// Seed this solve with activity accumulated by earlier solves on the
	// same catalog.
	for v, rec := range problem.Records {
		if a, ok := s.activity[rec.ID()]; ok {
			problem.Options.Bias[v] += a
		}
	}

	solver := New(problem.CNF, problem.Options)
	res := solver.Solve(problem.Assumptions)

	for v, rec := range problem.Records {
		s.activity[rec.ID()] = solver.varActivity[v]
	}

	if !res.SAT {
		lines := problem.Explain(res.Core)
		return Resolution{Problem: problem},
			zerr.With(domain.ErrResolveUnsat, "conflicts", strings.Join(lines, "; "))
	}

	selected := map[string]domain.PackageRecord{}
	for v, truth := range res.Model {
		if truth {
			rec := problem.Records[v]
			selected[rec.Name] = rec
		}
	}
	return Resolution{Selected: selected, Problem: problem}, nil
}
