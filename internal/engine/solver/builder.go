package solver

import (
	"fmt"
	"sort"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// preferBias is added to the activity of candidates matching a prefer pin so
// the solver branches toward them without excluding alternatives.
const preferBias = 10.0

// Request is the user goal handed to the resolver.
type Request struct {
	// Install lists packages to add, with optional constraints.
	Install []domain.Dependency

	// Remove lists installed packages to uninstall.
	Remove []string

	// Upgrade lists installed packages to move to a newer candidate. An
	// empty list with UpgradeAll upgrades everything.
	Upgrade    []string
	UpgradeAll bool

	// Force drops hold and protected unit clauses.
	Force bool
}

// Problem is an encoded resolution instance.
type Problem struct {
	CNF         *CNF
	Assumptions []Lit
	Options     Options

	// Records maps variables to their catalog entries.
	Records map[int]domain.PackageRecord

	// Reasons annotates unit and assumption literals for UNSAT core
	// rendering.
	Reasons map[Lit]string
}

// Explain renders an UNSAT core as human-readable conflict lines.
func (p *Problem) Explain(core []Lit) []string {
	var out []string
	for _, lit := range core {
		if reason, ok := p.Reasons[lit]; ok {
			out = append(out, reason)
			continue
		}
		if reason, ok := p.Reasons[lit.Neg()]; ok {
			out = append(out, reason)
			continue
		}
		if rec, ok := p.Records[lit.Var()]; ok {
			if lit.Sign() {
				out = append(out, "requires "+rec.ID())
			} else {
				out = append(out, "excludes "+rec.ID())
			}
		}
	}
	sort.Strings(out)
	return dedupeStrings(out)
}

// Builder encodes a universe and a request into CNF.
type Builder struct {
	Universe  ports.Universe
	Config    domain.Config
	MaxLearnt int
}

// Build translates the catalog, the request, pins, and the protected set
// into clauses, assumptions, and branching preferences.
func (b *Builder) Build(req Request) (*Problem, error) {
	cnf := NewCNF()
	p := &Problem{
		CNF:     cnf,
		Records: map[int]domain.PackageRecord{},
		Reasons: map[Lit]string{},
	}
	opts := Options{
		PreferFalse: map[int]struct{}{},
		PreferTrue:  map[int]struct{}{},
		Bias:        map[int]float64{},
		Decay:       map[int]float64{},
		MaxLearnts:  b.MaxLearnt,
	}

	names := b.candidateNames(req)
	candidates := map[string][]domain.PackageRecord{}
	// Grow the reachable candidate set to a fixpoint so requires
	// disjunctions always have variables to point at.
	queue := names
	seen := map[string]struct{}{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, done := seen[name]; done {
			continue
		}
		seen[name] = struct{}{}
		cands := b.compatible(b.Universe.Candidates(name))
		candidates[name] = cands
		for _, rec := range cands {
			for _, dep := range rec.Requires {
				for _, prov := range b.Universe.Providers(dep) {
					if _, done := seen[prov.Name]; !done {
						queue = append(queue, prov.Name)
					}
				}
			}
			for _, dep := range append(append([]domain.Dependency{}, rec.Conflicts...), rec.Obsoletes...) {
				for _, prov := range b.Universe.Providers(dep) {
					if _, done := seen[prov.Name]; !done {
						queue = append(queue, prov.Name)
					}
				}
			}
		}
	}

	// Stable variable order: name ascending, then newest version, lowest
	// release, best repo. Candidates() already yields that order per name.
	ordered := make([]string, 0, len(candidates))
	for name := range candidates {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)
	for _, name := range ordered {
		for _, rec := range candidates[name] {
			v := cnf.NewVar(rec.ID())
			p.Records[v] = rec
			opts.PreferFalse[v] = struct{}{}
			if rec.Bias != 0 {
				opts.Bias[v] += rec.Bias
			}
			if rec.Decay > 0 {
				opts.Decay[v] = rec.Decay
			}
			if c, ok := b.Config.Pins.Preference(rec.Name); ok && c.Satisfies(rec.Version) {
				opts.Bias[v] += preferBias
			}
		}
	}

	varOf := func(rec domain.PackageRecord) int { return cnf.Var(rec.ID()) }

	// At-most-one candidate per name.
	for _, name := range ordered {
		cands := candidates[name]
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				cnf.Add([]Lit{Lit(-varOf(cands[i])), Lit(-varOf(cands[j]))})
			}
		}
	}

	// Requires, conflicts, obsoletes per candidate.
	for _, name := range ordered {
		for _, rec := range candidates[name] {
			x := varOf(rec)
			for _, dep := range rec.Requires {
				clause := []Lit{Lit(-x)}
				for _, prov := range b.compatible(b.Universe.Providers(dep)) {
					if y := varOf(prov); y != 0 && prov.Name != rec.Name {
						clause = append(clause, Lit(y))
					}
				}
				if len(clause) == 1 {
					p.Reasons[Lit(-x)] = fmt.Sprintf("%s requires %s which no candidate provides", rec.ID(), dep)
				}
				cnf.Add(clause)
			}
			for _, dep := range append(append([]domain.Dependency{}, rec.Conflicts...), rec.Obsoletes...) {
				for _, other := range b.compatible(b.Universe.Providers(dep)) {
					y := varOf(other)
					if y == 0 || other.Name == rec.Name {
						continue
					}
					cnf.Add([]Lit{Lit(-x), Lit(-y)})
				}
			}
		}
	}

	// User goals.
	for _, dep := range req.Install {
		clause := make([]Lit, 0, 4)
		for _, prov := range b.compatible(b.Universe.Providers(dep)) {
			if v := varOf(prov); v != 0 {
				clause = append(clause, Lit(v))
				opts.PreferTrue[v] = struct{}{}
			}
		}
		if len(clause) == 0 {
			return nil, zerr.With(domain.ErrPackageNotFound, "package", dep.String())
		}
		cnf.Add(clause)
		for _, lit := range clause {
			p.Reasons[lit] = "requested install of " + dep.String()
		}
	}

	upgradeTargets := req.Upgrade
	if req.UpgradeAll {
		upgradeTargets = nil
		for _, rec := range b.Universe.AllInstalled() {
			upgradeTargets = append(upgradeTargets, rec.Name)
		}
	}
	upgrading := map[string]struct{}{}
	for _, name := range upgradeTargets {
		inst, ok := b.Universe.Installed(name)
		if !ok {
			if req.UpgradeAll {
				continue
			}
			return nil, zerr.With(domain.ErrNotInstalled, "package", name)
		}
		newer := make([]Lit, 0, 2)
		for _, cand := range candidates[name] {
			if domain.CompareIdentity(cand.Version, cand.Release, inst.Version, inst.Release) > 0 {
				if v := varOf(cand); v != 0 {
					newer = append(newer, Lit(v))
					opts.PreferTrue[v] = struct{}{}
				}
			}
		}
		if len(newer) == 0 {
			continue
		}
		upgrading[name] = struct{}{}
		cnf.Add(newer)
		for _, lit := range newer {
			p.Reasons[lit] = fmt.Sprintf("requested upgrade of %s beyond %s-%d", name, inst.Version, inst.Release)
		}
	}

	removing := map[string]struct{}{}
	for _, name := range req.Remove {
		inst, ok := b.Universe.Installed(name)
		if !ok {
			return nil, zerr.With(domain.ErrNotInstalled, "package", name)
		}
		v := varOf(inst.PackageRecord)
		if v == 0 {
			continue
		}
		removing[name] = struct{}{}
		cnf.Add([]Lit{Lit(-v)})
		p.Reasons[Lit(-v)] = "requested removal of " + name
	}

	// Holds and protected installs become unit clauses unless forced.
	if !req.Force {
		for name := range b.Config.Pins.Hold {
			inst, ok := b.Universe.Installed(name)
			if !ok {
				continue
			}
			if v := varOf(inst.PackageRecord); v != 0 {
				cnf.Add([]Lit{Lit(v)})
				p.Reasons[Lit(v)] = "hold pin on " + name
			}
		}
		for name := range removing {
			if !b.Config.Protected.Contains(name) {
				continue
			}
			inst, _ := b.Universe.Installed(name)
			if v := varOf(inst.PackageRecord); v != 0 {
				cnf.Add([]Lit{Lit(v)})
				p.Reasons[Lit(v)] = "protected package " + name
			}
		}
	}

	// Installed packages are soft-preferred via assumptions, retracted for
	// anything being upgraded or removed.
	for _, inst := range b.Universe.AllInstalled() {
		if _, up := upgrading[inst.Name]; up {
			continue
		}
		if _, rm := removing[inst.Name]; rm {
			continue
		}
		if v := varOf(inst.PackageRecord); v != 0 {
			p.Assumptions = append(p.Assumptions, Lit(v))
			opts.PreferTrue[v] = struct{}{}
			p.Reasons[Lit(v)] = "installed package " + inst.Name
		}
	}

	p.Options = opts
	return p, nil
}

// candidateNames seeds the reachability scan with the request and the
// installed set.
func (b *Builder) candidateNames(req Request) []string {
	var names []string
	for _, dep := range req.Install {
		for _, prov := range b.Universe.Providers(dep) {
			names = append(names, prov.Name)
		}
	}
	names = append(names, req.Remove...)
	names = append(names, req.Upgrade...)
	for _, rec := range b.Universe.AllInstalled() {
		names = append(names, rec.Name)
	}
	return names
}

// compatible filters candidates to those runnable on the configured
// architecture.
func (b *Builder) compatible(recs []domain.PackageRecord) []domain.PackageRecord {
	out := make([]domain.PackageRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.CompatibleWith(b.Config.Arch) {
			out = append(out, rec)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	out := in[:0]
	var last string
	for i, s := range in {
		if i == 0 || s != last {
			out = append(out, s)
		}
		last = s
	}
	return out
}
