// Package planner turns a solver model into an ordered transaction plan.
package planner

import (
	"sort"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// Planner diffs a resolved model against the installed set and orders the
// resulting operations so dependencies are installed before dependents and
// dependents are removed before dependencies.
type Planner struct {
	Universe ports.Universe
	Logger   ports.Logger
}

// Build classifies each selected candidate as an install or upgrade, turns
// installed packages absent from the model into removals, and attaches
// obsoleted packages to the install that replaces them.
func (p *Planner) Build(selected map[string]domain.PackageRecord, requested []domain.Dependency) domain.Plan {
	installed := map[string]domain.InstalledRecord{}
	for _, rec := range p.Universe.AllInstalled() {
		installed[rec.Name] = rec
	}

	var placing []domain.Operation
	for name, rec := range selected {
		prev, has := installed[name]
		if has && prev.SameIdentity(rec) {
			continue
		}
		op := domain.Operation{Kind: domain.OpInstall, Package: rec, Explicit: p.explicit(rec, requested)}
		if has {
			op.Kind = domain.OpUpgrade
			prevCopy := prev
			op.Previous = &prevCopy
			op.Explicit = op.Explicit || prev.Explicit
		}
		placing = append(placing, op)
	}
	sort.Slice(placing, func(i, j int) bool { return placing[i].Package.Name < placing[j].Package.Name })

	var removing []domain.InstalledRecord
	for name, rec := range installed {
		if _, kept := selected[name]; !kept {
			removing = append(removing, rec)
		}
	}
	sort.Slice(removing, func(i, j int) bool { return removing[i].Name < removing[j].Name })

	removing = p.attachReplacements(placing, removing)

	plan := domain.Plan{Requested: requested}
	plan.Ops = append(plan.Ops, p.orderRemovals(removing)...)
	plan.Ops = append(plan.Ops, p.orderPlacements(placing)...)
	return plan
}

// explicit reports whether rec was named directly in the request.
func (p *Planner) explicit(rec domain.PackageRecord, requested []domain.Dependency) bool {
	for _, dep := range requested {
		if rec.SatisfiesDependency(dep) {
			return true
		}
	}
	return false
}

// attachReplacements moves removed packages matched by an install's obsoletes
// onto that operation's Replaces list and returns the removals left over.
func (p *Planner) attachReplacements(placing []domain.Operation, removing []domain.InstalledRecord) []domain.InstalledRecord {
	taken := map[string]struct{}{}
	for i := range placing {
		for _, dep := range placing[i].Package.Obsoletes {
			for _, rec := range removing {
				if _, done := taken[rec.Name]; done {
					continue
				}
				if rec.SatisfiesDependency(dep) {
					placing[i].Replaces = append(placing[i].Replaces, rec)
					taken[rec.Name] = struct{}{}
				}
			}
		}
	}
	if len(taken) == 0 {
		return removing
	}
	out := removing[:0]
	for _, rec := range removing {
		if _, done := taken[rec.Name]; !done {
			out = append(out, rec)
		}
	}
	return out
}

// depEdge is a requires relation between two plan members. weight carries the
// combined repo priority used when a cycle must be broken.
type depEdge struct {
	from, to string
	weight   int
}

// orderPlacements topologically sorts installs and upgrades so providers come
// before requirers. Ties are broken by name.
func (p *Planner) orderPlacements(ops []domain.Operation) []domain.Operation {
	byName := map[string]domain.Operation{}
	for _, op := range ops {
		byName[op.Package.Name] = op
	}
	edges := placementEdges(ops)
	order := topoOrder(byName, edges, p.Logger)

	out := make([]domain.Operation, 0, len(ops))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// orderRemovals sorts removals so dependents leave before the packages they
// require. The edge direction is the reverse of placement ordering.
func (p *Planner) orderRemovals(recs []domain.InstalledRecord) []domain.Operation {
	byName := map[string]domain.Operation{}
	for _, rec := range recs {
		byName[rec.Name] = domain.Operation{Kind: domain.OpRemove, Package: rec.PackageRecord}
	}
	var edges []depEdge
	for _, rec := range recs {
		for _, dep := range rec.Requires {
			for _, other := range recs {
				if other.Name == rec.Name {
					continue
				}
				if other.SatisfiesDependency(dep) {
					edges = append(edges, depEdge{
						from:   rec.Name,
						to:     other.Name,
						weight: rec.RepoPriority + other.RepoPriority,
					})
				}
			}
		}
	}
	order := topoOrder(byName, edges, p.Logger)

	out := make([]domain.Operation, 0, len(recs))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// placementEdges maps every requires relation inside the plan to a
// provider-before-requirer edge.
func placementEdges(ops []domain.Operation) []depEdge {
	var edges []depEdge
	for _, op := range ops {
		for _, dep := range op.Package.Requires {
			for _, other := range ops {
				if other.Package.Name == op.Package.Name {
					continue
				}
				if other.Package.SatisfiesDependency(dep) {
					edges = append(edges, depEdge{
						from:   other.Package.Name,
						to:     op.Package.Name,
						weight: other.Package.RepoPriority + op.Package.RepoPriority,
					})
				}
			}
		}
	}
	return edges
}

// topoOrder runs Kahn's algorithm with a name-sorted ready set. When no node
// is free the cycle is broken by dropping the edge with the lowest combined
// repo priority, that is the numerically largest weight.
func topoOrder(nodes map[string]domain.Operation, edges []depEdge, log ports.Logger) []string {
	indeg := map[string]int{}
	for name := range nodes {
		indeg[name] = 0
	}
	live := make([]depEdge, 0, len(edges))
	for _, e := range edges {
		if _, ok := nodes[e.from]; !ok {
			continue
		}
		if _, ok := nodes[e.to]; !ok {
			continue
		}
		live = append(live, e)
		indeg[e.to]++
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	done := map[string]struct{}{}
	for len(order) < len(nodes) {
		if len(ready) == 0 {
			weakest := -1
			for i, e := range live {
				if _, over := done[e.from]; over {
					continue
				}
				if weakest < 0 || e.weight > live[weakest].weight ||
					(e.weight == live[weakest].weight && e.from < live[weakest].from) {
					weakest = i
				}
			}
			if weakest < 0 {
				break
			}
			dropped := live[weakest]
			live = append(live[:weakest], live[weakest+1:]...)
			indeg[dropped.to]--
			if log != nil {
				log.Warn("dependency cycle broken", "from", dropped.from, "to", dropped.to)
			}
			if indeg[dropped.to] == 0 {
				ready = append(ready, dropped.to)
				sort.Strings(ready)
			}
			continue
		}

		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		done[name] = struct{}{}
		for i, e := range live {
			if e.from != name || e.weight < 0 {
				continue
			}
			live[i].weight = -1
			indeg[e.to]--
			if indeg[e.to] == 0 {
				ready = append(ready, e.to)
			}
		}
		sort.Strings(ready)
	}
	return order
}
