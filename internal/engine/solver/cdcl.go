package solver

import "sort"

// Solver constants. Variable decay may be overridden per variable via the
// catalog's decay field.
const (
	DefaultVarDecay    = 0.95
	DefaultClauseDecay = 0.999
	LubyUnit           = 32
	DefaultMaxLearnts  = 200
)

// Result is the outcome of one solve call.
type Result struct {
	SAT bool

	// Model maps every variable to its assignment when SAT.
	Model map[int]bool

	// Core lists the level-zero literals forming the conflict when UNSAT.
	Core []Lit
}

// Options tune a Solver instance.
type Options struct {
	// PreferFalse lists variables branched negative on first decision.
	PreferFalse map[int]struct{}

	// PreferTrue overrides PreferFalse for the listed variables.
	PreferTrue map[int]struct{}

	// Bias seeds initial variable activity.
	Bias map[int]float64

	// Decay overrides the variable activity decay factor per variable.
	Decay map[int]float64

	// MaxLearnts caps the learned clause database. Zero means the default.
	MaxLearnts int
}

// Solver is a conflict-driven clause-learning SAT solver with VSIDS
// branching, phase saving, Luby restarts, and learned-clause deletion.
// Activity state persists across solve calls on the same instance.
type Solver struct {
	cnf  *CNF
	opts Options

	varActivity []float64
	savedPhase  []int8
	varInc      float64
	varDecay    float64
	claInc      float64
	claDecay    float64
	maxLearnts  int
}

// New creates a Solver over the clause database.
func New(cnf *CNF, opts Options) *Solver {
	maxLearnts := opts.MaxLearnts
	if maxLearnts <= 0 {
		maxLearnts = DefaultMaxLearnts
	}
	s := &Solver{
		cnf:        cnf,
		opts:       opts,
		varInc:     1.0,
		varDecay:   DefaultVarDecay,
		claInc:     1.0,
		claDecay:   DefaultClauseDecay,
		maxLearnts: maxLearnts,
	}
	s.grow()
	for v, b := range opts.Bias {
		s.varActivity[v] = b
	}
	return s
}

func (s *Solver) grow() {
	n := s.cnf.NumVars() + 1
	for len(s.varActivity) < n {
		s.varActivity = append(s.varActivity, 0)
	}
	for len(s.savedPhase) < n {
		s.savedPhase = append(s.savedPhase, -1)
	}
}

// luby returns the i-th value of the Luby restart sequence, 1-based.
func luby(i int) int {
	for k := 1; ; k++ {
		if (1<<k)-1 == i {
			return 1 << (k - 1)
		}
		if (1<<k)-1 > i {
			return luby(i - (1 << (k - 1)) + 1)
		}
	}
}

const (
	unassigned int8 = -1
	assignedF  int8 = 0
	assignedT  int8 = 1
)

// Solve decides satisfiability under the given assumptions. Assumptions are
// enqueued before any decision; when they make the problem unsatisfiable the
// result's Core names the responsible literals.
func (s *Solver) Solve(assumptions []Lit) Result {
	s.grow()
	cnf := s.cnf
	nvars := cnf.NumVars()

	assigns := make([]int8, nvars+1)
	levels := make([]int, nvars+1)
	reason := make([]int, nvars+1)
	preds := make([][]Lit, nvars+1)
	for v := 1; v <= nvars; v++ {
		assigns[v] = unassigned
		reason[v] = -1
	}

	trail := make([]Lit, 0, nvars)
	trailLim := []int{}
	qhead := 0

	level := func() int { return len(trailLim) }

	value := func(lit Lit) int8 {
		val := assigns[lit.Var()]
		if val == unassigned {
			return unassigned
		}
		if lit.Sign() {
			return val
		}
		return 1 - val
	}

	enqueue := func(lit Lit, rsn int) {
		v := lit.Var()
		if assigns[v] != unassigned {
			return
		}
		if lit.Sign() {
			assigns[v] = assignedT
			s.savedPhase[v] = assignedT
		} else {
			assigns[v] = assignedF
			s.savedPhase[v] = assignedF
		}
		levels[v] = level()
		reason[v] = rsn
		if rsn >= 0 {
			var p []Lit
			for _, l := range cnf.clauses[rsn] {
				if l.Var() != v {
					p = append(p, l)
				}
			}
			preds[v] = p
		} else {
			preds[v] = nil
		}
		trail = append(trail, lit)
	}

	bumpVar := func(v int) {
		s.varActivity[v] += s.varInc
		if s.varActivity[v] > 1e100 {
			for i := range s.varActivity {
				s.varActivity[i] *= 1e-100
			}
			s.varInc *= 1e-100
		}
	}

	decayVarActivity := func() {
		s.varInc /= s.varDecay
		for v := 1; v <= nvars; v++ {
			factor := s.varDecay
			if f, ok := s.opts.Decay[v]; ok && f > 0 {
				factor = f
			}
			s.varActivity[v] *= factor
		}
	}

	bumpClause := func(ci int) {
		if ci >= 0 {
			cnf.activity[ci] += s.claInc
		}
	}

	decayClauseActivity := func() { s.claInc /= s.claDecay }

	propagate := func() int {
		for qhead < len(trail) {
			lit := trail[qhead]
			qhead++
			watching := cnf.watch[lit.Neg()]
			snapshot := make([]int, len(watching))
			copy(snapshot, watching)
			for _, ci := range snapshot {
				clause := cnf.clauses[ci]
				if clause == nil {
					continue
				}
				w := cnf.watchers[ci]
				var other Lit
				first := false
				if w[0] == lit.Neg() {
					other = w[1]
					first = true
				} else {
					other = w[0]
				}
				if value(other) == assignedT {
					continue
				}
				found := false
				for _, newLit := range clause {
					if newLit == other || newLit == lit.Neg() {
						continue
					}
					if value(newLit) != assignedF {
						if first {
							cnf.watchers[ci] = [2]Lit{newLit, other}
						} else {
							cnf.watchers[ci] = [2]Lit{other, newLit}
						}
						cnf.detach(lit.Neg(), ci)
						cnf.watch[newLit] = append(cnf.watch[newLit], ci)
						found = true
						break
					}
				}
				if !found {
					if value(other) == assignedF {
						return ci
					}
					enqueue(other, ci)
				}
			}
		}
		return -1
	}

	pickBranchVar := func() int {
		best := 0
		for v := 1; v <= nvars; v++ {
			if assigns[v] != unassigned {
				continue
			}
			if best == 0 || s.varActivity[v] > s.varActivity[best] {
				best = v
			}
		}
		return best
	}

	analyze := func(conflictIdx int) ([]Lit, int) {
		bumpClause(conflictIdx)
		for _, lit := range cnf.clauses[conflictIdx] {
			bumpVar(lit.Var())
		}
		seen := map[int]struct{}{}
		var learnt []Lit
		counter := 0
		clause := append([]Lit(nil), cnf.clauses[conflictIdx]...)
		i := len(trail) - 1
		for {
			for _, lit := range clause {
				v := lit.Var()
				bumpVar(v)
				if _, ok := seen[v]; !ok && levels[v] > 0 {
					seen[v] = struct{}{}
					if levels[v] == level() {
						counter++
					} else {
						learnt = append(learnt, lit)
					}
				}
			}
			var lit Lit
			for {
				lit = trail[i]
				i--
				if _, ok := seen[lit.Var()]; ok {
					break
				}
			}
			v := lit.Var()
			clauseIdx := reason[v]
			bumpClause(clauseIdx)
			if clauseIdx >= 0 {
				for _, l := range cnf.clauses[clauseIdx] {
					bumpVar(l.Var())
				}
				clause = append([]Lit(nil), preds[v]...)
			} else {
				clause = nil
			}
			counter--
			if counter <= 0 {
				learnt = append(learnt, lit.Neg())
				break
			}
		}
		backLvl := 0
		for _, l := range learnt[:len(learnt)-1] {
			if lv := levels[l.Var()]; lv > backLvl {
				backLvl = lv
			}
		}
		for _, lit := range learnt {
			bumpVar(lit.Var())
		}
		return learnt, backLvl
	}

	backtrack := func(to int) {
		for level() > to {
			start := trailLim[len(trailLim)-1]
			trailLim = trailLim[:len(trailLim)-1]
			for len(trail) > start {
				lit := trail[len(trail)-1]
				trail = trail[:len(trail)-1]
				v := lit.Var()
				assigns[v] = unassigned
				reason[v] = -1
				levels[v] = 0
				preds[v] = nil
			}
		}
		if qhead > len(trail) {
			qhead = len(trail)
		}
	}

	reduceDB := func() {
		live := make([]int, 0, len(cnf.learnts))
		for idx := range cnf.learnts {
			if cnf.clauses[idx] != nil {
				live = append(live, idx)
			}
		}
		if len(live) <= s.maxLearnts {
			return
		}
		sortLearnts(live, cnf)
		reasons := map[int]struct{}{}
		for v := 1; v <= nvars; v++ {
			if reason[v] >= 0 {
				reasons[reason[v]] = struct{}{}
			}
		}
		for _, idx := range live[s.maxLearnts:] {
			if _, isReason := reasons[idx]; !isReason && len(cnf.clauses[idx]) > 2 {
				cnf.RemoveClause(idx)
			}
		}
	}

	// Unit clauses and assumptions seed the trail before any decision.
	for i, cl := range cnf.clauses {
		if len(cl) == 1 {
			enqueue(cl[0], i)
		}
	}
	for _, lit := range assumptions {
		enqueue(lit, -1)
	}

	conflicts := 0
	restartCount := 1
	restartLimit := luby(restartCount) * LubyUnit

	for {
		confl := propagate()
		if confl >= 0 {
			conflicts++
			if level() == 0 {
				return Result{SAT: false, Core: s.extractCore(confl, reason)}
			}
			learnt, backLvl := analyze(confl)
			lbd := map[int]struct{}{}
			for _, l := range learnt {
				lbd[levels[l.Var()]] = struct{}{}
			}
			ci := cnf.AddClause(learnt, true, len(lbd))
			bumpClause(ci)
			backtrack(backLvl)
			enqueue(learnt[0], ci)
			decayClauseActivity()
			decayVarActivity()
			if cnf.NumLearnts() > s.maxLearnts {
				reduceDB()
			}
			if conflicts >= restartLimit {
				restartCount++
				restartLimit = luby(restartCount) * LubyUnit
				conflicts = 0
				backtrack(0)
			}
		} else {
			v := pickBranchVar()
			if v == 0 {
				model := make(map[int]bool, nvars)
				for vv := 1; vv <= nvars; vv++ {
					model[vv] = assigns[vv] == assignedT
				}
				return Result{SAT: true, Model: model}
			}
			trailLim = append(trailLim, len(trail))
			var lit Lit
			switch s.savedPhase[v] {
			case assignedT:
				lit = Lit(v)
			case assignedF:
				lit = Lit(-v)
			default:
				_, preferFalse := s.opts.PreferFalse[v]
				_, preferTrue := s.opts.PreferTrue[v]
				if preferFalse && !preferTrue {
					lit = Lit(-v)
				} else {
					lit = Lit(v)
				}
			}
			enqueue(lit, -1)
		}
	}
}

// extractCore resolves a level-zero conflict down to assumption and
// unit-forced literals.
func (s *Solver) extractCore(confl int, reason []int) []Lit {
	cnf := s.cnf
	core := append([]Lit(nil), cnf.clauses[confl]...)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(core); i++ {
			lit := core[i]
			v := lit.Var()
			rsn := reason[v]
			if rsn < 0 || len(cnf.clauses[rsn]) <= 1 {
				continue
			}
			core = append(core[:i], core[i+1:]...)
			for _, l := range cnf.clauses[rsn] {
				if l.Var() != v && !containsLit(core, l) {
					core = append(core, l)
				}
			}
			changed = true
			break
		}
	}
	return core
}

func containsLit(list []Lit, lit Lit) bool {
	for _, l := range list {
		if l == lit {
			return true
		}
	}
	return false
}

// sortLearnts orders learned clause indexes by ascending LBD, then by
// descending activity, so the tail holds the least valuable clauses.
func sortLearnts(idx []int, cnf *CNF) {
	sort.Slice(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		if cnf.lbd[a] != cnf.lbd[b] {
			return cnf.lbd[a] < cnf.lbd[b]
		}
		return cnf.activity[a] > cnf.activity[b]
	})
}
