// Package solver implements CNF construction and a conflict-driven
// clause-learning SAT solver for dependency resolution.
package solver

// Lit is a literal: a positive or negative variable index. Variables are
// numbered from 1.
type Lit int

// Var returns the literal's variable index.
func (l Lit) Var() int {
	if l < 0 {
		return int(-l)
	}
	return int(l)
}

// Neg returns the complementary literal.
func (l Lit) Neg() Lit { return -l }

// Sign reports whether the literal is positive.
func (l Lit) Sign() bool { return l > 0 }

// CNF is a clause database with two-watched-literal bookkeeping.
type CNF struct {
	clauses  [][]Lit
	watchers [][2]Lit
	watch    map[Lit][]int
	activity []float64
	lbd      []int
	learnts  map[int]struct{}

	nextVar int
	varName map[int]string
	nameVar map[string]int
}

// NewCNF creates an empty clause database.
func NewCNF() *CNF {
	return &CNF{
		watch:   map[Lit][]int{},
		nextVar: 1,
		varName: map[int]string{},
		nameVar: map[string]int{},
	}
}

// NumVars returns the number of allocated variables.
func (c *CNF) NumVars() int { return c.nextVar - 1 }

// NewVar allocates (or returns) the variable for a name.
func (c *CNF) NewVar(name string) int {
	if v, ok := c.nameVar[name]; ok {
		return v
	}
	v := c.nextVar
	c.nextVar++
	c.nameVar[name] = v
	c.varName[v] = name
	return v
}

// VarName returns the name a variable was allocated under.
func (c *CNF) VarName(v int) string { return c.varName[v] }

// Var returns the variable for a name, zero when absent.
func (c *CNF) Var(name string) int { return c.nameVar[name] }

// AddClause appends a clause and wires its watchers. Returns the clause
// index.
func (c *CNF) AddClause(clause []Lit, learnt bool, lbd int) int {
	idx := len(c.clauses)
	c.clauses = append(c.clauses, clause)
	c.activity = append(c.activity, 0)
	c.lbd = append(c.lbd, lbd)
	if learnt {
		if c.learnts == nil {
			c.learnts = map[int]struct{}{}
		}
		c.learnts[idx] = struct{}{}
	}
	switch len(clause) {
	case 0:
		c.watchers = append(c.watchers, [2]Lit{})
	case 1:
		lit := clause[0]
		c.watchers = append(c.watchers, [2]Lit{lit, lit})
		c.watch[lit] = append(c.watch[lit], idx)
	default:
		a, b := clause[0], clause[1]
		c.watchers = append(c.watchers, [2]Lit{a, b})
		c.watch[a] = append(c.watch[a], idx)
		c.watch[b] = append(c.watch[b], idx)
	}
	return idx
}

// Add appends plain clauses, skipping empty ones.
func (c *CNF) Add(clauses ...[]Lit) {
	for _, cl := range clauses {
		if len(cl) > 0 {
			c.AddClause(cl, false, 0)
		}
	}
}

// RemoveClause detaches and clears a clause in place.
func (c *CNF) RemoveClause(idx int) {
	if len(c.clauses[idx]) == 0 {
		return
	}
	w := c.watchers[idx]
	c.detach(w[0], idx)
	if w[1] != w[0] {
		c.detach(w[1], idx)
	}
	c.clauses[idx] = nil
	c.watchers[idx] = [2]Lit{}
	c.activity[idx] = 0
	c.lbd[idx] = 0
	delete(c.learnts, idx)
}

func (c *CNF) detach(lit Lit, idx int) {
	list := c.watch[lit]
	for i, ci := range list {
		if ci == idx {
			c.watch[lit] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.watch[lit]) == 0 {
		delete(c.watch, lit)
	}
}

// NumLearnts returns the count of live learned clauses.
func (c *CNF) NumLearnts() int { return len(c.learnts) }
