package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveTrivialSAT(t *testing.T) {
	t.Parallel()

	cnf := NewCNF()
	a := cnf.NewVar("a")
	b := cnf.NewVar("b")
	cnf.Add([]Lit{Lit(a), Lit(b)})
	cnf.Add([]Lit{Lit(-a), Lit(b)})

	res := New(cnf, Options{}).Solve(nil)
	require.True(t, res.SAT)
	assert.True(t, res.Model[b])
}

func TestSolveUnitPropagation(t *testing.T) {
	t.Parallel()

	cnf := NewCNF()
	a := cnf.NewVar("a")
	b := cnf.NewVar("b")
	c := cnf.NewVar("c")
	cnf.Add([]Lit{Lit(a)})
	cnf.Add([]Lit{Lit(-a), Lit(b)})
	cnf.Add([]Lit{Lit(-b), Lit(c)})

	res := New(cnf, Options{}).Solve(nil)
	require.True(t, res.SAT)
	assert.True(t, res.Model[a])
	assert.True(t, res.Model[b])
	assert.True(t, res.Model[c])
}

func TestSolveUNSAT(t *testing.T) {
	t.Parallel()

	cnf := NewCNF()
	a := cnf.NewVar("a")
	cnf.Add([]Lit{Lit(a)})
	cnf.Add([]Lit{Lit(-a)})

	res := New(cnf, Options{}).Solve(nil)
	require.False(t, res.SAT)
	assert.NotEmpty(t, res.Core)
}

func TestSolveUnderAssumptions(t *testing.T) {
	t.Parallel()

	cnf := NewCNF()
	a := cnf.NewVar("a")
	b := cnf.NewVar("b")
	cnf.Add([]Lit{Lit(-a), Lit(b)})

	t.Run("assumption forces implication", func(t *testing.T) {
		res := New(cnf, Options{}).Solve([]Lit{Lit(a)})
		require.True(t, res.SAT)
		assert.True(t, res.Model[a])
		assert.True(t, res.Model[b])
	})

	t.Run("conflicting assumptions yield a core", func(t *testing.T) {
		res := New(cnf, Options{}).Solve([]Lit{Lit(a), Lit(-b)})
		require.False(t, res.SAT)
		assert.NotEmpty(t, res.Core)
	})
}

func TestSolvePreferFalseKeepsModelSmall(t *testing.T) {
	t.Parallel()

	cnf := NewCNF()
	a := cnf.NewVar("a")
	b := cnf.NewVar("b")
	cnf.Add([]Lit{Lit(a), Lit(b)})

	res := New(cnf, Options{
		PreferFalse: map[int]struct{}{a: {}, b: {}},
		Bias:        map[int]float64{a: 1.0},
	}).Solve(nil)
	require.True(t, res.SAT)
	assert.False(t, res.Model[a], "highest-activity variable is branched first, to its preferred polarity")
	assert.True(t, res.Model[b], "propagation satisfies the clause with the remaining literal")
}

func TestSolveConflictLearning(t *testing.T) {
	t.Parallel()

	// Pigeonhole-flavored instance: three variables, at most one true,
	// at least two forced true via disjunctions, requires learning to
	// refute.
	cnf := NewCNF()
	x := cnf.NewVar("x")
	y := cnf.NewVar("y")
	z := cnf.NewVar("z")
	cnf.Add([]Lit{Lit(x), Lit(y)})
	cnf.Add([]Lit{Lit(y), Lit(z)})
	cnf.Add([]Lit{Lit(x), Lit(z)})
	cnf.Add([]Lit{Lit(-x), Lit(-y)})
	cnf.Add([]Lit{Lit(-y), Lit(-z)})
	cnf.Add([]Lit{Lit(-x), Lit(-z)})

	res := New(cnf, Options{}).Solve(nil)
	assert.False(t, res.SAT)
}

func TestLuby(t *testing.T) {
	t.Parallel()

	want := []int{1, 1, 2, 1, 1, 2, 4, 1, 1, 2, 1, 1, 2, 4, 8}
	for i, w := range want {
		assert.Equal(t, w, luby(i+1), "luby(%d)", i+1)
	}
}

func TestRemoveClauseDetachesWatchers(t *testing.T) {
	t.Parallel()

	cnf := NewCNF()
	a := cnf.NewVar("a")
	b := cnf.NewVar("b")
	idx := cnf.AddClause([]Lit{Lit(a), Lit(b)}, true, 2)
	require.Equal(t, 1, cnf.NumLearnts())

	cnf.RemoveClause(idx)
	assert.Equal(t, 0, cnf.NumLearnts())
	assert.Empty(t, cnf.watch[Lit(a)])
	assert.Empty(t, cnf.watch[Lit(b)])
}
