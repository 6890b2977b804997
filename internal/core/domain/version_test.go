package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	t.Run("accepts dotted numeric", func(t *testing.T) {
		t.Parallel()
		v, err := domain.ParseVersion("1.24.3")
		require.NoError(t, err)
		assert.Equal(t, "1.24.3", v.String())
	})

	t.Run("accepts mixed alpha runs", func(t *testing.T) {
		t.Parallel()
		_, err := domain.ParseVersion("2.0.rc1")
		require.NoError(t, err)
	})

	t.Run("rejects empty", func(t *testing.T) {
		t.Parallel()
		_, err := domain.ParseVersion("")
		require.ErrorIs(t, err, domain.ErrInvalidVersion)
	})

	t.Run("rejects empty segment", func(t *testing.T) {
		t.Parallel()
		_, err := domain.ParseVersion("1..2")
		require.ErrorIs(t, err, domain.ErrInvalidVersion)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		t.Parallel()
		_, err := domain.ParseVersion("1.2 3")
		require.ErrorIs(t, err, domain.ErrInvalidVersion)
	})
}

func TestVersionCompare(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.1", -1},
		{"1.10", "1.9", 1},
		{"1.0", "1.0.0", 0},
		{"1.0", "1.0.1", -1},
		{"2.0", "2.0.rc1", -1},
		{"2.0.rc1", "2.0.rc2", -1},
		{"2.0.rc1", "2.0.1", -1},
		{"1.2a", "1.2", 1},
		{"1.2a", "1.2b", -1},
		{"10", "9", 1},
	}
	for _, tc := range cases {
		t.Run(tc.a+" vs "+tc.b, func(t *testing.T) {
			t.Parallel()
			a := domain.MustParseVersion(tc.a)
			b := domain.MustParseVersion(tc.b)
			assert.Equal(t, tc.want, a.Compare(b))
			assert.Equal(t, -tc.want, b.Compare(a))
		})
	}
}

func TestParseConstraint(t *testing.T) {
	t.Parallel()

	t.Run("empty matches everything", func(t *testing.T) {
		t.Parallel()
		c, err := domain.ParseConstraint("")
		require.NoError(t, err)
		assert.True(t, c.IsZero())
		assert.True(t, c.Satisfies(domain.MustParseVersion("0.0.1")))
	})

	t.Run("two-char operators win over one-char", func(t *testing.T) {
		t.Parallel()
		c, err := domain.ParseConstraint(">=1.2")
		require.NoError(t, err)
		assert.Equal(t, domain.OpGE, c.Op)
	})

	t.Run("rejects bare version", func(t *testing.T) {
		t.Parallel()
		_, err := domain.ParseConstraint("1.2")
		require.ErrorIs(t, err, domain.ErrInvalidConstraint)
	})
}

func TestConstraintSatisfies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"=1.2", "1.2", true},
		{"=1.2", "1.2.1", false},
		{"!=1.2", "1.3", true},
		{">1.2", "1.2.1", true},
		{">1.2", "1.2", false},
		{">=1.2", "1.2", true},
		{"<2", "1.99", true},
		{"<=2", "2", true},
		{"~=3.3", "3.4", true},
		{"~=3.3", "3.2", false},
		{"~=3.3.1", "3.3.2", true},
		{"~=3.3.1", "3.3.0", false},
		{"~=3.3.1", "3.4.0", false},
		{"~=3.3.1", "2.9.9", false},
	}
	for _, tc := range cases {
		t.Run(tc.constraint+" on "+tc.version, func(t *testing.T) {
			t.Parallel()
			c, err := domain.ParseConstraint(tc.constraint)
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Satisfies(domain.MustParseVersion(tc.version)))
		})
	}
}

func TestCompareIdentity(t *testing.T) {
	t.Parallel()

	v1 := domain.MustParseVersion("1.0")
	v2 := domain.MustParseVersion("1.1")
	assert.Equal(t, -1, domain.CompareIdentity(v1, 5, v2, 1))
	assert.Equal(t, -1, domain.CompareIdentity(v1, 1, v1, 2))
	assert.Equal(t, 0, domain.CompareIdentity(v1, 3, v1, 3))
}
