package pricemodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustModel(t *testing.T, coefs Coefficients) *Model {
	t.Helper()
	m, err := New(coefs)
	require.NoError(t, err)
	return m
}

func TestNew_NilCoefficients(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilCoefficients)
}

func TestEvaluate_AllZero(t *testing.T) {
	m := mustModel(t, Coefficients{})
	assert.Equal(t, 0.0, m.Evaluate(10, 100, 1000))
	assert.Equal(t, 0.0, m.Evaluate(-5, 1e20, 1.7e9))
}

func TestEvaluate_FloorClamp(t *testing.T) {
	m := mustModel(t, Coefficients{"c": 6, "q": 3, "l": 3})
	assert.Equal(t, 3.0, m.Evaluate(10, 100, 1000))
}

func TestEvaluate_FloorReturnedUnrounded(t *testing.T) {
	// 1/4 is below the floor of 0.6, so the floor comes back as is.
	m := mustModel(t, Coefficients{"c": 1, "q": 4, "l": 0.6})
	assert.Equal(t, 0.6, m.Evaluate(0, 0, 0))
}

func TestEvaluate_CeilingClamp(t *testing.T) {
	m := mustModel(t, Coefficients{"c": 6, "q": 3, "h": 1})
	assert.Equal(t, 1.0, m.Evaluate(10, 100, 1000))
}

func TestEvaluate_ZeroCeilingIgnored(t *testing.T) {
	m := mustModel(t, Coefficients{"c": 6, "q": 3, "h": 0})
	assert.Equal(t, 2.0, m.Evaluate(10, 100, 1000))
}

func TestEvaluate_FloorBeforeCeiling(t *testing.T) {
	// Inverted bounds: the floor check wins.
	m := mustModel(t, Coefficients{"c": 6, "q": 3, "l": 5, "h": 1})
	assert.Equal(t, 5.0, m.Evaluate(0, 0, 0))
}

func TestEvaluate_ConstantOverScale(t *testing.T) {
	m := mustModel(t, Coefficients{"c": 6, "q": 3})
	assert.Equal(t, 2.0, m.Evaluate(10, 100, 1000))
}

func TestEvaluate_DefaultScale(t *testing.T) {
	m := mustModel(t, Coefficients{"c": 1e13})
	assert.Equal(t, 10.0, m.Evaluate(10, 100, 1000))

	m = mustModel(t, Coefficients{"c": 1e13, "q": 0})
	assert.Equal(t, 10.0, m.Evaluate(10, 100, 1000))
}

func TestEvaluate_Coefficients(t *testing.T) {
	tests := []struct {
		name  string
		coefs Coefficients
		want  float64
	}{
		{"linear", Coefficients{"p": 2, "r": 3, "t": 5, "q": 1}, 5320},
		{"quadratic", Coefficients{"pp": 2, "rr": 3, "tt": 5, "q": 1}, 5030200},
		{"pr", Coefficients{"pr": 2, "q": 1}, 2000},
		{"pt", Coefficients{"pt": 2, "q": 1}, 20000},
		{"rt", Coefficients{"rt": 2, "q": 1}, 200000},
		{"p only", Coefficients{"p": 2, "q": 1}, 20},
		{"r only", Coefficients{"r": 3, "q": 1}, 300},
		{"t only", Coefficients{"t": 5, "q": 1}, 5000},
		{"pp only", Coefficients{"pp": 2, "q": 1}, 200},
		{"rr only", Coefficients{"rr": 3, "q": 1}, 30000},
		{"tt only", Coefficients{"tt": 5, "q": 1}, 5000000},
		{
			"all combined",
			Coefficients{"c": 7, "p": 2, "r": 3, "t": 5, "pp": 2, "rr": 3, "tt": 5, "pr": 2, "pt": 2, "rt": 2, "q": 1},
			7 + 5320 + 5030200 + 2000 + 20000 + 200000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustModel(t, tt.coefs)
			assert.Equal(t, tt.want, m.Evaluate(10, 100, 1000))
		})
	}
}

func TestEvaluate_Rounding(t *testing.T) {
	m := mustModel(t, Coefficients{"c": 5, "q": 2})
	assert.Equal(t, 3.0, m.Evaluate(0, 0, 0))

	m = mustModel(t, Coefficients{"c": -5, "q": 2, "l": -10})
	assert.Equal(t, -3.0, m.Evaluate(0, 0, 0), "halves round away from zero")
}

func TestEvaluate_RedemptionScenario(t *testing.T) {
	m := mustModel(t, Coefficients{"r": 1, "c": 1e18})
	assert.Equal(t, 874279.0, m.Evaluate(0, -125720812441797201, 1700000000))
}

func TestNew_CopiesCoefficients(t *testing.T) {
	coefs := Coefficients{"c": 6, "q": 3}
	m := mustModel(t, coefs)
	coefs["c"] = 600

	assert.Equal(t, 2.0, m.Evaluate(0, 0, 0))

	got := m.Coefficients()
	got["c"] = 900
	assert.Equal(t, 6.0, m.Coefficients()["c"])
}

func TestIsKnown(t *testing.T) {
	for _, name := range Names {
		assert.True(t, IsKnown(name), name)
	}
	assert.False(t, IsKnown("x"))
	assert.False(t, IsKnown("Q"))
	assert.Len(t, Names, 13)
}
