// Package pricemodel evaluates the quadratic redemption price model.
//
// The model is a polynomial in three inputs: the decoded redemption price,
// the decoded redemption rate and a unix timestamp. Coefficients are supplied
// externally and are treated as opaque.
package pricemodel

import (
	"errors"
	"math"
)

// Coefficient names understood by the model.
const (
	CoefScale    = "q"
	CoefConstant = "c"
	CoefPrice    = "p"
	CoefRate     = "r"
	CoefTime     = "t"
	CoefPrice2   = "pp"
	CoefRate2    = "rr"
	CoefTime2    = "tt"
	CoefPR       = "pr"
	CoefPT       = "pt"
	CoefRT       = "rt"
	CoefFloor    = "l"
	CoefCeiling  = "h"
)

// Names lists every coefficient name the model reads.
var Names = []string{
	CoefScale, CoefConstant,
	CoefPrice, CoefRate, CoefTime,
	CoefPrice2, CoefRate2, CoefTime2,
	CoefPR, CoefPT, CoefRT,
	CoefFloor, CoefCeiling,
}

// IsKnown reports whether name is a coefficient the model reads.
func IsKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultScale is the divisor used when q is absent or zero.
const DefaultScale = 1e12

// ErrNilCoefficients is returned by New when no coefficient set is given.
var ErrNilCoefficients = errors.New("coefficients required")

// Coefficients maps coefficient names to values.
// Absent and zero entries are equivalent.
type Coefficients map[string]float64

// clone returns a private copy of the set.
func (c Coefficients) clone() Coefficients {
	out := make(Coefficients, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Model is an immutable polynomial price model.
type Model struct {
	coefs Coefficients

	q, c           float64
	p, r, t        float64
	pp, rr, tt     float64
	pr, pt, rt     float64
	floor, ceiling float64
}

// New creates a model from the given coefficients.
// The map is copied; later changes by the caller have no effect.
func New(coefs Coefficients) (*Model, error) {
	if coefs == nil {
		return nil, ErrNilCoefficients
	}

	own := coefs.clone()
	m := &Model{
		coefs:   own,
		q:       own[CoefScale],
		c:       own[CoefConstant],
		p:       own[CoefPrice],
		r:       own[CoefRate],
		t:       own[CoefTime],
		pp:      own[CoefPrice2],
		rr:      own[CoefRate2],
		tt:      own[CoefTime2],
		pr:      own[CoefPR],
		pt:      own[CoefPT],
		rt:      own[CoefRT],
		floor:   own[CoefFloor],
		ceiling: own[CoefCeiling],
	}
	if m.q == 0 {
		m.q = DefaultScale
	}
	return m, nil
}

// Evaluate computes the clamped model value for the given inputs.
//
// Values below the floor l return l as is. Values above a non-zero ceiling h
// return h as is. A ceiling of exactly zero is treated as unset. Any other
// value is rounded half away from zero.
func (m *Model) Evaluate(price, rate, time float64) float64 {
	raw := m.c +
		price*(m.p+m.pp*price+m.pr*rate+m.pt*time) +
		rate*(m.r+m.rr*rate+m.rt*time) +
		time*(m.t+m.tt*time)

	scaled := raw / m.q

	if scaled < m.floor {
		return m.floor
	}
	if m.ceiling != 0 && scaled > m.ceiling {
		return m.ceiling
	}
	return math.Round(scaled)
}

// Coefficients returns a copy of the configured coefficient set.
func (m *Model) Coefficients() Coefficients {
	return m.coefs.clone()
}
