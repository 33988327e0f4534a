package llm

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// TemperatureConstraint describes the allowed shape of the sampling
// temperature for a model. The pipeline corrects out-of-range requests
// rather than failing them.
type TemperatureConstraint interface {
	// Validate reports whether t is admissible as-is.
	Validate(t float64) bool
	// Correct maps t to the nearest admissible value.
	Correct(t float64) float64
	// Default returns the value used when the caller supplies none.
	Default() float64
	// Describe returns a short human-readable description for warnings.
	Describe() string
}

// FixedTemperature admits exactly one value (e.g., O3-family models).
type FixedTemperature struct {
	Value float64
}

func (c FixedTemperature) Validate(t float64) bool { return t == c.Value }
func (c FixedTemperature) Correct(float64) float64 { return c.Value }
func (c FixedTemperature) Default() float64        { return c.Value }
func (c FixedTemperature) Describe() string {
	return fmt.Sprintf("Only supports temperature=%g", c.Value)
}

// RangeTemperature admits a closed interval [Lo, Hi].
type RangeTemperature struct {
	Lo, Hi float64
	Def    float64
}

func (c RangeTemperature) Validate(t float64) bool { return t >= c.Lo && t <= c.Hi }

func (c RangeTemperature) Correct(t float64) float64 {
	if t < c.Lo {
		return c.Lo
	}
	if t > c.Hi {
		return c.Hi
	}
	return t
}

func (c RangeTemperature) Default() float64 { return c.Def }
func (c RangeTemperature) Describe() string {
	return fmt.Sprintf("Supports temperature range [%g, %g]", c.Lo, c.Hi)
}

// DiscreteTemperature admits a finite sorted set of values.
type DiscreteTemperature struct {
	Values []float64 // sorted ascending
	Def    float64
}

func (c DiscreteTemperature) Validate(t float64) bool {
	for _, v := range c.Values {
		if v == t {
			return true
		}
	}
	return false
}

// Correct returns the element minimizing |t - v|; ties resolve to the
// lower value (the set is sorted, so the first best match wins).
func (c DiscreteTemperature) Correct(t float64) float64 {
	if len(c.Values) == 0 {
		return c.Def
	}
	best := c.Values[0]
	bestDist := math.Abs(t - best)
	for _, v := range c.Values[1:] {
		if d := math.Abs(t - v); d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}

func (c DiscreteTemperature) Default() float64 { return c.Def }
func (c DiscreteTemperature) Describe() string {
	parts := make([]string, len(c.Values))
	for i, v := range c.Values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "Supports temperatures: " + strings.Join(parts, ", ")
}

// NewDiscreteTemperature builds a discrete constraint, sorting the values.
func NewDiscreteTemperature(def float64, values ...float64) DiscreteTemperature {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return DiscreteTemperature{Values: sorted, Def: def}
}

// DefaultTemperature is the generic constraint for models that do not
// declare one.
var DefaultTemperature TemperatureConstraint = RangeTemperature{Lo: 0, Hi: 2, Def: 0.5}
