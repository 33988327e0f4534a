package llm

import (
	"math"
	"testing"
)

func TestFixedTemperature(t *testing.T) {
	c := FixedTemperature{Value: 1.0}

	if !c.Validate(1.0) {
		t.Error("fixed value should validate")
	}
	for _, v := range []float64{0, 0.2, 0.999, 1.5, 2} {
		if v != 1.0 && c.Validate(v) {
			t.Errorf("Validate(%g) = true, want false", v)
		}
		if got := c.Correct(v); got != 1.0 {
			t.Errorf("Correct(%g) = %g, want 1", v, got)
		}
	}
	if c.Default() != 1.0 {
		t.Errorf("Default() = %g, want 1", c.Default())
	}
}

func TestRangeTemperature(t *testing.T) {
	c := RangeTemperature{Lo: 0, Hi: 2, Def: 0.5}

	cases := []struct {
		in    float64
		valid bool
		want  float64
	}{
		{-0.5, false, 0},
		{0, true, 0},
		{0.7, true, 0.7},
		{2, true, 2},
		{2.5, false, 2},
	}
	for _, tc := range cases {
		if got := c.Validate(tc.in); got != tc.valid {
			t.Errorf("Validate(%g) = %v, want %v", tc.in, got, tc.valid)
		}
		if got := c.Correct(tc.in); got != tc.want {
			t.Errorf("Correct(%g) = %g, want %g", tc.in, got, tc.want)
		}
		// Correct is the identity on admissible values
		if tc.valid && c.Correct(tc.in) != tc.in {
			t.Errorf("Correct(%g) changed an admissible value", tc.in)
		}
	}
	if c.Default() != 0.5 {
		t.Errorf("Default() = %g, want 0.5", c.Default())
	}
}

func TestDiscreteTemperature(t *testing.T) {
	c := NewDiscreteTemperature(0.7, 1.0, 0.2, 0.7)

	if !c.Validate(0.7) || c.Validate(0.5) {
		t.Error("Validate wrong on discrete set")
	}
	if c.Default() != 0.7 {
		t.Errorf("Default() = %g, want 0.7", c.Default())
	}

	// Correct picks the nearest element; ties go to the lower value.
	cases := []struct{ in, want float64 }{
		{0.0, 0.2},
		{0.2, 0.2},
		{0.45, 0.2}, // tie between 0.2 and 0.7 -> lower
		{0.5, 0.7},
		{0.85, 0.7}, // tie between 0.7 and 1.0 -> lower
		{0.9, 1.0},
		{5, 1.0},
	}
	for _, tc := range cases {
		if got := c.Correct(tc.in); got != tc.want {
			t.Errorf("Correct(%g) = %g, want %g", tc.in, got, tc.want)
		}
	}

	// Minimality: |correct(t)-t| <= |s-t| for every member s
	for _, in := range []float64{-1, 0.3, 0.6, 0.99, 3} {
		got := c.Correct(in)
		for _, s := range c.Values {
			if math.Abs(got-in) > math.Abs(s-in) {
				t.Errorf("Correct(%g) = %g is farther than member %g", in, got, s)
			}
		}
	}
}

func TestParseTemperatureSpec(t *testing.T) {
	c, err := parseTemperatureSpec("fixed:1")
	if err != nil {
		t.Fatalf("fixed spec: %v", err)
	}
	if _, ok := c.(FixedTemperature); !ok {
		t.Fatalf("fixed spec produced %T", c)
	}

	c, err = parseTemperatureSpec("range:0:2:0.7")
	if err != nil {
		t.Fatalf("range spec: %v", err)
	}
	r, ok := c.(RangeTemperature)
	if !ok || r.Lo != 0 || r.Hi != 2 || r.Def != 0.7 {
		t.Fatalf("range spec produced %#v", c)
	}

	c, err = parseTemperatureSpec("discrete:1,0.2,0.7:0.7")
	if err != nil {
		t.Fatalf("discrete spec: %v", err)
	}
	d, ok := c.(DiscreteTemperature)
	if !ok || len(d.Values) != 3 || d.Values[0] != 0.2 {
		t.Fatalf("discrete spec produced %#v", c)
	}

	if _, err := parseTemperatureSpec("range:2:0:1"); err == nil {
		t.Error("inverted range accepted")
	}
	if _, err := parseTemperatureSpec("banana"); err == nil {
		t.Error("unknown spec accepted")
	}
	if c, err = parseTemperatureSpec(""); err != nil || c == nil {
		t.Error("empty spec should yield the default constraint")
	}
}
