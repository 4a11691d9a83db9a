package environment

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
)

func TestUniformStarterBounds(t *testing.T) {
	bounds := []r1.Interval{
		{Min: -0.05, Max: 0.05},
		{Min: 1.0, Max: 2.0},
		{Min: -3.0, Max: -1.5},
	}
	starter := NewUniformStarter(bounds, 17)

	for i := 0; i < 100; i++ {
		state := starter.Start()
		if state.Len() != len(bounds) {
			t.Fatalf("illegal state length \n\twant(%v)\n\thave(%v)",
				len(bounds), state.Len())
		}
		for j, bound := range bounds {
			v := state.AtVec(j)
			if v < bound.Min || v > bound.Max {
				t.Errorf("feature %d outside its interval [%v, %v], got %v",
					j, bound.Min, bound.Max, v)
			}
		}
	}
}

func TestUniformStarterSeed(t *testing.T) {
	bounds := []r1.Interval{{Min: -1, Max: 1}, {Min: 0, Max: 5}}

	a := NewUniformStarter(bounds, 42)
	b := NewUniformStarter(bounds, 42)
	for i := 0; i < 10; i++ {
		sa, sb := a.Start(), b.Start()
		for j := 0; j < sa.Len(); j++ {
			if sa.AtVec(j) != sb.AtVec(j) {
				t.Fatalf("same seed produced different states at draw %d"+
					"\n\twant(%v)\n\thave(%v)", i, sa.AtVec(j), sb.AtVec(j))
			}
		}
	}
}
