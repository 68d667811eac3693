package simulator

import (
	"math"
	"math/rand"
)

// sampleMinute produces the intra-minute price path for one bar:
// a linear walk from open to close with Gaussian noise whose deviation
// scales with the bar's high-low range. The noise amplitude U is drawn
// once per bar. Prices are rounded to cents. Deterministic for a given
// rng state.
func sampleMinute(bar Bar, samples int, rng *rand.Rand) []float64 {
	u := 0.1 + rng.Float64()*1.8
	sd := u*math.Abs(bar.High-bar.Low) + 0.01
	step := (bar.Close - bar.Open) / float64(samples)
	out := make([]float64, samples+1)
	for k := 0; k <= samples; k++ {
		v := bar.Open + step*float64(k) + rng.NormFloat64()*sd
		out[k] = math.Round(v*100) / 100
	}
	return out
}
