package nn

import (
	"math"
	"math/rand/v2"
)

// FanMode und Distribution parametrisieren VarianceScaling
type (
	FanMode      string
	Distribution string
)

const (
	FanIn  FanMode = "fan_in"
	FanOut FanMode = "fan_out"
	FanAvg FanMode = "fan_avg"

	Uniform         Distribution = "uniform"
	Normal          Distribution = "normal"
	TruncatedNormal Distribution = "truncated_normal"
)

// Standardabweichung einer auf [-2, 2] abgeschnittenen Standardnormalverteilung
const truncatedStddev = .87962566103423978

// computeFans folgt der Konvention (..., in, out): alle fuehrenden Achsen
// bilden das rezeptive Feld.
func computeFans(shape []int) (fanIn, fanOut float64) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return float64(shape[0]), float64(shape[0])
	}

	receptive := 1
	for _, d := range shape[:len(shape)-2] {
		receptive *= d
	}
	return float64(shape[len(shape)-2] * receptive), float64(shape[len(shape)-1] * receptive)
}

// VarianceScaling zieht Gewichte mit Varianz scale/fan
func VarianceScaling(rng *rand.Rand, scale float64, mode FanMode, dist Distribution, shape ...int) []float32 {
	fanIn, fanOut := computeFans(shape)

	var fan float64
	switch mode {
	case FanOut:
		fan = fanOut
	case FanAvg:
		fan = (fanIn + fanOut) / 2
	default:
		fan = fanIn
	}
	variance := scale / max(fan, 1)

	n := 1
	for _, d := range shape {
		n *= d
	}

	out := make([]float32, n)
	switch dist {
	case Uniform:
		limit := math.Sqrt(3 * variance)
		for i := range out {
			out[i] = float32((2*rng.Float64() - 1) * limit)
		}
	case Normal:
		stddev := math.Sqrt(variance)
		for i := range out {
			out[i] = float32(rng.NormFloat64() * stddev)
		}
	default:
		stddev := math.Sqrt(variance) / truncatedStddev
		for i := range out {
			x := rng.NormFloat64()
			for math.Abs(x) > 2 {
				x = rng.NormFloat64()
			}
			out[i] = float32(x * stddev)
		}
	}

	return out
}
