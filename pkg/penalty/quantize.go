// Package penalty turns raw turn penalty matrices into shared penalty classes.
package penalty

import (
	"math"

	"turn_router/pkg/graph"
)

// maxPenalty is the largest storable penalty, in deci-seconds.
const maxPenalty = graph.RestrictedTurn - 1

// Quantize converts a penalty in seconds to deci-seconds. Negative values
// forbid the turn; large values saturate just below RestrictedTurn.
func Quantize(seconds float64) uint8 {
	if seconds < 0 || math.IsNaN(seconds) {
		return graph.RestrictedTurn
	}
	v := math.Round(seconds * 10)
	if v >= float64(maxPenalty) {
		return maxPenalty
	}
	return uint8(v)
}

// QuantizeAll quantizes a flattened penalty array.
func QuantizeAll(values []float64) []uint8 {
	out := make([]uint8, len(values))
	for i, v := range values {
		out[i] = Quantize(v)
	}
	return out
}
