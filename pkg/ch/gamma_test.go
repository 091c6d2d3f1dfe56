package ch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"turn_router/pkg/graph"
)

func TestGammaTable(t *testing.T) {
	// One junction with a 2x2 matrix, rows are in-slots:
	//	in0: 0   5
	//	in1: 3   forbidden
	g := graph.NewTurnGraph([]uint32{0}, []graph.PenaltyClass{{In: 2, Out: 2}},
		[]uint8{0, 5, 3, graph.RestrictedTurn}, nil)
	table := newGammaTable(g)

	tests := []struct {
		name string
		got  int16
		want int16
	}{
		{"forward same slot", table.Forward(0, 0, 0), 0},
		{"forward 1 instead of 0 hits a restriction", table.Forward(0, 0, 1), math.MinInt16},
		{"forward 0 instead of 1", table.Forward(0, 1, 0), -5},
		{"backward 1 instead of 0 hits a restriction", table.Backward(0, 0, 1), math.MinInt16},
		{"backward 0 instead of 1", table.Backward(0, 1, 0), -3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got, tt.name)
	}
}

func TestGammaNoAllowedTurn(t *testing.T) {
	forbidden := func(uint8) (uint8, uint8) { return graph.RestrictedTurn, 0 }
	assert.Equal(t, int16(0), gamma(3, forbidden))
	assert.Equal(t, int16(0), gamma(0, forbidden))
}

func TestGammaMaximum(t *testing.T) {
	ref := []uint8{1, 10, 4}
	alt := []uint8{7, 12, 4}
	got := gamma(3, func(i uint8) (uint8, uint8) { return ref[i], alt[i] })
	assert.Equal(t, int16(6), got)
}
