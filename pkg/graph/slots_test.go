package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignSlotsBidirectionalFirst(t *testing.T) {
	edges := []Edge{
		{Source: 1, Target: 2},                      // one-way out of 1
		{Source: 0, Target: 1, Bidirectional: true}, // two-way into 1
		{Source: 3, Target: 1},                      // one-way into 1
		{Source: 1, Target: 3, Bidirectional: true}, // two-way out of 1
	}
	in, out, err := AssignSlots(4, edges)
	require.NoError(t, err)

	// At junction 1 the two-way edges hold slots 0 and 1 in both directions.
	assert.Equal(t, uint8(0), edges[1].EdgeIDAtTarget)
	assert.Equal(t, uint8(1), edges[3].EdgeIDAtSource)
	assert.Equal(t, uint8(2), edges[0].EdgeIDAtSource)
	assert.Equal(t, uint8(2), edges[2].EdgeIDAtTarget)

	assert.Equal(t, []SlotRef{{Edge: 1}, {Edge: 3, Reverse: true}, {Edge: 2}}, in[1])
	assert.Equal(t, []SlotRef{{Edge: 1, Reverse: true}, {Edge: 3}, {Edge: 0}}, out[1])

	inDeg, outDeg := Degrees(in, out)
	assert.Equal(t, []uint8{1, 3, 1, 1}, inDeg)
	assert.Equal(t, []uint8{1, 3, 0, 2}, outDeg)

	p := Penalties{InDegree: inDeg, OutDegree: outDeg, Values: make([]float64, 1+9+0+2)}
	nodes := make([]Node, 4)
	assert.NoError(t, ValidateInput(nodes, edges, &p))
}

func TestAssignSlotsDegreeLimit(t *testing.T) {
	edges := make([]Edge, 256)
	for i := range edges {
		edges[i] = Edge{Source: 0, Target: uint32(i + 1)}
	}
	_, _, err := AssignSlots(257, edges)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestValidateInput(t *testing.T) {
	nodes := make([]Node, 2)
	edges := []Edge{{Source: 0, Target: 1, Distance: 5}}
	good := Penalties{InDegree: []uint8{0, 1}, OutDegree: []uint8{1, 0}}
	require.NoError(t, ValidateInput(nodes, edges, &good))

	tests := []struct {
		name  string
		edges []Edge
		p     Penalties
	}{
		{"short degree arrays", edges, Penalties{InDegree: []uint8{0}, OutDegree: []uint8{1, 0}}},
		{"penalty size", edges, Penalties{InDegree: []uint8{0, 1}, OutDegree: []uint8{1, 0}, Values: []float64{0}}},
		{"negative distance", []Edge{{Source: 0, Target: 1, Distance: -1}}, good},
		{"node out of range", []Edge{{Source: 0, Target: 2}}, good},
		{"source slot", []Edge{{Source: 0, Target: 1, EdgeIDAtSource: 1}}, good},
		{"target slot", []Edge{{Source: 0, Target: 1, EdgeIDAtTarget: 1}}, good},
		{"bidirectional needs reverse slots", []Edge{{Source: 0, Target: 1, Bidirectional: true}}, good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateInput(nodes, tt.edges, &tt.p), ErrMalformedInput)
		})
	}
}
