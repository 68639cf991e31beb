package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude is ~111.2km everywhere.
	assert.InDelta(t, 111195, HaversineMeters(0, 0, 1, 0), 10)
	// One degree of longitude at the equator is the same.
	assert.InDelta(t, 111195, HaversineMeters(0, 0, 0, 1), 10)
	// Longitude degrees shrink away from the equator.
	assert.InDelta(t, 78626, HaversineMeters(45, 0, 45, 1), 50)

	assert.Zero(t, HaversineMeters(23.7808, 90.4074, 23.7808, 90.4074))
}

func TestWithinRadius(t *testing.T) {
	// ~111m north of the issue: inside a 300m fence.
	assert.True(t, WithinRadius(23.7808, 90.4074, 23.7818, 90.4074, 300))
	// ~1.1km north: outside.
	assert.False(t, WithinRadius(23.7808, 90.4074, 23.7908, 90.4074, 300))
	// Order of the two points does not matter.
	assert.True(t, WithinRadius(23.7818, 90.4074, 23.7808, 90.4074, 300))
}
