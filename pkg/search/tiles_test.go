package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/thebox/pkg/detection"
)

func TestGenerateTilesLadder(t *testing.T) {
	cue := detection.DirectionalCue{
		ObjectID:       "UAS-0001",
		BearingDegTrue: 90,
		SourceType:     "vision",
	}
	ladder := Ladder{StepAzDeg: 2, SpanAzDeg: 8, Elevations: []float64{0.5, 1.5, 3.0}}

	tiles := generateTiles(cue, ladder, 400*time.Millisecond, tileParams{zoom: 8})

	// 9 azimuth steps (82..98) at each of 3 elevations.
	require.Len(t, tiles, 27)

	assert.InDelta(t, 82, tiles[0].AzDeg, 1e-9)
	assert.InDelta(t, 98, tiles[8].AzDeg, 1e-9)
	assert.InDelta(t, 0.5, tiles[0].ElDeg, 1e-9)
	assert.InDelta(t, 3.0, tiles[26].ElDeg, 1e-9)

	for _, tile := range tiles {
		assert.Greater(t, tile.AzDeg, -180.0)
		assert.LessOrEqual(t, tile.AzDeg, 180.0)
		assert.Equal(t, 400*time.Millisecond, tile.Dwell)
		assert.Equal(t, "vision", tile.Modality)
	}
}

func TestGenerateTilesWrapsAroundSouth(t *testing.T) {
	cue := detection.DirectionalCue{
		ObjectID:       "UAS-0002",
		BearingDegTrue: 179,
		SourceType:     "radar",
	}
	ladder := Ladder{StepAzDeg: 2, SpanAzDeg: 8, Elevations: []float64{1.0}}

	tiles := generateTiles(cue, ladder, time.Millisecond, tileParams{})
	require.Len(t, tiles, 9)

	// The sweep crosses 180: azimuths past it wrap negative.
	assert.InDelta(t, 171, tiles[0].AzDeg, 1e-9)
	assert.InDelta(t, 179, tiles[4].AzDeg, 1e-9)
	assert.InDelta(t, -179, tiles[5].AzDeg, 1e-9)
	assert.InDelta(t, -173, tiles[8].AzDeg, 1e-9)
}

func TestGenerateTilesDegenerate(t *testing.T) {
	cue := detection.DirectionalCue{BearingDegTrue: 10, SourceType: "vision"}

	assert.Nil(t, generateTiles(cue, Ladder{StepAzDeg: 0, SpanAzDeg: 8, Elevations: []float64{1}}, time.Millisecond, tileParams{}))
	assert.Nil(t, generateTiles(cue, Ladder{StepAzDeg: 2, SpanAzDeg: 8}, time.Millisecond, tileParams{}))
}

func TestClampTile(t *testing.T) {
	tile := Tile{AzDeg: 10, ElDeg: 1, Zoom: 50, PowerPct: 150, GainPct: -5, ClutterPct: 90}

	t.Run("vision caps clamp zoom only", func(t *testing.T) {
		clamped := clampTile(tile, DefaultVisionCapabilities())
		assert.InDelta(t, 30, clamped.Zoom, 1e-9)
		// Unbounded axes pass through untouched.
		assert.InDelta(t, 150, clamped.PowerPct, 1e-9)
	})

	t.Run("radar caps clamp power, gain, clutter", func(t *testing.T) {
		clamped := clampTile(tile, DefaultRadarCapabilities())
		assert.InDelta(t, 100, clamped.PowerPct, 1e-9)
		assert.InDelta(t, 0, clamped.GainPct, 1e-9)
		assert.InDelta(t, 80, clamped.ClutterPct, 1e-9)
		assert.InDelta(t, 50, clamped.Zoom, 1e-9)
	})
}
