package search

import (
	"time"

	"github.com/seaward-systems/thebox/pkg/detection"
)

// Ladder describes the deterministic tile pattern: for each configured
// elevation, sweep azimuth from bearing-span to bearing+span in fixed steps.
type Ladder struct {
	StepAzDeg  float64
	SpanAzDeg  float64
	Elevations []float64
}

// generateTiles produces the full ladder for a cue. Tile count is
// len(elevations) x number of azimuth steps; every azimuth is wrapped into
// (-180,180].
func generateTiles(cue detection.DirectionalCue, ladder Ladder, dwell time.Duration, p tileParams) []Tile {
	if ladder.StepAzDeg <= 0 || len(ladder.Elevations) == 0 {
		return nil
	}

	var azimuths []float64
	for az := cue.BearingDegTrue - ladder.SpanAzDeg; az <= cue.BearingDegTrue+ladder.SpanAzDeg+1e-9; az += ladder.StepAzDeg {
		azimuths = append(azimuths, detection.WrapAzimuth(az))
	}

	tiles := make([]Tile, 0, len(ladder.Elevations)*len(azimuths))
	for _, el := range ladder.Elevations {
		for _, az := range azimuths {
			tiles = append(tiles, Tile{
				AzDeg:      az,
				ElDeg:      el,
				Dwell:      dwell,
				Modality:   cue.SourceType,
				Zoom:       p.zoom,
				PowerPct:   p.powerPct,
				GainPct:    p.gainPct,
				ClutterPct: p.clutterPct,
			})
		}
	}
	return tiles
}

// tileParams are the requested modality parameters before capability
// clamping.
type tileParams struct {
	zoom       float64
	powerPct   float64
	gainPct    float64
	clutterPct float64
}
