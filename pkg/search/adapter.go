package search

import (
	"context"
	"math"
	"time"
)

// Capabilities bounds the parameters a device will accept. The planner
// clamps every tile to these before dispatch so the adapter is never handed
// an out-of-range value.
type Capabilities struct {
	ZoomMin, ZoomMax       float64
	PowerMin, PowerMax     float64
	GainMin, GainMax       float64
	ClutterMin, ClutterMax float64
}

// DefaultVisionCapabilities matches a typical EO gimbal.
func DefaultVisionCapabilities() Capabilities {
	return Capabilities{ZoomMin: 1, ZoomMax: 30}
}

// DefaultRadarCapabilities matches a typical small surveillance radar.
func DefaultRadarCapabilities() Capabilities {
	return Capabilities{PowerMin: 10, PowerMax: 100, GainMin: 0, GainMax: 100, ClutterMin: 0, ClutterMax: 80}
}

// Tile is one discrete azimuth/elevation/dwell unit of a search sweep.
// Immutable once generated.
type Tile struct {
	AzDeg float64       `json:"az_deg"` // (-180,180]
	ElDeg float64       `json:"el_deg"`
	Dwell time.Duration `json:"dwell"`

	// Modality parameters, clamped to device capability before dispatch.
	Modality   string  `json:"modality"` // vision or radar
	Zoom       float64 `json:"zoom,omitempty"`
	PowerPct   float64 `json:"power_pct,omitempty"`
	GainPct    float64 `json:"gain_pct,omitempty"`
	ClutterPct float64 `json:"clutter_pct,omitempty"`
}

// Verdict is the adapter's confirmation for one tile.
type Verdict struct {
	IsTrue       bool    `json:"is_true"`
	Score        float64 `json:"score"`
	ArtifactPath string  `json:"artifact_path,omitempty"`
}

// Adapter steers a camera gimbal or radar head to a tile and analyzes the
// result. Dispatch must honor ctx cancellation; the planner bounds each call
// with the tile SLA.
type Adapter interface {
	Capabilities() Capabilities
	Dispatch(ctx context.Context, tile Tile) (Verdict, error)
}

// clampTile bounds the tile's modality parameters to the device envelope.
func clampTile(t Tile, caps Capabilities) Tile {
	t.Zoom = clampRange(t.Zoom, caps.ZoomMin, caps.ZoomMax)
	t.PowerPct = clampRange(t.PowerPct, caps.PowerMin, caps.PowerMax)
	t.GainPct = clampRange(t.GainPct, caps.GainMin, caps.GainMax)
	t.ClutterPct = clampRange(t.ClutterPct, caps.ClutterMin, caps.ClutterMax)
	return t
}

func clampRange(v, lo, hi float64) float64 {
	if lo == 0 && hi == 0 {
		return v
	}
	return math.Min(hi, math.Max(lo, v))
}
