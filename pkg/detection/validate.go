package detection

import (
	"fmt"
	"math"
)

// ValidationError marks a malformed inbound record or field. Callers skip
// the offending record or cue; it is never fatal to the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NormalizeBearing wraps any angle into [0,360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	// Mod can return 360 for inputs like -1e-15.
	if b >= 360 {
		b = 0
	}
	return b
}

// WrapAzimuth wraps any angle into (-180,180].
func WrapAzimuth(deg float64) float64 {
	az := math.Mod(deg, 360)
	if az > 180 {
		az -= 360
	} else if az <= -180 {
		az += 360
	}
	return az
}

// ValidateDetection checks a normalized detection once at the ingest
// boundary. Angles are not auto-normalized by constructors; out-of-range
// bearings are rejected here instead.
func ValidateDetection(d *Detection) error {
	if d.TrackID == "" {
		return &ValidationError{Field: "track_id", Reason: "empty"}
	}
	if d.TimestampMS <= 0 {
		return &ValidationError{Field: "timestamp_ms", Reason: "missing or non-positive"}
	}
	if math.IsNaN(d.BearingDeg) || math.IsInf(d.BearingDeg, 0) {
		return &ValidationError{Field: "bearing_deg", Reason: "not finite"}
	}
	if d.BearingDeg < 0 || d.BearingDeg >= 360 {
		return &ValidationError{Field: "bearing_deg", Reason: fmt.Sprintf("%.3f outside [0,360)", d.BearingDeg)}
	}
	return nil
}

// ValidateDirectionalCue checks a planner cue at the boundary.
func ValidateDirectionalCue(c *DirectionalCue) error {
	if c.ObjectID == "" {
		return &ValidationError{Field: "object_id", Reason: "empty"}
	}
	if c.BearingDegTrue < 0 || c.BearingDegTrue >= 360 {
		return &ValidationError{Field: "bearing_deg_true", Reason: fmt.Sprintf("%.3f outside [0,360)", c.BearingDegTrue)}
	}
	if c.BearingErrorDeg < 0 {
		return &ValidationError{Field: "bearing_error_deg", Reason: "negative"}
	}
	if c.SourceType != "vision" && c.SourceType != "radar" {
		return &ValidationError{Field: "source_type", Reason: "must be vision or radar"}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "outside [0,1]"}
	}
	return nil
}
