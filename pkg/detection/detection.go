package detection

import (
	"encoding/json"
	"time"
)

// Well-known cue names emitted by the sensor normalizers. The fusion engines
// recognize these; anything else is carried through with a default weight.
const (
	CueRSSIDBm         = "rssi_dbm"
	CueSignalBars      = "signal_bars"
	CueVisionScore     = "vision_score"
	CueSPLDBA          = "spl_dba"
	CueAcousticSNRDB   = "acoustic_snr_db"
	CueSeaState        = "sea_state"
	CueEOPixelHeight   = "eo_pixel_height"
	CueEOFrameHeight   = "eo_frame_height"
	CueEOFOVDeg        = "eo_fov_deg"
	CueEOBacklit       = "eo_backlit"
	CueIRPixelHeight   = "ir_pixel_height"
	CueIRFrameHeight   = "ir_frame_height"
	CueIRFOVDeg        = "ir_fov_deg"
	CueIRPoorContrast  = "ir_poor_contrast"
	CueVisionVerified  = "vision_verified"
	CueBearingErrorDeg = "bearing_error_deg"
)

// CueValue holds one raw sensor reading, which arrives over the wire as
// either a JSON number or a JSON bool. A value that is neither decodes as
// unusable rather than failing the whole detection.
type CueValue struct {
	Num    float64
	IsBool bool
	Bool   bool
	Usable bool
}

// NumberCue builds a usable numeric reading.
func NumberCue(v float64) CueValue {
	return CueValue{Num: v, Usable: true}
}

// BoolCue builds a usable boolean reading.
func BoolCue(b bool) CueValue {
	return CueValue{IsBool: true, Bool: b, Usable: true}
}

// Number reports the reading as a float, mapping bools to 1/0.
func (v CueValue) Number() (float64, bool) {
	if !v.Usable {
		return 0, false
	}
	if v.IsBool {
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	return v.Num, true
}

// True reports whether the value is a bool reading true.
func (v CueValue) True() bool {
	return v.Usable && v.IsBool && v.Bool
}

func (v *CueValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = CueValue{IsBool: true, Bool: b, Usable: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = CueValue{Num: f, Usable: true}
		return nil
	}
	// Malformed reading: skip the cue, never the record.
	*v = CueValue{}
	return nil
}

func (v CueValue) MarshalJSON() ([]byte, error) {
	if v.IsBool {
		return json.Marshal(v.Bool)
	}
	return json.Marshal(v.Num)
}

// CueSet maps cue names to raw readings for one detection event.
type CueSet map[string]CueValue

// Number looks up a cue and returns its numeric reading.
func (c CueSet) Number(name string) (float64, bool) {
	v, ok := c[name]
	if !ok {
		return 0, false
	}
	return v.Number()
}

// Flag looks up a boolean cue, treating absence as false.
func (c CueSet) Flag(name string) bool {
	v, ok := c[name]
	return ok && v.True()
}

// Detection is a normalized sensor detection event as produced by the
// per-sensor normalizers.
type Detection struct {
	Envelope Envelope `json:"envelope"`

	TrackID     string  `json:"track_id"`
	TimestampMS int64   `json:"timestamp_ms"`
	Cues        CueSet  `json:"cues"`
	BearingDeg  float64 `json:"bearing_deg"` // [0,360)
	SensorID    string  `json:"sensor_id"`
	SensorType  string  `json:"sensor_type"` // rf, vision, ir, acoustic, radar
}

func (d *Detection) GetEnvelope() Envelope  { return d.Envelope }
func (d *Detection) SetEnvelope(e Envelope) { d.Envelope = e }

func (d *Detection) Subject() string {
	return "detect." + d.SensorID + "." + d.SensorType
}

// Time returns the detection timestamp as wall time.
func (d *Detection) Time() time.Time {
	return time.UnixMilli(d.TimestampMS).UTC()
}

// NewDetection creates a detection message stamped with a fresh envelope.
func NewDetection(sensorID, sensorType string) *Detection {
	return &Detection{
		Envelope:   NewEnvelope(sensorID, "sensor"),
		SensorID:   sensorID,
		SensorType: sensorType,
		Cues:       CueSet{},
	}
}

// VisionEvent is an authoritative vision-verification signal attached to a
// detection by the vision normalizer.
type VisionEvent struct {
	Verified bool    `json:"verified"`
	Score    float64 `json:"score"`
}

// VisionEvent extracts the verification signal when the normalizer attached
// one; nil otherwise.
func (d *Detection) VisionEvent() *VisionEvent {
	v, ok := d.Cues[CueVisionVerified]
	if !ok || !v.IsBool || !v.Usable {
		return nil
	}
	score, _ := d.Cues.Number(CueVisionScore)
	return &VisionEvent{Verified: v.Bool, Score: score}
}

// DirectionalCue asks the search planner to disambiguate an uncertain
// bearing using the named modality.
type DirectionalCue struct {
	Envelope Envelope `json:"envelope"`

	ObjectID        string  `json:"object_id"`
	BearingDegTrue  float64 `json:"bearing_deg_true"` // [0,360)
	BearingErrorDeg float64 `json:"bearing_error_deg"`
	SourceType      string  `json:"source_type"` // vision or radar
	Confidence      float64 `json:"confidence"`  // [0,1]
}

func (c *DirectionalCue) GetEnvelope() Envelope  { return c.Envelope }
func (c *DirectionalCue) SetEnvelope(e Envelope) { c.Envelope = e }

func (c *DirectionalCue) Subject() string {
	return "cue.directional." + c.SourceType
}

// CorrectedSighting is the planner's output after a positive verdict: the
// original cue with a confirmed bearing and a synthetic range attached.
type CorrectedSighting struct {
	Envelope Envelope `json:"envelope"`

	ObjectID         string    `json:"object_id"`
	TimeUTC          time.Time `json:"time_utc"`
	DistanceM        float64   `json:"distance_m"`
	DistanceErrorM   float64   `json:"distance_error_m"`
	BearingDegTrue   float64   `json:"bearing_deg_true"` // [0,360)
	BearingErrorDeg  float64   `json:"bearing_error_deg"`
	AltitudeM        float64   `json:"altitude_m"`
	AltitudeErrorM   float64   `json:"altitude_error_m"`
	Confidence       float64   `json:"confidence"` // [0,100]
	RangeIsSynthetic bool      `json:"range_is_synthetic"`
	RangeMethod      string    `json:"range_method"`
}

func (s *CorrectedSighting) GetEnvelope() Envelope  { return s.Envelope }
func (s *CorrectedSighting) SetEnvelope(e Envelope) { s.Envelope = e }

func (s *CorrectedSighting) Subject() string {
	return "sighting.corrected." + s.ObjectID
}
