package detection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCreation(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		sourceType string
	}{
		{
			name:       "sensor envelope",
			source:     "sensor-001",
			sourceType: "sensor",
		},
		{
			name:       "fusion envelope",
			source:     "fusion-001",
			sourceType: "fusion",
		},
		{
			name:       "planner envelope",
			source:     "planner-001",
			sourceType: "planner",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope(tt.source, tt.sourceType)

			assert.NotEmpty(t, env.MessageID, "MessageID should be generated")
			assert.Equal(t, tt.source, env.Source)
			assert.Equal(t, tt.sourceType, env.SourceType)
			assert.False(t, env.Timestamp.IsZero(), "Timestamp should be set")
		})
	}
}

func TestEnvelopeSignature(t *testing.T) {
	secret := []byte("test-secret")
	payload := []byte(`{"track_id":"UAS-0001"}`)

	env := NewEnvelope("sensor-001", "sensor")
	env.Sign(payload, secret)

	require.NotEmpty(t, env.Signature)
	assert.True(t, env.VerifySignature(payload, secret))
	assert.False(t, env.VerifySignature([]byte(`tampered`), secret))
	assert.False(t, env.VerifySignature(payload, []byte("wrong-secret")))
}

func TestCueValueUnmarshal(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantUsable bool
		wantBool   bool
		wantNum    float64
		isBool     bool
	}{
		{
			name:       "number",
			raw:        `-52.5`,
			wantUsable: true,
			wantNum:    -52.5,
		},
		{
			name:       "bool true",
			raw:        `true`,
			wantUsable: true,
			isBool:     true,
			wantBool:   true,
		},
		{
			name:       "bool false",
			raw:        `false`,
			wantUsable: true,
			isBool:     true,
		},
		{
			name:       "string is unusable, not an error",
			raw:        `"garbage"`,
			wantUsable: false,
		},
		{
			name:       "null is unusable, not an error",
			raw:        `null`,
			wantUsable: false,
		},
		{
			name:       "object is unusable, not an error",
			raw:        `{"x":1}`,
			wantUsable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v CueValue
			err := json.Unmarshal([]byte(tt.raw), &v)
			require.NoError(t, err, "malformed cue values must not fail decoding")

			assert.Equal(t, tt.wantUsable, v.Usable)
			assert.Equal(t, tt.isBool, v.IsBool)
			if tt.wantUsable && !tt.isBool {
				n, ok := v.Number()
				require.True(t, ok)
				assert.InDelta(t, tt.wantNum, n, 1e-9)
			}
			if tt.isBool {
				assert.Equal(t, tt.wantBool, v.Bool)
			}
		})
	}
}

func TestCueSetMixedPayload(t *testing.T) {
	raw := `{
		"envelope": {"message_id": "m1", "source": "rf-01", "source_type": "sensor", "timestamp": "2026-01-02T03:04:05Z"},
		"track_id": "UAS-0001",
		"timestamp_ms": 1700000000000,
		"cues": {
			"rssi_dbm": -48.0,
			"vision_verified": true,
			"sea_state": "four"
		},
		"bearing_deg": 271.5,
		"sensor_id": "rf-01",
		"sensor_type": "rf"
	}`

	var det Detection
	require.NoError(t, json.Unmarshal([]byte(raw), &det))

	rssi, ok := det.Cues.Number(CueRSSIDBm)
	require.True(t, ok)
	assert.InDelta(t, -48.0, rssi, 1e-9)

	assert.True(t, det.Cues.Flag(CueVisionVerified))

	// Malformed cue skipped, the record survives.
	_, ok = det.Cues.Number(CueSeaState)
	assert.False(t, ok)

	require.NoError(t, ValidateDetection(&det))
}

func TestVisionEventExtraction(t *testing.T) {
	det := NewDetection("cam-01", "vision")
	det.Cues[CueVisionVerified] = BoolCue(true)
	det.Cues[CueVisionScore] = NumberCue(0.93)

	ev := det.VisionEvent()
	require.NotNil(t, ev)
	assert.True(t, ev.Verified)
	assert.InDelta(t, 0.93, ev.Score, 1e-9)

	// A numeric vision_verified is not an authoritative event.
	det.Cues[CueVisionVerified] = NumberCue(1)
	assert.Nil(t, det.VisionEvent())

	delete(det.Cues, CueVisionVerified)
	assert.Nil(t, det.VisionEvent())
}

func TestNormalizeBearing(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{359.999, 359.999},
		{360, 0},
		{361, 1},
		{720.5, 0.5},
		{-1, 359},
		{-360, 0},
		{-540, 180},
	}

	for _, tt := range tests {
		got := NormalizeBearing(tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "NormalizeBearing(%v)", tt.in)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 360.0)
	}
}

func TestWrapAzimuth(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{180, 180},
		{181, -179},
		{-180, 180},
		{-181, 179},
		{359, -1},
		{360, 0},
		{540, 180},
	}

	for _, tt := range tests {
		got := WrapAzimuth(tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "WrapAzimuth(%v)", tt.in)
		assert.Greater(t, got, -180.0)
		assert.LessOrEqual(t, got, 180.0)
	}
}

func TestValidateDetection(t *testing.T) {
	valid := func() *Detection {
		return &Detection{
			Envelope:    NewEnvelope("rf-01", "sensor"),
			TrackID:     "UAS-0001",
			TimestampMS: time.Now().UnixMilli(),
			Cues:        CueSet{},
			BearingDeg:  45,
			SensorID:    "rf-01",
			SensorType:  "rf",
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Detection)
		wantField string
	}{
		{
			name:   "valid detection",
			mutate: func(d *Detection) {},
		},
		{
			name:      "empty track id",
			mutate:    func(d *Detection) { d.TrackID = "" },
			wantField: "track_id",
		},
		{
			name:      "missing timestamp",
			mutate:    func(d *Detection) { d.TimestampMS = 0 },
			wantField: "timestamp_ms",
		},
		{
			name:      "bearing out of range",
			mutate:    func(d *Detection) { d.BearingDeg = 360 },
			wantField: "bearing_deg",
		},
		{
			name:      "negative bearing rejected, not auto-normalized",
			mutate:    func(d *Detection) { d.BearingDeg = -5 },
			wantField: "bearing_deg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := ValidateDetection(d)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidateDirectionalCue(t *testing.T) {
	valid := func() *DirectionalCue {
		return &DirectionalCue{
			Envelope:        NewEnvelope("fusion-01", "fusion"),
			ObjectID:        "UAS-0001",
			BearingDegTrue:  271.5,
			BearingErrorDeg: 6,
			SourceType:      "vision",
			Confidence:      0.8,
		}
	}

	tests := []struct {
		name      string
		mutate    func(*DirectionalCue)
		wantField string
	}{
		{
			name:   "valid cue",
			mutate: func(c *DirectionalCue) {},
		},
		{
			name:      "empty object id",
			mutate:    func(c *DirectionalCue) { c.ObjectID = "" },
			wantField: "object_id",
		},
		{
			name:      "bad source type",
			mutate:    func(c *DirectionalCue) { c.SourceType = "sonar" },
			wantField: "source_type",
		},
		{
			name:      "confidence above one",
			mutate:    func(c *DirectionalCue) { c.Confidence = 1.5 },
			wantField: "confidence",
		},
		{
			name:      "negative bearing error",
			mutate:    func(c *DirectionalCue) { c.BearingErrorDeg = -1 },
			wantField: "bearing_error_deg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := ValidateDirectionalCue(c)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestMarshalWithSignature(t *testing.T) {
	secret := []byte("shared-secret")
	det := NewDetection("rf-01", "rf")
	det.TrackID = "UAS-0001"
	det.TimestampMS = time.Now().UnixMilli()
	det.BearingDeg = 10

	data, err := MarshalWithSignature(det, secret)
	require.NoError(t, err)

	var decoded Detection
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotEmpty(t, decoded.Envelope.Signature)
	assert.Equal(t, "detect.rf-01.rf", decoded.Subject())
}
