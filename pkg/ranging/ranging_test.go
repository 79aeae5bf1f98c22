package ranging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/thebox/pkg/detection"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	return NewEngine(cfg)
}

func TestFixedFallback(t *testing.T) {
	e := newEngine(t)
	var st State

	est := e.Estimate(&st, detection.CueSet{})

	assert.Equal(t, ModeFixed, est.Mode)
	assert.InDelta(t, 1.0, est.RangeKM, 1e-9)
	assert.Greater(t, est.SigmaKM, 0.0)

	// Cues that are present but unusable also fall back.
	est = e.Estimate(&st, detection.CueSet{detection.CueRSSIDBm: {}})
	assert.Equal(t, ModeFixed, est.Mode)
}

func TestRFRange(t *testing.T) {
	e := newEngine(t)
	var st State

	// At the calibration point the model returns the reference range.
	est := e.Estimate(&st, detection.CueSet{detection.CueRSSIDBm: detection.NumberCue(-50)})
	assert.Equal(t, ModeRF, est.Mode)
	assert.InDelta(t, 2.0, est.RangeKM, 1e-9)
	assert.InDelta(t, 0.7, est.SigmaKM, 1e-9)

	// Weaker signal reads farther; EWMA blends with the previous reading.
	est = e.Estimate(&st, detection.CueSet{detection.CueRSSIDBm: detection.NumberCue(-60)})
	assert.Equal(t, ModeRF, est.Mode)
	assert.InDelta(t, 0.4*2.5+0.6*2.0, est.RangeKM, 1e-9)
}

func TestRFRangeClampedToBounds(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		rssi float64
		want float64
	}{
		{name: "implausibly hot signal clamps to min", rssi: 30, want: 0.05},
		{name: "implausibly weak signal clamps to max", rssi: -300, want: 8.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var st State
			est := e.Estimate(&st, detection.CueSet{detection.CueRSSIDBm: detection.NumberCue(tt.rssi)})
			assert.InDelta(t, tt.want, est.RangeKM, 1e-9)
		})
	}
}

func TestPinholeEO(t *testing.T) {
	e := newEngine(t)
	var st State

	cues := detection.CueSet{
		detection.CueEOPixelHeight: detection.NumberCue(12),
		detection.CueEOFrameHeight: detection.NumberCue(1080),
		detection.CueEOFOVDeg:      detection.NumberCue(60),
	}

	est := e.Estimate(&st, cues)
	require.Equal(t, ModeEO, est.Mode)
	assert.Greater(t, est.RangeKM, 0.0)
	assert.LessOrEqual(t, est.RangeKM, 8.0)

	// A bigger apparent target is closer.
	cues[detection.CueEOPixelHeight] = detection.NumberCue(48)
	closer := e.Estimate(&st, cues)
	assert.Less(t, closer.RangeKM, est.RangeKM)
}

func TestPinholeBacklitInflatesSigma(t *testing.T) {
	e := newEngine(t)
	var st State

	cues := detection.CueSet{
		detection.CueEOPixelHeight: detection.NumberCue(12),
		detection.CueEOFrameHeight: detection.NumberCue(1080),
		detection.CueEOFOVDeg:      detection.NumberCue(60),
	}
	clean := e.Estimate(&st, cues)

	cues[detection.CueEOBacklit] = detection.BoolCue(true)
	backlit := e.Estimate(&st, cues)

	assert.InDelta(t, clean.RangeKM, backlit.RangeKM, 1e-9, "backlit affects sigma only")
	assert.InDelta(t, clean.SigmaKM*2, backlit.SigmaKM, 1e-9)
}

func TestPinholeDisqualification(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		cues detection.CueSet
	}{
		{
			name: "zero pixel height",
			cues: detection.CueSet{
				detection.CueEOPixelHeight: detection.NumberCue(0),
				detection.CueEOFrameHeight: detection.NumberCue(1080),
				detection.CueEOFOVDeg:      detection.NumberCue(60),
			},
		},
		{
			name: "missing fov",
			cues: detection.CueSet{
				detection.CueEOPixelHeight: detection.NumberCue(12),
				detection.CueEOFrameHeight: detection.NumberCue(1080),
			},
		},
		{
			name: "absurd fov",
			cues: detection.CueSet{
				detection.CueEOPixelHeight: detection.NumberCue(12),
				detection.CueEOFrameHeight: detection.NumberCue(1080),
				detection.CueEOFOVDeg:      detection.NumberCue(200),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var st State
			est := e.Estimate(&st, tt.cues)
			assert.Equal(t, ModeFixed, est.Mode, "disqualified cue falls back, never errors")
		})
	}
}

func TestAcousticRange(t *testing.T) {
	e := newEngine(t)
	var st State

	// At the calibration SPL the model returns the calibration distance.
	est := e.Estimate(&st, detection.CueSet{detection.CueSPLDBA: detection.NumberCue(80)})
	require.Equal(t, ModeAcoustic, est.Mode)
	assert.InDelta(t, 0.3, est.RangeKM, 1e-9)

	// 6 dB quieter is twice as far.
	est = e.Estimate(&st, detection.CueSet{detection.CueSPLDBA: detection.NumberCue(74)})
	assert.InDelta(t, 0.6, est.RangeKM, 0.002)
}

func TestAcousticSigmaInflation(t *testing.T) {
	e := newEngine(t)
	var st State

	base := e.Estimate(&st, detection.CueSet{detection.CueSPLDBA: detection.NumberCue(74)})

	poorSNR := e.Estimate(&st, detection.CueSet{
		detection.CueSPLDBA:        detection.NumberCue(74),
		detection.CueAcousticSNRDB: detection.NumberCue(3),
	})
	assert.Greater(t, poorSNR.SigmaKM, base.SigmaKM)

	roughSea := e.Estimate(&st, detection.CueSet{
		detection.CueSPLDBA:   detection.NumberCue(74),
		detection.CueSeaState: detection.NumberCue(5),
	})
	assert.Greater(t, roughSea.SigmaKM, base.SigmaKM)
}

func TestHybridFusion(t *testing.T) {
	e := newEngine(t)
	var st State

	cues := detection.CueSet{
		detection.CueRSSIDBm: detection.NumberCue(-50), // 2.0 km, sigma 0.7
		detection.CueSPLDBA:  detection.NumberCue(60),  // 3.0 km, sigma 1.5
	}
	est := e.Estimate(&st, cues)

	require.Equal(t, ModeHybrid, est.Mode)
	assert.Greater(t, est.RangeKM, 2.0)
	assert.Less(t, est.RangeKM, 3.0)
	assert.LessOrEqual(t, est.SigmaKM, 0.7, "fused sigma never exceeds the best contributor")
	assert.Contains(t, est.Details, "rf")
	assert.Contains(t, est.Details, "acoustic")
}

func TestSigmaBounds(t *testing.T) {
	e := newEngine(t)

	// Three agreeing cues can push raw fused sigma under the floor.
	var st State
	cues := detection.CueSet{
		detection.CueRSSIDBm:       detection.NumberCue(-50),
		detection.CueSPLDBA:        detection.NumberCue(63.5),
		detection.CueEOPixelHeight: detection.NumberCue(6),
		detection.CueEOFrameHeight: detection.NumberCue(1080),
		detection.CueEOFOVDeg:      detection.NumberCue(60),
	}
	est := e.Estimate(&st, cues)
	assert.GreaterOrEqual(t, est.SigmaKM, est.RangeKM*0.05-1e-9, "sigma floored at 5% of range")
	assert.LessOrEqual(t, est.SigmaKM, est.RangeKM*1.0+1e-9, "sigma capped at 100% of range")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "min above max",
			mutate:  func(c *Config) { c.MinKM = 10 },
			wantErr: true,
		},
		{
			name:    "fixed outside bounds",
			mutate:  func(c *Config) { c.FixedKM = 100 },
			wantErr: true,
		},
		{
			name:    "zero target height",
			mutate:  func(c *Config) { c.TargetHeightM = 0 },
			wantErr: true,
		},
		{
			name:    "ewma alpha out of range",
			mutate:  func(c *Config) { c.EWMAAlpha = 0 },
			wantErr: true,
		},
		{
			name:    "sigma floor above ceiling",
			mutate:  func(c *Config) { c.SigmaFloorFrac = 2 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
