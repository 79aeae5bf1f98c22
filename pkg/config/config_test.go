package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.75, cfg.Confidence.Base, 1e-9)
	assert.InDelta(t, 1.0, cfg.Range.FixedKM, 1e-9)
	assert.Equal(t, 27, cfg.Planner.MaxTiles)
	assert.InDelta(t, 0.85, cfg.ValidateAt, 1e-9)
	assert.InDelta(t, 30, cfg.VisionCaps.ZoomMax, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_BASE", "0.6")
	t.Setenv("CONF_HYSTERESIS", "0.1")
	t.Setenv("CONF_WEIGHT_RSSI_DBM", "0.9")
	t.Setenv("RANGE_MAX_KM", "12")
	t.Setenv("PLANNER_MAX_TILES", "9")
	t.Setenv("PLANNER_TIME_BUDGET", "30s")
	t.Setenv("PLANNER_ELEVATIONS", "1.0, 2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.6, cfg.Confidence.Base, 1e-9)
	assert.InDelta(t, 0.1, cfg.Confidence.Hysteresis, 1e-9)
	assert.InDelta(t, 0.9, cfg.Confidence.Weights["rssi_dbm"], 1e-9)
	assert.InDelta(t, 12, cfg.Range.MaxKM, 1e-9)
	assert.Equal(t, 9, cfg.Planner.MaxTiles)
	assert.Equal(t, 30*time.Second, cfg.Planner.TimeBudget)
	assert.Equal(t, []float64{1.0, 2.5}, cfg.Planner.Ladder.Elevations)
}

func TestLoadBareDurationIsMilliseconds(t *testing.T) {
	t.Setenv("PLANNER_DWELL", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Planner.Dwell)
}

func TestLoadRejectsInvalidSections(t *testing.T) {
	tests := []struct {
		name        string
		key, value  string
		wantSection string
	}{
		{
			name:        "confidence ordering",
			key:         "CONFIDENCE_BASE",
			value:       "0.2",
			wantSection: "confidence",
		},
		{
			name:        "range bounds",
			key:         "RANGE_MIN_KM",
			value:       "100",
			wantSection: "range",
		},
		{
			name:        "planner tiles",
			key:         "PLANNER_MAX_TILES",
			value:       "0",
			wantSection: "planner",
		},
		{
			name:        "track threshold",
			key:         "TRACK_VALIDATE_AT",
			value:       "1.5",
			wantSection: "track",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)

			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantSection, cerr.Section)
		})
	}
}

func TestMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("CONFIDENCE_BASE", "not-a-number")
	t.Setenv("PLANNER_ELEVATIONS", "1.0,oops")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.75, cfg.Confidence.Base, 1e-9)
	assert.Equal(t, []float64{0.5, 1.5, 3.0}, cfg.Planner.Ladder.Elevations)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("THEBOX_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnv("THEBOX_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnv("THEBOX_TEST_KEY_MISSING", "fallback"))
}
