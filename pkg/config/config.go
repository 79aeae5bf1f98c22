// Package config assembles the full tuning surface of TheBox from the
// environment and rejects structurally invalid settings before any engine
// runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seaward-systems/thebox/pkg/confidence"
	"github.com/seaward-systems/thebox/pkg/ranging"
	"github.com/seaward-systems/thebox/pkg/search"
)

// ConfigurationError marks a structurally invalid configuration. It is the
// only error class in the system that surfaces to the operator and aborts
// startup.
type ConfigurationError struct {
	Section string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Section, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config is the full tuning surface.
type Config struct {
	Confidence confidence.Config
	Range      ranging.Config
	Planner    search.Config

	// Track store
	ValidateAt float64

	// Adapter capability envelopes
	VisionCaps search.Capabilities
	RadarCaps  search.Capabilities
}

// Load reads the configuration from the environment over the shipped
// defaults and validates it.
func Load() (Config, error) {
	cfg := Config{
		Confidence: confidence.DefaultConfig(),
		Range:      ranging.DefaultConfig(),
		Planner:    search.DefaultConfig(),
		ValidateAt: envFloat("TRACK_VALIDATE_AT", 0.85),
		VisionCaps: search.DefaultVisionCapabilities(),
		RadarCaps:  search.DefaultRadarCapabilities(),
	}

	// Confidence engine
	cfg.Confidence.Base = envFloat("CONFIDENCE_BASE", cfg.Confidence.Base)
	cfg.Confidence.True = envFloat("CONFIDENCE_TRUE", cfg.Confidence.True)
	cfg.Confidence.FalseFloor = envFloat("CONFIDENCE_FALSE", cfg.Confidence.FalseFloor)
	cfg.Confidence.Min = envFloat("CONFIDENCE_MIN", cfg.Confidence.Min)
	cfg.Confidence.Max = envFloat("CONFIDENCE_MAX", cfg.Confidence.Max)
	cfg.Confidence.Hysteresis = envFloat("CONF_HYSTERESIS", cfg.Confidence.Hysteresis)
	cfg.Confidence.DecayAlpha = envFloat("CONF_DECAY_ALPHA", cfg.Confidence.DecayAlpha)
	cfg.Confidence.VisionWindow = envDuration("CONF_VISION_WINDOW", cfg.Confidence.VisionWindow)
	cfg.Confidence.StaleAfter = envDuration("CONF_STALE_AFTER", cfg.Confidence.StaleAfter)
	for name := range cfg.Confidence.Weights {
		key := "CONF_WEIGHT_" + strings.ToUpper(name)
		cfg.Confidence.Weights[name] = envFloat(key, cfg.Confidence.Weights[name])
	}

	// Range engine
	cfg.Range.FixedKM = envFloat("RANGE_FIXED_KM", cfg.Range.FixedKM)
	cfg.Range.MinKM = envFloat("RANGE_MIN_KM", cfg.Range.MinKM)
	cfg.Range.MaxKM = envFloat("RANGE_MAX_KM", cfg.Range.MaxKM)
	cfg.Range.RFRefDBm = envFloat("RANGE_RF_REF_DBM", cfg.Range.RFRefDBm)
	cfg.Range.RFRefKM = envFloat("RANGE_RF_REF_KM", cfg.Range.RFRefKM)
	cfg.Range.RFSlopeKMPerDB = envFloat("RANGE_RF_SLOPE_KM_PER_DB", cfg.Range.RFSlopeKMPerDB)
	cfg.Range.EWMAAlpha = envFloat("RANGE_EWMA_ALPHA", cfg.Range.EWMAAlpha)
	cfg.Range.TargetHeightM = envFloat("RANGE_TARGET_HEIGHT_M", cfg.Range.TargetHeightM)
	cfg.Range.AcousticRefDBA = envFloat("RANGE_ACOUSTIC_REF_DBA", cfg.Range.AcousticRefDBA)
	cfg.Range.AcousticRefKM = envFloat("RANGE_ACOUSTIC_REF_KM", cfg.Range.AcousticRefKM)
	cfg.Range.BacklitSigmaMult = envFloat("RANGE_BACKLIT_SIGMA_MULT", cfg.Range.BacklitSigmaMult)
	cfg.Range.SeaStateSigmaMult = envFloat("RANGE_SEA_STATE_SIGMA_MULT", cfg.Range.SeaStateSigmaMult)

	// Planner
	cfg.Planner.MaxTiles = envInt("PLANNER_MAX_TILES", cfg.Planner.MaxTiles)
	cfg.Planner.TimeBudget = envDuration("PLANNER_TIME_BUDGET", cfg.Planner.TimeBudget)
	cfg.Planner.Dwell = envDuration("PLANNER_DWELL", cfg.Planner.Dwell)
	cfg.Planner.Settle = envDuration("PLANNER_SETTLE", cfg.Planner.Settle)
	cfg.Planner.AnalyzerSLA = envDuration("PLANNER_ANALYZER_SLA", cfg.Planner.AnalyzerSLA)
	cfg.Planner.Ladder.StepAzDeg = envFloat("PLANNER_STEP_AZ_DEG", cfg.Planner.Ladder.StepAzDeg)
	cfg.Planner.Ladder.SpanAzDeg = envFloat("PLANNER_SPAN_AZ_DEG", cfg.Planner.Ladder.SpanAzDeg)
	if elevs, ok := envFloats("PLANNER_ELEVATIONS"); ok {
		cfg.Planner.Ladder.Elevations = elevs
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs each section's structural checks.
func (c Config) Validate() error {
	if err := c.Confidence.Validate(); err != nil {
		return &ConfigurationError{Section: "confidence", Err: err}
	}
	if err := c.Range.Validate(); err != nil {
		return &ConfigurationError{Section: "range", Err: err}
	}
	if err := c.Planner.Validate(); err != nil {
		return &ConfigurationError{Section: "planner", Err: err}
	}
	if c.ValidateAt <= 0 || c.ValidateAt > 1 {
		return &ConfigurationError{Section: "track", Err: fmt.Errorf("validate_at %.2f outside (0,1]", c.ValidateAt)}
	}
	return nil
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are milliseconds, matching the *_MS knobs of the
		// original deployment tooling.
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func envFloats(key string) ([]float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return nil, false
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// GetEnv returns an environment value with a default, shared by the agent
// mains.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
