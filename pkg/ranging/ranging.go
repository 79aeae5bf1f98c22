// Package ranging implements the per-track slant-range estimator: per-cue
// inverse-distance models (RF, EO, IR, acoustic) fused by inverse-variance
// weighting, with a fixed fallback when no cue is usable.
package ranging

import (
	"fmt"
	"math"

	"github.com/seaward-systems/thebox/pkg/detection"
)

// Mode names which cue(s) produced the estimate.
type Mode string

const (
	ModeFixed    Mode = "FIXED"
	ModeRF       Mode = "rf"
	ModeEO       Mode = "eo"
	ModeIR       Mode = "ir"
	ModeAcoustic Mode = "acoustic"
	ModeHybrid   Mode = "HYBRID"
)

// Config holds the calibration surface. All constants are configurable
// pending confirmation against the original calibration data.
type Config struct {
	FixedKM float64
	MinKM   float64
	MaxKM   float64

	// RF: range = RefKM + SlopeKMPerDB*(RefDBm - rssi), EWMA-smoothed.
	RFRefDBm       float64
	RFRefKM        float64
	RFSlopeKMPerDB float64
	EWMAAlpha      float64

	// EO/IR pinhole: assumed physical target height in meters.
	TargetHeightM    float64
	BacklitSigmaMult float64

	// Acoustic: SPL at the calibration distance, 6 dB per doubling.
	AcousticRefDBA    float64
	AcousticRefKM     float64
	PoorSNRSigmaMult  float64
	SeaStateSigmaMult float64
	MinSNRDB          float64

	// Per-cue base sigma as a fraction of the cue's range estimate.
	RFSigmaFrac       float64
	EOSigmaFrac       float64
	IRSigmaFrac       float64
	AcousticSigmaFrac float64

	// Output sigma bounds as fractions of the fused range.
	SigmaFloorFrac float64
	SigmaCeilFrac  float64
}

// DefaultConfig returns the shipped calibration.
func DefaultConfig() Config {
	return Config{
		FixedKM:           1.0,
		MinKM:             0.05,
		MaxKM:             8.0,
		RFRefDBm:          -50,
		RFRefKM:           2.0,
		RFSlopeKMPerDB:    0.05,
		EWMAAlpha:         0.4,
		TargetHeightM:     0.35,
		BacklitSigmaMult:  2.0,
		AcousticRefDBA:    80,
		AcousticRefKM:     0.3,
		PoorSNRSigmaMult:  1.8,
		SeaStateSigmaMult: 1.5,
		MinSNRDB:          6,
		RFSigmaFrac:       0.35,
		EOSigmaFrac:       0.25,
		IRSigmaFrac:       0.30,
		AcousticSigmaFrac: 0.50,
		SigmaFloorFrac:    0.05,
		SigmaCeilFrac:     1.0,
	}
}

// Validate rejects structurally invalid calibrations at load time.
func (c Config) Validate() error {
	if c.MinKM <= 0 || c.MinKM >= c.MaxKM {
		return fmt.Errorf("range bounds invalid: min %.3f km, max %.3f km", c.MinKM, c.MaxKM)
	}
	if c.FixedKM < c.MinKM || c.FixedKM > c.MaxKM {
		return fmt.Errorf("fixed range %.3f km outside [%.3f,%.3f]", c.FixedKM, c.MinKM, c.MaxKM)
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma alpha %.3f outside (0,1]", c.EWMAAlpha)
	}
	if c.TargetHeightM <= 0 {
		return fmt.Errorf("target height must be positive")
	}
	if c.SigmaFloorFrac <= 0 || c.SigmaFloorFrac >= c.SigmaCeilFrac {
		return fmt.Errorf("sigma bounds invalid: floor %.3f, ceil %.3f", c.SigmaFloorFrac, c.SigmaCeilFrac)
	}
	return nil
}

// State is the per-track estimator state (RF smoothing), owned by the track
// store and mutated only under the track's lock.
type State struct {
	RFRangeKM float64
	HasRF     bool
}

// cueEstimate is one usable per-cue range before fusion.
type cueEstimate struct {
	mode    Mode
	rangeKM float64
	sigmaKM float64
	detail  string
}

// Estimate is the fused output.
type Estimate struct {
	RangeKM float64           `json:"range_km"`
	SigmaKM float64           `json:"sigma_km"`
	Mode    Mode              `json:"mode"`
	Details map[string]string `json:"details,omitempty"`
}

// Engine produces range estimates from whichever cues are present.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Estimate fuses the usable cues in the set. No usable cues is not an
// error: the configured fixed range is returned instead.
func (e *Engine) Estimate(st *State, cues detection.CueSet) Estimate {
	var ests []cueEstimate
	if est, ok := e.fromRF(st, cues); ok {
		ests = append(ests, est)
	}
	if est, ok := e.fromPinhole(cues, ModeEO); ok {
		ests = append(ests, est)
	}
	if est, ok := e.fromPinhole(cues, ModeIR); ok {
		ests = append(ests, est)
	}
	if est, ok := e.fromAcoustic(cues); ok {
		ests = append(ests, est)
	}

	details := make(map[string]string, len(ests))
	for _, est := range ests {
		details[string(est.mode)] = est.detail
	}

	switch len(ests) {
	case 0:
		return Estimate{
			RangeKM: e.cfg.FixedKM,
			SigmaKM: e.boundSigma(e.cfg.FixedKM*e.cfg.SigmaCeilFrac, e.cfg.FixedKM),
			Mode:    ModeFixed,
		}
	case 1:
		r := e.clampRange(ests[0].rangeKM)
		return Estimate{
			RangeKM: r,
			SigmaKM: e.boundSigma(ests[0].sigmaKM, r),
			Mode:    ests[0].mode,
			Details: details,
		}
	default:
		// Inverse-variance fusion: the fused sigma can never exceed the
		// smallest contributing sigma.
		var num, den float64
		for _, est := range ests {
			w := 1 / (est.sigmaKM * est.sigmaKM)
			num += est.rangeKM * w
			den += w
		}
		r := e.clampRange(num / den)
		return Estimate{
			RangeKM: r,
			SigmaKM: e.boundSigma(1/math.Sqrt(den), r),
			Mode:    ModeHybrid,
			Details: details,
		}
	}
}

func (e *Engine) fromRF(st *State, cues detection.CueSet) (cueEstimate, bool) {
	rssi, ok := cues.Number(detection.CueRSSIDBm)
	if !ok {
		return cueEstimate{}, false
	}
	r := e.clampRange(e.cfg.RFRefKM + e.cfg.RFSlopeKMPerDB*(e.cfg.RFRefDBm-rssi))

	// EWMA across consecutive RF readings suppresses single-sample jitter.
	if st.HasRF {
		r = e.cfg.EWMAAlpha*r + (1-e.cfg.EWMAAlpha)*st.RFRangeKM
	}
	st.RFRangeKM = r
	st.HasRF = true

	return cueEstimate{
		mode:    ModeRF,
		rangeKM: r,
		sigmaKM: r * e.cfg.RFSigmaFrac,
		detail:  fmt.Sprintf("rssi=%.1f dBm", rssi),
	}, true
}

// fromPinhole covers both EO and IR: an apparent pixel height against a
// known frame height and field of view gives distance to a target of the
// assumed physical size.
func (e *Engine) fromPinhole(cues detection.CueSet, mode Mode) (cueEstimate, bool) {
	var pxKey, frameKey, fovKey, degradedKey string
	sigmaFrac := e.cfg.EOSigmaFrac
	if mode == ModeEO {
		pxKey, frameKey, fovKey, degradedKey = detection.CueEOPixelHeight, detection.CueEOFrameHeight, detection.CueEOFOVDeg, detection.CueEOBacklit
	} else {
		pxKey, frameKey, fovKey, degradedKey = detection.CueIRPixelHeight, detection.CueIRFrameHeight, detection.CueIRFOVDeg, detection.CueIRPoorContrast
		sigmaFrac = e.cfg.IRSigmaFrac
	}

	px, ok1 := cues.Number(pxKey)
	frame, ok2 := cues.Number(frameKey)
	fov, ok3 := cues.Number(fovKey)
	// A missing sub-field, or a zero/invalid pixel height, disqualifies the
	// cue; it is not an error.
	if !ok1 || !ok2 || !ok3 || px <= 0 || frame <= 0 || fov <= 0 || fov >= 180 {
		return cueEstimate{}, false
	}

	angularHeightRad := (px / frame) * fov * math.Pi / 180
	rangeM := e.cfg.TargetHeightM / math.Tan(angularHeightRad)
	if rangeM <= 0 || math.IsInf(rangeM, 0) || math.IsNaN(rangeM) {
		return cueEstimate{}, false
	}
	r := e.clampRange(rangeM / 1000)

	sigma := r * sigmaFrac
	if cues.Flag(degradedKey) {
		sigma *= e.cfg.BacklitSigmaMult
	}

	return cueEstimate{
		mode:    mode,
		rangeKM: r,
		sigmaKM: sigma,
		detail:  fmt.Sprintf("px=%.0f/%.0f fov=%.1f", px, frame, fov),
	}, true
}

func (e *Engine) fromAcoustic(cues detection.CueSet) (cueEstimate, bool) {
	spl, ok := cues.Number(detection.CueSPLDBA)
	if !ok {
		return cueEstimate{}, false
	}

	// Free-field attenuation: 6 dB per doubling of distance from the
	// calibration point.
	r := e.clampRange(e.cfg.AcousticRefKM * math.Pow(10, (e.cfg.AcousticRefDBA-spl)/20))
	sigma := r * e.cfg.AcousticSigmaFrac

	if snr, ok := cues.Number(detection.CueAcousticSNRDB); ok && snr < e.cfg.MinSNRDB {
		sigma *= e.cfg.PoorSNRSigmaMult
	}
	if sea, ok := cues.Number(detection.CueSeaState); ok && sea >= 4 {
		sigma *= e.cfg.SeaStateSigmaMult
	}

	return cueEstimate{
		mode:    ModeAcoustic,
		rangeKM: r,
		sigmaKM: sigma,
		detail:  fmt.Sprintf("spl=%.1f dBA", spl),
	}, true
}

func (e *Engine) clampRange(km float64) float64 {
	return math.Min(e.cfg.MaxKM, math.Max(e.cfg.MinKM, km))
}

// boundSigma floors and ceilings the uncertainty as a fraction of range.
func (e *Engine) boundSigma(sigma, rangeKM float64) float64 {
	floor := rangeKM * e.cfg.SigmaFloorFrac
	ceil := rangeKM * e.cfg.SigmaCeilFrac
	return math.Min(ceil, math.Max(floor, sigma))
}
