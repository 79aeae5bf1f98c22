// Package confidence implements the per-track probability-of-interest
// estimator: Bayesian log-odds fusion of sensor cues with hysteresis,
// staleness decay, and an authoritative vision-verification override.
package confidence

import (
	"fmt"
	"math"
	"time"

	"github.com/seaward-systems/thebox/pkg/detection"
)

// Reason identifies which rule produced a confidence update.
type Reason string

const (
	ReasonVisionTrue     Reason = "vision_true"
	ReasonVisionFalse    Reason = "vision_false"
	ReasonTimeoutDecay   Reason = "timeout_decay"
	ReasonHysteresisHold Reason = "hysteresis_hold"
	ReasonBayesianUpdate Reason = "bayesian_update"
)

// Config holds the tunable surface of the fusion engine.
type Config struct {
	Base       float64 // initial confidence for a new track
	True       float64 // output on a positive vision verification
	FalseFloor float64 // floor on a negative vision verification
	Min        float64 // lower output clamp
	Max        float64 // upper output clamp outside a vision window

	Hysteresis   float64       // minimum change threshold H
	FallRatio    float64       // falling changes move at FallRatio*H
	VisionWindow time.Duration // how long 1.0 stays a legal reading after vision_true
	StaleAfter   time.Duration // idle time before staleness decay applies
	DecayAlpha   float64       // decay blend toward 0.5

	Weights       map[string]float64 // per-cue-type weights
	DefaultWeight float64            // weight for unrecognized cue names
}

// DefaultConfig returns the shipped calibration.
func DefaultConfig() Config {
	return Config{
		Base:         0.75,
		True:         1.0,
		FalseFloor:   0.5,
		Min:          0.05,
		Max:          0.99,
		Hysteresis:   0.05,
		FallRatio:    0.6,
		VisionWindow: 3 * time.Second,
		StaleAfter:   time.Second,
		DecayAlpha:   0.9,
		Weights: map[string]float64{
			detection.CueRSSIDBm:     0.6,
			detection.CueSignalBars:  0.4,
			detection.CueVisionScore: 1.0,
			detection.CueSPLDBA:      0.3,
		},
		DefaultWeight: 0.1,
	}
}

// Validate rejects structurally invalid configurations at load time.
func (c Config) Validate() error {
	if !(c.FalseFloor <= c.Base && c.Base <= c.True) {
		return fmt.Errorf("confidence ordering violated: false_floor %.2f <= base %.2f <= true %.2f required",
			c.FalseFloor, c.Base, c.True)
	}
	if c.Min < 0 || c.Max > 1 || c.Min >= c.Max {
		return fmt.Errorf("confidence bounds invalid: min %.2f, max %.2f", c.Min, c.Max)
	}
	if c.Hysteresis <= 0 || c.Hysteresis >= 1 {
		return fmt.Errorf("hysteresis %.3f outside (0,1)", c.Hysteresis)
	}
	if c.DecayAlpha <= 0 || c.DecayAlpha >= 1 {
		return fmt.Errorf("decay alpha %.3f outside (0,1)", c.DecayAlpha)
	}
	allZero := true
	for _, w := range c.Weights {
		if w != 0 {
			allZero = false
			break
		}
	}
	if len(c.Weights) == 0 || allZero {
		return fmt.Errorf("all cue weights are zero")
	}
	return nil
}

// State is the per-track estimator state. It is owned by the track store and
// must only be mutated under the track's lock; the engine itself is pure.
type State struct {
	LogOdds          float64
	LastUpdate       time.Time
	VisionValidUntil time.Time
}

// Update is the result of one fusion step.
type Update struct {
	Confidence float64 `json:"confidence"`
	Reason     Reason  `json:"reason"`
	Details    string  `json:"details,omitempty"`
}

// Engine fuses sensor cues into a per-track probability of interest.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// InitialScore returns the configured base confidence and a state seeded to
// the matching log-odds.
func (e *Engine) InitialScore(now time.Time) (float64, State) {
	return e.cfg.Base, State{LogOdds: logit(e.cfg.Base), LastUpdate: now}
}

// Update applies one detection's cues (and optional vision event) to the
// track state and returns the resulting confidence.
func (e *Engine) Update(st *State, prev float64, cues detection.CueSet, vision *detection.VisionEvent, now time.Time) Update {
	defer func() { st.LastUpdate = now }()

	// Authoritative vision verification trumps everything else.
	if vision != nil {
		var out Update
		if vision.Verified {
			out = Update{
				Confidence: e.cfg.True,
				Reason:     ReasonVisionTrue,
				Details:    fmt.Sprintf("vision verified score=%.2f", vision.Score),
			}
			st.VisionValidUntil = now.Add(e.cfg.VisionWindow)
		} else {
			out = Update{
				Confidence: math.Max(e.cfg.FalseFloor, prev),
				Reason:     ReasonVisionFalse,
				Details:    fmt.Sprintf("vision denied score=%.2f", vision.Score),
			}
		}
		st.LogOdds = logit(out.Confidence)
		return out
	}

	// Staleness decay: drift toward ignorance when the track goes quiet.
	if !st.LastUpdate.IsZero() && now.Sub(st.LastUpdate) > e.cfg.StaleAfter {
		conf := e.clamp(e.cfg.DecayAlpha*prev+(1-e.cfg.DecayAlpha)*0.5, now, st)
		st.LogOdds = logit(conf)
		return Update{
			Confidence: conf,
			Reason:     ReasonTimeoutDecay,
			Details:    fmt.Sprintf("idle %s", now.Sub(st.LastUpdate).Truncate(time.Millisecond)),
		}
	}

	// Bayesian cue accumulation in log-odds space.
	var delta float64
	scored := 0
	for name, val := range cues {
		s, ok := e.cueScore(name, val)
		if !ok {
			continue
		}
		delta += e.weight(name) * (2*s - 1)
		scored++
	}

	raw := sigmoid(st.LogOdds + delta)

	// Hysteresis: suppress flicker below the threshold, then move
	// asymmetrically so confidence climbs faster than it decays.
	h := e.cfg.Hysteresis
	diff := raw - prev
	if math.Abs(diff) < h {
		return Update{
			Confidence: prev,
			Reason:     ReasonHysteresisHold,
			Details:    fmt.Sprintf("raw=%.3f within %.3f of prev", raw, h),
		}
	}

	var conf float64
	if diff > 0 {
		conf = math.Min(raw, prev+h)
	} else {
		conf = math.Max(raw, prev-h*e.cfg.FallRatio)
	}
	conf = e.clamp(conf, now, st)
	st.LogOdds = logit(conf)

	return Update{
		Confidence: conf,
		Reason:     ReasonBayesianUpdate,
		Details:    fmt.Sprintf("cues=%d delta=%.3f raw=%.3f", scored, delta, raw),
	}
}

// Resync aligns the estimator state with an externally confirmed confidence,
// such as a planner-corrected sighting folded back into the track. The
// confirmation carries the same authority as a positive vision verification:
// log-odds jump to the confirmed value and the vision window opens, so
// subsequent cues accumulate on top of the confirmation instead of the stale
// pre-confirmation estimate.
func (e *Engine) Resync(st *State, conf float64, now time.Time) {
	st.LogOdds = logit(conf)
	st.VisionValidUntil = now.Add(e.cfg.VisionWindow)
}

// cueScore maps a raw reading onto [0,1] using the per-cue-type unit mapping.
// Unusable values score nothing; unknown names pass through clamped.
func (e *Engine) cueScore(name string, val detection.CueValue) (float64, bool) {
	v, ok := val.Number()
	if !ok {
		return 0, false
	}
	switch name {
	case detection.CueRSSIDBm:
		// -90 dBm (noise floor) .. -30 dBm (point blank)
		return clamp01((v + 90) / 60), true
	case detection.CueSignalBars:
		return clamp01(v / 10), true
	case detection.CueVisionScore:
		return clamp01(v), true
	case detection.CueSPLDBA:
		// 40 dBA ambient .. 100 dBA close rotor noise
		return clamp01((v - 40) / 60), true
	default:
		return clamp01(v), true
	}
}

func (e *Engine) weight(name string) float64 {
	if w, ok := e.cfg.Weights[name]; ok {
		return w
	}
	return e.cfg.DefaultWeight
}

// clamp bounds the output, allowing 1.0 inside an open vision window.
func (e *Engine) clamp(v float64, now time.Time, st *State) float64 {
	upper := e.cfg.Max
	if now.Before(st.VisionValidUntil) {
		upper = 1.0
	}
	return math.Min(upper, math.Max(e.cfg.Min, v))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// logit is the inverse sigmoid, clipped away from 0 and 1 so vision
// overrides stay finite in log-odds space.
func logit(p float64) float64 {
	const eps = 1e-6
	p = math.Min(1-eps, math.Max(eps, p))
	return math.Log(p / (1 - p))
}
