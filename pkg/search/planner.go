// Package search implements the budget-bounded, preemptible tile-search
// state machine that steers a camera or radar across a ladder pattern to
// confirm or deny an uncertain directional cue.
package search

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/seaward-systems/thebox/pkg/detection"
)

// State is the planner state machine position. IDLE is both initial and
// terminal.
type State string

const (
	StateIdle             State = "IDLE"
	StatePlanning         State = "PLANNING"
	StateExecutingTile    State = "EXECUTING_TILE"
	StateAwaitingAnalysis State = "AWAITING_ANALYSIS"
	StateReplan           State = "REPLAN"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// TimeoutError marks a tile whose SLA was exceeded or whose adapter faulted.
// Recoverable: it consumes one unit of budget and triggers REPLAN.
type TimeoutError struct {
	TileAz  float64
	Elapsed time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tile az=%.1f exceeded SLA after %s: %v", e.TileAz, e.Elapsed, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ResourceExhausted marks a task whose tile or wall-clock budget reached
// zero without a verdict. Terminal; never auto-retried.
type ResourceExhausted struct {
	TaskID        string
	ExecutedTiles int
	TimeoutCount  int
}

func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("search task %s exhausted budget after %d tiles (%d timeouts)",
		e.TaskID, e.ExecutedTiles, e.TimeoutCount)
}

// Config holds the planner budgets, timing, and pattern.
type Config struct {
	MaxTiles   int
	TimeBudget time.Duration

	Dwell       time.Duration
	Settle      time.Duration
	AnalyzerSLA time.Duration

	Ladder Ladder

	// Requested modality parameters; clamped to adapter capability.
	Zoom       float64
	PowerPct   float64
	GainPct    float64
	ClutterPct float64
}

// DefaultConfig returns the shipped planner tuning.
func DefaultConfig() Config {
	return Config{
		MaxTiles:    27,
		TimeBudget:  45 * time.Second,
		Dwell:       400 * time.Millisecond,
		Settle:      250 * time.Millisecond,
		AnalyzerSLA: 800 * time.Millisecond,
		Ladder: Ladder{
			StepAzDeg:  2,
			SpanAzDeg:  8,
			Elevations: []float64{0.5, 1.5, 3.0},
		},
		Zoom:       8,
		PowerPct:   80,
		GainPct:    60,
		ClutterPct: 30,
	}
}

// Validate rejects structurally invalid planner configs at load time.
func (c Config) Validate() error {
	if c.MaxTiles <= 0 {
		return fmt.Errorf("max tiles must be positive")
	}
	if c.TimeBudget <= 0 {
		return fmt.Errorf("time budget must be positive")
	}
	if c.Ladder.StepAzDeg <= 0 {
		return fmt.Errorf("ladder azimuth step must be positive")
	}
	if c.Ladder.SpanAzDeg < c.Ladder.StepAzDeg {
		return fmt.Errorf("ladder span %.1f smaller than step %.1f", c.Ladder.SpanAzDeg, c.Ladder.StepAzDeg)
	}
	if len(c.Ladder.Elevations) == 0 {
		return fmt.Errorf("ladder elevation list is empty")
	}
	return nil
}

// tileSLA is the per-tile deadline: settle + dwell + analyzer time.
func (c Config) tileSLA() time.Duration {
	return c.Settle + c.Dwell + c.AnalyzerSLA
}

// Task is one active search. A planner holds at most one live task;
// superseded tasks are abandoned, never merged.
type Task struct {
	ID            string
	Cue           detection.DirectionalCue
	MaxTiles      int
	TimeBudget    time.Duration
	ExecutedTiles int
	TimeoutCount  int
	StartedAt     time.Time
}

// Status is a read-only snapshot for status surfaces.
type Status struct {
	State         State     `json:"state"`
	TaskID        string    `json:"task_id,omitempty"`
	ObjectID      string    `json:"object_id,omitempty"`
	ExecutedTiles int       `json:"executed_tiles"`
	TimeoutCount  int       `json:"timeout_count"`
	LastReason    string    `json:"last_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SightingPublisher consumes the planner's corrected sightings.
type SightingPublisher interface {
	PublishSighting(ctx context.Context, s *detection.CorrectedSighting) error
}

// RangeProvider supplies the current range estimate for an object so the
// corrected sighting can carry a synthetic distance.
type RangeProvider func(objectID string) (rangeKM, sigmaKM float64, method string, ok bool)

// Planner runs one cue at a time on a dedicated worker goroutine. A new cue
// preempts the in-flight task at the next tile boundary: the newest cue
// always wins.
type Planner struct {
	cfg       Config
	adapters  map[string]Adapter
	publisher SightingPublisher
	ranges    RangeProvider
	logger    zerolog.Logger

	cueCh chan detection.DirectionalCue

	mu     sync.Mutex
	status Status

	tasksStarted   prometheus.Counter
	tasksPreempted prometheus.Counter
	tasksDone      prometheus.Counter
	tasksFailed    prometheus.Counter
	tilesTotal     prometheus.Counter
	tileTimeouts   prometheus.Counter
}

// NewPlanner wires a planner against its adapters; keys of adapters are cue
// source types (vision, radar).
func NewPlanner(cfg Config, adapters map[string]Adapter, pub SightingPublisher, ranges RangeProvider, logger zerolog.Logger, reg prometheus.Registerer) *Planner {
	p := &Planner{
		cfg:       cfg,
		adapters:  adapters,
		publisher: pub,
		ranges:    ranges,
		logger:    logger.With().Str("component", "search_planner").Logger(),
		cueCh:     make(chan detection.DirectionalCue, 1),
		status:    Status{State: StateIdle, UpdatedAt: time.Now().UTC()},

		tasksStarted:   prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_tasks_started_total", Help: "Search tasks started"}),
		tasksPreempted: prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_tasks_preempted_total", Help: "Search tasks abandoned for a newer cue"}),
		tasksDone:      prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_tasks_done_total", Help: "Search tasks completed with a positive verdict"}),
		tasksFailed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_tasks_failed_total", Help: "Search tasks that exhausted their budget"}),
		tilesTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_tiles_dispatched_total", Help: "Tiles dispatched to adapters"}),
		tileTimeouts:   prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_tile_timeouts_total", Help: "Tiles that exceeded their SLA or faulted"}),
	}
	if reg != nil {
		reg.MustRegister(p.tasksStarted, p.tasksPreempted, p.tasksDone, p.tasksFailed, p.tilesTotal, p.tileTimeouts)
	}
	return p
}

// Submit hands a new directional cue to the planner. Non-blocking: if a cue
// is already queued it is replaced, and an in-flight task will be abandoned
// at its next tile boundary.
func (p *Planner) Submit(cue detection.DirectionalCue) {
	for {
		select {
		case p.cueCh <- cue:
			return
		default:
			// Drop the stale queued cue; the newest always wins.
			select {
			case <-p.cueCh:
			default:
			}
		}
	}
}

// Status returns a snapshot for status surfaces.
func (p *Planner) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Planner) setStatus(state State, task *Task, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
	p.status.UpdatedAt = time.Now().UTC()
	if reason != "" {
		p.status.LastReason = reason
	}
	if task != nil {
		p.status.TaskID = task.ID
		p.status.ObjectID = task.Cue.ObjectID
		p.status.ExecutedTiles = task.ExecutedTiles
		p.status.TimeoutCount = task.TimeoutCount
	}
}

// Run is the worker loop. It blocks until ctx is cancelled; the ingest hot
// path never runs in here.
func (p *Planner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cue := <-p.cueCh:
			// A preempting cue returned by runTask starts immediately.
			next := &cue
			for next != nil {
				next = p.runTask(ctx, *next)
			}
		}
	}
}

// runTask drives one SearchTask to a terminal state. If a newer cue arrives
// it is returned and the current task is abandoned without emitting.
func (p *Planner) runTask(ctx context.Context, cue detection.DirectionalCue) *detection.DirectionalCue {
	adapter, ok := p.adapters[cue.SourceType]
	if !ok {
		p.setStatus(StateIdle, nil, "no adapter for "+cue.SourceType)
		p.logger.Warn().Str("source_type", cue.SourceType).Msg("No adapter for cue modality")
		return nil
	}

	task := &Task{
		ID:         uuid.New().String(),
		Cue:        cue,
		MaxTiles:   p.cfg.MaxTiles,
		TimeBudget: p.cfg.TimeBudget,
		StartedAt:  time.Now(),
	}
	p.tasksStarted.Inc()
	p.setStatus(StatePlanning, task, "planning")

	params := tileParams{zoom: p.cfg.Zoom, powerPct: p.cfg.PowerPct, gainPct: p.cfg.GainPct, clutterPct: p.cfg.ClutterPct}
	tiles := generateTiles(cue, p.cfg.Ladder, p.cfg.Dwell, params)
	if len(tiles) == 0 {
		p.setStatus(StateIdle, task, "empty tile pattern")
		return nil
	}

	caps := adapter.Capabilities()
	deadline := task.StartedAt.Add(task.TimeBudget)
	sla := p.cfg.tileSLA()

	p.logger.Info().
		Str("task_id", task.ID).
		Str("object_id", cue.ObjectID).
		Str("source_type", cue.SourceType).
		Float64("bearing_deg", cue.BearingDegTrue).
		Int("tiles", len(tiles)).
		Msg("Search task started")

	for _, tile := range tiles {
		// Preemption is cooperative, checked once per tile boundary.
		select {
		case newer := <-p.cueCh:
			p.tasksPreempted.Inc()
			p.setStatus(StateIdle, task, "preempted by newer cue")
			p.logger.Info().Str("task_id", task.ID).Msg("Task preempted, abandoning")
			return &newer
		case <-ctx.Done():
			p.setStatus(StateIdle, task, "shutdown")
			return nil
		default:
		}

		// Either budget reaching zero without a verdict forces FAILED.
		if task.ExecutedTiles >= task.MaxTiles || time.Now().After(deadline) {
			return p.fail(task)
		}

		tile = clampTile(tile, caps)

		p.setStatus(StateExecutingTile, task, "")
		if !sleepCtx(ctx, p.cfg.Settle) {
			p.setStatus(StateIdle, task, "shutdown")
			return nil
		}

		p.setStatus(StateAwaitingAnalysis, task, "")
		verdict, err := p.dispatchTile(ctx, adapter, tile, sla)
		task.ExecutedTiles++
		p.tilesTotal.Inc()

		if err != nil {
			// Adapter faults are caught at tile granularity and treated
			// identically to a timeout; they never abort the task.
			task.TimeoutCount++
			p.tileTimeouts.Inc()
			p.setStatus(StateReplan, task, err.Error())
			p.logger.Warn().Err(err).Str("task_id", task.ID).Float64("az_deg", tile.AzDeg).Msg("Tile timed out, replanning")
			continue
		}

		if verdict.IsTrue {
			p.emitSighting(ctx, task, tile, verdict)
			p.tasksDone.Inc()
			p.setStatus(StateDone, task, "verdict confirmed")
			p.setStatus(StateIdle, task, "")
			return nil
		}

		p.setStatus(StateReplan, task, "tile denied")
	}

	return p.fail(task)
}

func (p *Planner) fail(task *Task) *detection.DirectionalCue {
	err := &ResourceExhausted{TaskID: task.ID, ExecutedTiles: task.ExecutedTiles, TimeoutCount: task.TimeoutCount}
	p.tasksFailed.Inc()
	p.setStatus(StateFailed, task, err.Error())
	p.logger.Warn().
		Str("task_id", task.ID).
		Int("executed_tiles", task.ExecutedTiles).
		Int("timeout_count", task.TimeoutCount).
		Msg("Search task exhausted budget")
	p.setStatus(StateIdle, task, "")
	return nil
}

// dispatchTile runs one adapter call bounded by the tile SLA. Enforcement is
// reactive: an adapter that blocks past the SLA is cut off by the context
// deadline, and the elapsed time is checked again after return.
func (p *Planner) dispatchTile(ctx context.Context, adapter Adapter, tile Tile, sla time.Duration) (Verdict, error) {
	tileCtx, cancel := context.WithTimeout(ctx, sla)
	defer cancel()

	start := time.Now()
	verdict, err := adapter.Dispatch(tileCtx, tile)
	elapsed := time.Since(start)

	if err != nil {
		return Verdict{}, &TimeoutError{TileAz: tile.AzDeg, Elapsed: elapsed, Cause: err}
	}
	if elapsed > sla {
		return Verdict{}, &TimeoutError{TileAz: tile.AzDeg, Elapsed: elapsed, Cause: context.DeadlineExceeded}
	}
	return verdict, nil
}

// emitSighting publishes the corrected sighting for a confirmed tile, using
// the successful tile's azimuth as the new bearing.
func (p *Planner) emitSighting(ctx context.Context, task *Task, tile Tile, verdict Verdict) {
	bearing := detection.NormalizeBearing(tile.AzDeg)

	rangeKM, sigmaKM, method, ok := 0.0, 0.0, "fixed", false
	if p.ranges != nil {
		rangeKM, sigmaKM, method, ok = p.ranges(task.Cue.ObjectID)
	}
	if !ok {
		rangeKM, sigmaKM, method = 1.0, 1.0, "fixed"
	}

	distanceM := rangeKM * 1000
	elRad := tile.ElDeg * math.Pi / 180

	sighting := &detection.CorrectedSighting{
		Envelope:         detection.NewEnvelope(task.ID, "planner").WithCorrelation(task.Cue.Envelope.CorrelationID, task.Cue.Envelope.MessageID),
		ObjectID:         task.Cue.ObjectID,
		TimeUTC:          time.Now().UTC(),
		DistanceM:        distanceM,
		DistanceErrorM:   sigmaKM * 1000,
		BearingDegTrue:   bearing,
		BearingErrorDeg:  p.cfg.Ladder.StepAzDeg / 2,
		AltitudeM:        distanceM * math.Tan(elRad),
		AltitudeErrorM:   distanceM * math.Tan(elRad) * 0.5,
		Confidence:       math.Min(100, math.Max(90, verdict.Score*100)),
		RangeIsSynthetic: true,
		RangeMethod:      method,
	}

	if err := p.publisher.PublishSighting(ctx, sighting); err != nil {
		p.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to publish corrected sighting")
		return
	}

	p.logger.Info().
		Str("task_id", task.ID).
		Str("object_id", task.Cue.ObjectID).
		Float64("bearing_deg", bearing).
		Float64("distance_m", distanceM).
		Str("artifact", verdict.ArtifactPath).
		Msg("Corrected sighting published")
}

// sleepCtx waits for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
