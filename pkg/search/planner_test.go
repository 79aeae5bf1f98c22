package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/thebox/pkg/detection"
)

// fakeAdapter scripts per-tile verdicts by dispatch sequence number.
type fakeAdapter struct {
	caps Capabilities
	fn   func(n int, tile Tile) (Verdict, error)

	mu         sync.Mutex
	dispatched []Tile
}

func (a *fakeAdapter) Capabilities() Capabilities { return a.caps }

func (a *fakeAdapter) Dispatch(ctx context.Context, tile Tile) (Verdict, error) {
	a.mu.Lock()
	a.dispatched = append(a.dispatched, tile)
	n := len(a.dispatched)
	a.mu.Unlock()
	return a.fn(n, tile)
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dispatched)
}

// capturePublisher collects emitted sightings.
type capturePublisher struct {
	ch chan *detection.CorrectedSighting
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan *detection.CorrectedSighting, 16)}
}

func (p *capturePublisher) PublishSighting(ctx context.Context, s *detection.CorrectedSighting) error {
	p.ch <- s
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxTiles = 27
	cfg.TimeBudget = 5 * time.Second
	cfg.Dwell = time.Millisecond
	cfg.Settle = 0
	cfg.AnalyzerSLA = 100 * time.Millisecond
	cfg.Ladder = Ladder{StepAzDeg: 2, SpanAzDeg: 8, Elevations: []float64{1.0}}
	return cfg
}

func testCue(objectID string) detection.DirectionalCue {
	return detection.DirectionalCue{
		Envelope:        detection.NewEnvelope("fusion-test", "fusion"),
		ObjectID:        objectID,
		BearingDegTrue:  90,
		BearingErrorDeg: 6,
		SourceType:      "vision",
		Confidence:      0.8,
	}
}

func testRanges(objectID string) (float64, float64, string, bool) {
	return 2.0, 0.4, "rf", true
}

func newTestPlanner(cfg Config, adapter Adapter, pub SightingPublisher) *Planner {
	adapters := map[string]Adapter{"vision": adapter}
	return NewPlanner(cfg, adapters, pub, testRanges, zerolog.Nop(), nil)
}

func TestSubmitNewestWins(t *testing.T) {
	adapter := &fakeAdapter{fn: func(int, Tile) (Verdict, error) { return Verdict{}, nil }}
	p := newTestPlanner(testConfig(), adapter, newCapturePublisher())

	p.Submit(testCue("obj-old"))
	p.Submit(testCue("obj-new"))
	p.Submit(testCue("obj-newest"))

	select {
	case cue := <-p.cueCh:
		assert.Equal(t, "obj-newest", cue.ObjectID, "queued cue replaced, newest wins")
	default:
		t.Fatal("expected a queued cue")
	}
}

func TestRunTaskConfirmedSighting(t *testing.T) {
	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn: func(n int, tile Tile) (Verdict, error) {
			if n == 3 {
				return Verdict{IsTrue: true, Score: 0.95, ArtifactPath: "/frames/123.jpg"}, nil
			}
			return Verdict{}, nil
		},
	}
	pub := newCapturePublisher()
	p := newTestPlanner(testConfig(), adapter, pub)

	next := p.runTask(context.Background(), testCue("UAS-0001"))
	assert.Nil(t, next)

	select {
	case s := <-pub.ch:
		assert.Equal(t, "UAS-0001", s.ObjectID)
		// Third tile of the sweep sits at azimuth 86.
		assert.InDelta(t, 86, s.BearingDegTrue, 1e-9)
		assert.InDelta(t, 1.0, s.BearingErrorDeg, 1e-9, "half the azimuth step")
		assert.InDelta(t, 2000, s.DistanceM, 1e-9)
		assert.InDelta(t, 400, s.DistanceErrorM, 1e-9)
		assert.Equal(t, "rf", s.RangeMethod)
		assert.True(t, s.RangeIsSynthetic)
		assert.InDelta(t, 95, s.Confidence, 1e-9)
	default:
		t.Fatal("expected a corrected sighting")
	}

	status := p.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, 3, status.ExecutedTiles)
}

func TestRunTaskTileBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTiles = 2

	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn:   func(int, Tile) (Verdict, error) { return Verdict{}, nil },
	}
	pub := newCapturePublisher()
	p := newTestPlanner(cfg, adapter, pub)

	next := p.runTask(context.Background(), testCue("UAS-0002"))
	assert.Nil(t, next)

	assert.Equal(t, 2, adapter.count(), "budget stops the sweep after max tiles")
	assert.Empty(t, pub.ch, "exhaustion never emits a sighting")

	status := p.Status()
	assert.Equal(t, StateIdle, status.State, "FAILED returns to IDLE")
	assert.Equal(t, 2, status.ExecutedTiles)
	assert.Contains(t, status.LastReason, "exhausted budget")
}

func TestRunTaskTimeBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.TimeBudget = time.Nanosecond

	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn:   func(int, Tile) (Verdict, error) { return Verdict{IsTrue: true, Score: 1}, nil },
	}
	pub := newCapturePublisher()
	p := newTestPlanner(cfg, adapter, pub)

	next := p.runTask(context.Background(), testCue("UAS-0003"))
	assert.Nil(t, next)

	assert.Zero(t, adapter.count(), "expired wall clock checked before dispatch")
	assert.Empty(t, pub.ch)
	assert.Contains(t, p.Status().LastReason, "exhausted budget")
}

func TestRunTaskAdapterErrorsAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTiles = 4

	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn:   func(int, Tile) (Verdict, error) { return Verdict{}, errors.New("gimbal jam") },
	}
	pub := newCapturePublisher()
	p := newTestPlanner(cfg, adapter, pub)

	next := p.runTask(context.Background(), testCue("UAS-0004"))
	assert.Nil(t, next, "an always-faulting adapter still terminates")

	status := p.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, 4, status.ExecutedTiles, "each fault consumes a unit of budget")
	assert.Equal(t, 4, status.TimeoutCount)
	assert.Empty(t, pub.ch)
}

func TestRunTaskPreemptedByNewerCue(t *testing.T) {
	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn:   func(int, Tile) (Verdict, error) { return Verdict{IsTrue: true, Score: 1}, nil },
	}
	pub := newCapturePublisher()
	p := newTestPlanner(testConfig(), adapter, pub)

	// A newer cue is already queued when the task reaches its first tile
	// boundary: the task is abandoned before dispatching anything.
	newer := testCue("obj-newer")
	p.Submit(newer)

	next := p.runTask(context.Background(), testCue("obj-older"))
	require.NotNil(t, next)
	assert.Equal(t, "obj-newer", next.ObjectID)
	assert.Zero(t, adapter.count(), "abandoned task dispatches nothing further")
	assert.Empty(t, pub.ch, "abandoned task emits nothing")
}

func TestRunTaskUnknownModality(t *testing.T) {
	adapter := &fakeAdapter{fn: func(int, Tile) (Verdict, error) { return Verdict{}, nil }}
	p := newTestPlanner(testConfig(), adapter, newCapturePublisher())

	cue := testCue("UAS-0005")
	cue.SourceType = "radar" // no radar adapter wired

	next := p.runTask(context.Background(), cue)
	assert.Nil(t, next)
	assert.Equal(t, StateIdle, p.Status().State)
	assert.Zero(t, adapter.count())
}

func TestRunLoopEndToEnd(t *testing.T) {
	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn:   func(int, Tile) (Verdict, error) { return Verdict{IsTrue: true, Score: 0.92}, nil },
	}
	pub := newCapturePublisher()
	p := newTestPlanner(testConfig(), adapter, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Submit(testCue("UAS-0006"))

	select {
	case s := <-pub.ch:
		assert.Equal(t, "UAS-0006", s.ObjectID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sighting")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("planner did not stop on cancellation")
	}
}

func TestTimeoutErrorUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &TimeoutError{TileAz: 86, Elapsed: time.Second, Cause: cause}

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "86.0")
}

func TestDispatchTileEnforcesSLA(t *testing.T) {
	adapter := &fakeAdapter{
		caps: DefaultVisionCapabilities(),
		fn: func(int, Tile) (Verdict, error) {
			time.Sleep(30 * time.Millisecond)
			return Verdict{IsTrue: true, Score: 1}, nil
		},
	}
	p := newTestPlanner(testConfig(), adapter, newCapturePublisher())

	_, err := p.dispatchTile(context.Background(), adapter, Tile{AzDeg: 86}, 5*time.Millisecond)
	require.Error(t, err)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, terr, context.DeadlineExceeded)
}
