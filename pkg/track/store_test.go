package track

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/thebox/pkg/confidence"
	"github.com/seaward-systems/thebox/pkg/detection"
	"github.com/seaward-systems/thebox/pkg/ranging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(
		confidence.NewEngine(confidence.DefaultConfig()),
		ranging.NewEngine(ranging.DefaultConfig()),
		0.85,
		nil,
	)
}

func rfDetection(trackID string, rssi float64, ts time.Time) *detection.Detection {
	return &detection.Detection{
		Envelope:    detection.NewEnvelope("rf-01", "sensor"),
		TrackID:     trackID,
		TimestampMS: ts.UnixMilli(),
		Cues:        detection.CueSet{detection.CueRSSIDBm: detection.NumberCue(rssi)},
		BearingDeg:  45,
		SensorID:    "rf-01",
		SensorType:  "rf",
	}
}

func TestApplyCreatesTrackAtBase(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	snap, upd, est := s.Apply(rfDetection("UAS-0001", -50, now), nil)

	assert.Equal(t, "UAS-0001", snap.TrackID)
	assert.Equal(t, StatusNew, snap.Status)
	assert.Equal(t, 1, snap.Detections)
	assert.InDelta(t, 45, snap.BearingDeg, 1e-9)

	// First update moves off base by at most one hysteresis step.
	assert.LessOrEqual(t, upd.Confidence, 0.80+1e-9)
	assert.Equal(t, ranging.ModeRF, est.Mode)
	assert.InDelta(t, 2.0, est.RangeKM, 1e-9)
}

func TestStatusPromotionIsSticky(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()

	// Drive confidence up with a vision verification.
	det := rfDetection("UAS-0002", -50, t0)
	snap, _, _ := s.Apply(det, &detection.VisionEvent{Verified: true, Score: 0.95})

	require.InDelta(t, 1.0, snap.Confidence, 1e-9)
	assert.Equal(t, StatusValidated, snap.Status)

	// Confidence decaying later never demotes the status.
	for i := 1; i <= 20; i++ {
		det := rfDetection("UAS-0002", -90, t0.Add(time.Duration(i)*2*time.Second))
		snap, _, _ = s.Apply(det, nil)
	}
	assert.Less(t, snap.Confidence, 0.85)
	assert.Equal(t, StatusValidated, snap.Status)
}

func TestApplyOrderingPerTrack(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()

	var last Snapshot
	for i := 0; i < 5; i++ {
		last, _, _ = s.Apply(rfDetection("UAS-0003", -50, t0.Add(time.Duration(i)*200*time.Millisecond)), nil)
	}

	assert.Equal(t, 5, last.Detections, "every update applied exactly once, in order")

	got, ok := s.Get("UAS-0003")
	require.True(t, ok)
	assert.Equal(t, last, got)
}

func TestConcurrentDistinctTracks(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()

	const tracks = 64
	const updates = 20

	var wg sync.WaitGroup
	for i := 0; i < tracks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("UAS-%04d", i)
			for j := 0; j < updates; j++ {
				s.Apply(rfDetection(id, -50, t0.Add(time.Duration(j)*100*time.Millisecond)), nil)
			}
		}(i)
	}
	wg.Wait()

	list := s.List()
	require.Len(t, list, tracks)
	for _, snap := range list {
		assert.Equal(t, updates, snap.Detections)
	}

	// List is ordered by track ID.
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].TrackID, list[i].TrackID)
	}
}

func TestApplySighting(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()

	s.Apply(rfDetection("UAS-0005", -50, t0), nil)

	sighting := &detection.CorrectedSighting{
		ObjectID:       "UAS-0005",
		TimeUTC:        t0.Add(2 * time.Second),
		BearingDegTrue: 87.5,
		Confidence:     95,
	}
	snap, ok := s.ApplySighting(sighting)
	require.True(t, ok)

	assert.InDelta(t, 87.5, snap.BearingDeg, 1e-9, "confirmed bearing replaces the uncertain one")
	assert.InDelta(t, 0.95, snap.Confidence, 1e-9)
	assert.Equal(t, StatusValidated, snap.Status)

	_, ok = s.ApplySighting(&detection.CorrectedSighting{ObjectID: "never-seen"})
	assert.False(t, ok, "sightings for unknown objects are dropped")
}

func TestApplySightingResyncsEstimator(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()

	s.Apply(rfDetection("UAS-0008", -50, t0), nil)

	snap, ok := s.ApplySighting(&detection.CorrectedSighting{
		ObjectID:       "UAS-0008",
		TimeUTC:        t0.Add(time.Second),
		BearingDegTrue: 87.5,
		Confidence:     95,
	})
	require.True(t, ok)
	require.InDelta(t, 0.95, snap.Confidence, 1e-9)

	// A strong positive cue right after the confirmation must build on the
	// confirmed value, not on the pre-sighting log-odds.
	snap, upd, _ := s.Apply(rfDetection("UAS-0008", -30, t0.Add(200*time.Millisecond)), nil)
	assert.GreaterOrEqual(t, snap.Confidence, 0.95-1e-9,
		"positive cue lowered a sighting-confirmed confidence: %v (%s)", upd.Confidence, upd.Reason)
}

func TestApplySightingKeepsSensorClock(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()

	s.Apply(rfDetection("UAS-0009", -50, t0), nil)

	// Planner wall clock is skewed far ahead of the sensor clock.
	_, ok := s.ApplySighting(&detection.CorrectedSighting{
		ObjectID:       "UAS-0009",
		TimeUTC:        t0.Add(10 * time.Minute),
		BearingDegTrue: 87.5,
		Confidence:     95,
	})
	require.True(t, ok)

	// A genuinely idle track still decays: the staleness gap is measured
	// against the last detection, not the sighting's wall clock.
	next := t0.Add(5 * time.Second)
	snap, upd, _ := s.Apply(rfDetection("UAS-0009", -90, next), nil)
	assert.Equal(t, confidence.ReasonTimeoutDecay, upd.Reason)
	assert.Equal(t, next, snap.LastUpdate)
}

func TestRangeProvider(t *testing.T) {
	s := newTestStore(t)

	_, _, _, ok := s.Range("missing")
	assert.False(t, ok)

	s.Apply(rfDetection("UAS-0006", -50, time.Now()), nil)
	rangeKM, sigmaKM, method, ok := s.Range("UAS-0006")
	require.True(t, ok)
	assert.InDelta(t, 2.0, rangeKM, 1e-9)
	assert.InDelta(t, 0.7, sigmaKM, 1e-9)
	assert.Equal(t, "rf", method)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	s.Apply(rfDetection("UAS-0007", -50, time.Now()), nil)

	s.Remove("UAS-0007")
	_, ok := s.Get("UAS-0007")
	assert.False(t, ok)

	// Removing twice is harmless.
	s.Remove("UAS-0007")
}
