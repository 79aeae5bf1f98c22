// Package track owns the live track table. Each track's mutable state is
// exclusively owned by its shard: updates for one track are serialized under
// the shard lock, and unrelated tracks never contend on a global lock.
package track

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seaward-systems/thebox/pkg/confidence"
	"github.com/seaward-systems/thebox/pkg/detection"
	"github.com/seaward-systems/thebox/pkg/ranging"
)

const shardCount = 32

// Status of a track's lifecycle within the fusion core. Archival is owned by
// the persistence layer, not here.
type Status string

const (
	StatusNew       Status = "new"
	StatusValidated Status = "validated"
)

// Track is the per-object fused state.
type Track struct {
	TrackID    string
	Confidence float64
	ConfState  confidence.State
	RangeState ranging.State
	RangeKM    float64
	SigmaKM    float64
	RangeMode  ranging.Mode
	BearingDeg float64
	Status     Status
	LastUpdate time.Time
	LastReason confidence.Reason
	Detections int
}

// Snapshot is an immutable copy handed to status surfaces and persistence.
type Snapshot struct {
	TrackID    string            `json:"track_id"`
	Confidence float64           `json:"confidence"`
	RangeKM    float64           `json:"range_km"`
	SigmaKM    float64           `json:"sigma_km"`
	RangeMode  ranging.Mode      `json:"range_mode"`
	BearingDeg float64           `json:"bearing_deg"`
	Status     Status            `json:"status"`
	LastUpdate time.Time         `json:"last_update"`
	LastReason confidence.Reason `json:"last_reason"`
	Detections int               `json:"detections"`
}

type shard struct {
	mu     sync.Mutex
	tracks map[string]*Track
}

// Store is the sharded track table.
type Store struct {
	shards     [shardCount]shard
	conf       *confidence.Engine
	rng        *ranging.Engine
	validateAt float64

	trackGauge     prometheus.Gauge
	updatesTotal   prometheus.Counter
	validatedTotal prometheus.Counter
}

// NewStore wires the two estimation engines behind the shard locks.
// validateAt is the confidence threshold at which a track becomes validated.
func NewStore(conf *confidence.Engine, rng *ranging.Engine, validateAt float64, reg prometheus.Registerer) *Store {
	s := &Store{
		conf:       conf,
		rng:        rng,
		validateAt: validateAt,

		trackGauge:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "track_store_tracks", Help: "Live tracks in the store"}),
		updatesTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "track_store_updates_total", Help: "Detections applied to tracks"}),
		validatedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "track_store_validated_total", Help: "Tracks promoted to validated"}),
	}
	for i := range s.shards {
		s.shards[i].tracks = make(map[string]*Track)
	}
	if reg != nil {
		reg.MustRegister(s.trackGauge, s.updatesTotal, s.validatedTotal)
	}
	return s
}

func (s *Store) shardFor(trackID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(trackID))
	return &s.shards[h.Sum32()%shardCount]
}

// Apply runs both engines against one detection, in the order detections
// arrive at this method. Pure computation under the shard lock; no I/O.
func (s *Store) Apply(det *detection.Detection, vision *detection.VisionEvent) (Snapshot, confidence.Update, ranging.Estimate) {
	sh := s.shardFor(det.TrackID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := det.Time()
	tr, ok := sh.tracks[det.TrackID]
	if !ok {
		base, st := s.conf.InitialScore(now)
		tr = &Track{
			TrackID:    det.TrackID,
			Confidence: base,
			ConfState:  st,
			Status:     StatusNew,
		}
		sh.tracks[det.TrackID] = tr
		s.trackGauge.Inc()
	}

	upd := s.conf.Update(&tr.ConfState, tr.Confidence, det.Cues, vision, now)
	est := s.rng.Estimate(&tr.RangeState, det.Cues)

	tr.Confidence = upd.Confidence
	tr.LastReason = upd.Reason
	tr.RangeKM = est.RangeKM
	tr.SigmaKM = est.SigmaKM
	tr.RangeMode = est.Mode
	tr.BearingDeg = det.BearingDeg
	tr.LastUpdate = now
	tr.Detections++

	if tr.Status == StatusNew && tr.Confidence >= s.validateAt {
		tr.Status = StatusValidated
		s.validatedTotal.Inc()
	}
	s.updatesTotal.Inc()

	return tr.snapshot(), upd, est
}

// ApplySighting folds a planner-corrected sighting back into the track: the
// confirmed bearing replaces the uncertain one and the estimator state resyncs
// to the sighting's confidence so the next detection builds on the
// confirmation, not the pre-sighting estimate. LastUpdate stays in the sensor
// clock domain; the planner's wall clock never enters staleness arithmetic.
func (s *Store) ApplySighting(sighting *detection.CorrectedSighting) (Snapshot, bool) {
	sh := s.shardFor(sighting.ObjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	tr, ok := sh.tracks[sighting.ObjectID]
	if !ok {
		return Snapshot{}, false
	}

	tr.BearingDeg = sighting.BearingDegTrue
	tr.Confidence = sighting.Confidence / 100
	tr.LastReason = confidence.ReasonVisionTrue
	s.conf.Resync(&tr.ConfState, tr.Confidence, tr.LastUpdate)
	if tr.Status == StatusNew && tr.Confidence >= s.validateAt {
		tr.Status = StatusValidated
		s.validatedTotal.Inc()
	}
	return tr.snapshot(), true
}

// Get returns a snapshot of one track.
func (s *Store) Get(trackID string) (Snapshot, bool) {
	sh := s.shardFor(trackID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	tr, ok := sh.tracks[trackID]
	if !ok {
		return Snapshot{}, false
	}
	return tr.snapshot(), true
}

// Range returns the current range estimate for an object, for the planner's
// synthetic-range output.
func (s *Store) Range(trackID string) (rangeKM, sigmaKM float64, method string, ok bool) {
	snap, ok := s.Get(trackID)
	if !ok {
		return 0, 0, "", false
	}
	return snap.RangeKM, snap.SigmaKM, string(snap.RangeMode), true
}

// List returns snapshots of all tracks, ordered by track ID.
func (s *Store) List() []Snapshot {
	var out []Snapshot
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, tr := range sh.tracks {
			out = append(out, tr.snapshot())
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Remove deletes a track; archival itself belongs to the persistence layer.
func (s *Store) Remove(trackID string) {
	sh := s.shardFor(trackID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.tracks[trackID]; ok {
		delete(sh.tracks, trackID)
		s.trackGauge.Dec()
	}
}

func (t *Track) snapshot() Snapshot {
	return Snapshot{
		TrackID:    t.TrackID,
		Confidence: t.Confidence,
		RangeKM:    t.RangeKM,
		SigmaKM:    t.SigmaKM,
		RangeMode:  t.RangeMode,
		BearingDeg: t.BearingDeg,
		Status:     t.Status,
		LastUpdate: t.LastUpdate,
		LastReason: t.LastReason,
		Detections: t.Detections,
	}
}
