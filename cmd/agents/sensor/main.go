// Sensor Simulator Agent
// Generates synthetic multi-modality detections (RF, EO, acoustic) for
// simulated UAS tracks and answers search-tile dispatches against the
// simulated ground truth.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seaward-systems/thebox/pkg/agent"
	"github.com/seaward-systems/thebox/pkg/config"
	"github.com/seaward-systems/thebox/pkg/detection"
	"github.com/seaward-systems/thebox/pkg/natsutil"
	"github.com/seaward-systems/thebox/pkg/search"
)

// Configuration limits
const (
	MinEmissionInterval = 100 * time.Millisecond
	MaxEmissionInterval = 10 * time.Second
	MinTrackCount       = 1
	MaxTrackCount       = 50

	DefaultEmissionInterval = 500 * time.Millisecond
	DefaultTrackCount       = 3
)

// Default modality weights (relative odds that a tick emits each modality)
var DefaultModalityWeights = map[string]int{
	"rf":       50,
	"eo":       30,
	"acoustic": 20,
}

// EO camera model used when synthesizing pixel-height cues.
const (
	simFrameHeightPx = 1080.0
	simFOVDeg        = 60.0
	simTargetHeightM = 0.35
)

// SensorConfig holds the runtime configuration for the sensor agent
type SensorConfig struct {
	mu sync.RWMutex

	emissionInterval time.Duration
	trackCount       int
	paused           bool
	modalityWeights  map[string]int
}

// NewSensorConfig creates a new SensorConfig with default values
func NewSensorConfig() *SensorConfig {
	return &SensorConfig{
		emissionInterval: DefaultEmissionInterval,
		trackCount:       DefaultTrackCount,
		paused:           false,
		modalityWeights:  copyWeights(DefaultModalityWeights),
	}
}

func copyWeights(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// GetEmissionInterval returns the current emission interval
func (c *SensorConfig) GetEmissionInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emissionInterval
}

// SetEmissionInterval sets the emission interval with validation
func (c *SensorConfig) SetEmissionInterval(d time.Duration) error {
	if d < MinEmissionInterval || d > MaxEmissionInterval {
		return fmt.Errorf("emission_interval must be between %v and %v", MinEmissionInterval, MaxEmissionInterval)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emissionInterval = d
	return nil
}

// GetTrackCount returns the current track count
func (c *SensorConfig) GetTrackCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trackCount
}

// SetTrackCount sets the track count with validation
func (c *SensorConfig) SetTrackCount(count int) error {
	if count < MinTrackCount || count > MaxTrackCount {
		return fmt.Errorf("track_count must be between %d and %d", MinTrackCount, MaxTrackCount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackCount = count
	return nil
}

// IsPaused returns whether emission is paused
func (c *SensorConfig) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// SetPaused sets the paused state
func (c *SensorConfig) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

// GetModalityWeights returns a copy of the current modality weights
func (c *SensorConfig) GetModalityWeights() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyWeights(c.modalityWeights)
}

// SetModalityWeights sets the modality weights with validation
func (c *SensorConfig) SetModalityWeights(weights map[string]int) error {
	validModalities := map[string]bool{"rf": true, "eo": true, "acoustic": true}
	for key := range weights {
		if !validModalities[key] {
			return fmt.Errorf("invalid modality: %s (valid: rf, eo, acoustic)", key)
		}
	}
	total := 0
	for key, weight := range weights {
		if weight < 0 {
			return fmt.Errorf("weight for %s cannot be negative", key)
		}
		total += weight
	}
	if total == 0 {
		return fmt.Errorf("at least one modality weight must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.modalityWeights = copyWeights(weights)
	return nil
}

// Reset resets configuration to default values
func (c *SensorConfig) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emissionInterval = DefaultEmissionInterval
	c.trackCount = DefaultTrackCount
	c.paused = false
	c.modalityWeights = copyWeights(DefaultModalityWeights)
}

// Snapshot returns a copy of the current configuration
func (c *SensorConfig) Snapshot() (emissionInterval time.Duration, trackCount int, paused bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emissionInterval, c.trackCount, c.paused
}

// ConfigResponse represents the JSON response for configuration
type ConfigResponse struct {
	EmissionIntervalMS int64          `json:"emission_interval_ms"`
	TrackCount         int            `json:"track_count"`
	Paused             bool           `json:"paused"`
	ModalityWeights    map[string]int `json:"modality_weights"`
}

// ConfigUpdateRequest represents a partial configuration update request
type ConfigUpdateRequest struct {
	EmissionIntervalMS *int64          `json:"emission_interval_ms,omitempty"`
	TrackCount         *int            `json:"track_count,omitempty"`
	Paused             *bool           `json:"paused,omitempty"`
	ModalityWeights    *map[string]int `json:"modality_weights,omitempty"`
	ClearStreams       *bool           `json:"clear_streams,omitempty"` // Action: purge NATS streams when true
}

// SensorAgent generates synthetic detection events
type SensorAgent struct {
	*agent.BaseAgent

	config *SensorConfig

	tracksMu sync.RWMutex
	tracks   map[string]*simulatedTrack
}

// simulatedTrack is a UAS target in polar coordinates around the sensor mast.
type simulatedTrack struct {
	id         string
	bearingDeg float64 // [0, 360)
	rangeKM    float64
	headingDeg float64 // direction of travel
	speedMPS   float64
	present    bool // ground truth for tile verdicts
}

func init() {
	agent.Register(agent.AgentTypeSensor, func(cfg agent.Config) (agent.Agent, error) {
		return NewSensorAgent(cfg)
	})
}

func main() {
	cfg := agent.Config{
		ID:      config.GetEnv("AGENT_ID", "sensor-001"),
		Type:    agent.AgentTypeSensor,
		NATSUrl: config.GetEnv("NATS_URL", "nats://localhost:4222"),
		Secret:  []byte(config.GetEnv("AGENT_SECRET", "sensor-secret")),
	}

	created, err := agent.Create(agent.AgentTypeSensor, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create sensor agent: %v (registered types: %v)\n", err, agent.ListTypes())
		os.Exit(1)
	}
	sensor := created.(*SensorAgent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sensor.Logger().Info().Msg("Shutdown signal received")
		cancel()
	}()

	// Start HTTP server with chi router
	go sensor.startHTTPServer()

	if err := sensor.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start sensor agent: %v\n", err)
		os.Exit(1)
	}

	if err := sensor.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Sensor agent error: %v\n", err)
		os.Exit(1)
	}

	sensor.Stop(context.Background())
}

// NewSensorAgent creates a new sensor simulator agent
func NewSensorAgent(cfg agent.Config) (*SensorAgent, error) {
	base, err := agent.NewBaseAgent(cfg)
	if err != nil {
		return nil, err
	}

	simCfg := NewSensorConfig()

	// Override defaults from environment
	if intervalStr := os.Getenv("EMISSION_INTERVAL"); intervalStr != "" {
		if interval, err := time.ParseDuration(intervalStr); err == nil {
			if err := simCfg.SetEmissionInterval(interval); err != nil {
				base.Logger().Warn().Err(err).Msg("Invalid EMISSION_INTERVAL, using default")
			}
		}
	}

	if countStr := os.Getenv("TRACK_COUNT"); countStr != "" {
		if count, err := strconv.Atoi(countStr); err == nil {
			if err := simCfg.SetTrackCount(count); err != nil {
				base.Logger().Warn().Err(err).Msg("Invalid TRACK_COUNT, using default")
			}
		}
	}

	sensor := &SensorAgent{
		BaseAgent: base,
		config:    simCfg,
		tracks:    make(map[string]*simulatedTrack),
	}

	sensor.initializeTracks(simCfg.GetTrackCount())

	return sensor, nil
}

// startHTTPServer starts the HTTP server with chi router
func (s *SensorAgent) startHTTPServer() {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(s.Metrics(), promhttp.HandlerOpts{}))
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/config", func(r chi.Router) {
		r.Get("/", s.handleGetConfig)
		r.Patch("/", s.handlePatchConfig)
		r.Post("/reset", s.handleResetConfig)
	})

	addr := config.GetEnv("HTTP_ADDR", ":9091")
	s.Logger().Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := http.ListenAndServe(addr, r); err != nil {
		s.Logger().Error().Err(err).Msg("HTTP server error")
	}
}

// handleHealth handles GET /health
func (s *SensorAgent) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.Health()
	w.Header().Set("Content-Type", "application/json")
	if health.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// handleGetConfig handles GET /api/v1/config
func (s *SensorAgent) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	interval, trackCount, paused := s.config.Snapshot()

	response := ConfigResponse{
		EmissionIntervalMS: interval.Milliseconds(),
		TrackCount:         trackCount,
		Paused:             paused,
		ModalityWeights:    s.config.GetModalityWeights(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handlePatchConfig handles PATCH /api/v1/config
func (s *SensorAgent) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if req.EmissionIntervalMS != nil {
		interval := time.Duration(*req.EmissionIntervalMS) * time.Millisecond
		if err := s.config.SetEmissionInterval(interval); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.Logger().Info().Dur("emission_interval", interval).Msg("Updated emission interval")
	}

	if req.TrackCount != nil {
		if err := s.config.SetTrackCount(*req.TrackCount); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.adjustTrackCount(*req.TrackCount)
		s.Logger().Info().Int("track_count", *req.TrackCount).Msg("Updated track count")
	}

	if req.Paused != nil {
		s.config.SetPaused(*req.Paused)
		s.Logger().Info().Bool("paused", *req.Paused).Msg("Updated paused state")
	}

	if req.ModalityWeights != nil {
		if err := s.config.SetModalityWeights(*req.ModalityWeights); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.Logger().Info().Interface("modality_weights", *req.ModalityWeights).Msg("Updated modality weights")
	}

	// Purge NATS streams if requested (typically used with paused=true)
	if req.ClearStreams != nil && *req.ClearStreams {
		s.Logger().Info().Msg("Purging NATS JetStream streams")
		if err := s.purgeStreams(r.Context()); err != nil {
			s.Logger().Error().Err(err).Msg("Error during stream purge")
		}
	}

	s.handleGetConfig(w, r)
}

// handleResetConfig handles POST /api/v1/config/reset
func (s *SensorAgent) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	s.config.Reset()
	s.Logger().Info().Msg("Configuration reset to defaults")

	s.reinitializeTracks(DefaultTrackCount)

	s.handleGetConfig(w, r)
}

// writeError writes an error response
func (s *SensorAgent) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// purgeStreams purges all NATS JetStream streams and deletes consumers to
// clear message backlogs, so in-flight messages held by consumers are also
// discarded. Consumers are recreated by their agents on the next fetch.
func (s *SensorAgent) purgeStreams(ctx context.Context) error {
	js := s.JetStream()

	streamConsumers := map[string][]string{
		"DETECTIONS": {"fusion"},
		"TRACKS":     {"protocol-emitter"},
		"SIGHTINGS":  {},
	}

	for streamName, consumers := range streamConsumers {
		stream, err := js.Stream(ctx, streamName)
		if err != nil {
			s.Logger().Warn().Str("stream", streamName).Err(err).Msg("Could not access stream for purge")
			continue
		}

		for _, consumerName := range consumers {
			if err := stream.DeleteConsumer(ctx, consumerName); err != nil {
				s.Logger().Warn().Str("stream", streamName).Str("consumer", consumerName).Err(err).Msg("Could not delete consumer")
			} else {
				s.Logger().Info().Str("stream", streamName).Str("consumer", consumerName).Msg("Deleted consumer")
			}
		}

		if err := stream.Purge(ctx); err != nil {
			s.Logger().Error().Str("stream", streamName).Err(err).Msg("Failed to purge stream")
			continue
		}

		s.Logger().Info().Str("stream", streamName).Msg("Purged stream")
	}

	return nil
}

// adjustTrackCount adds or removes tracks to match the new count
func (s *SensorAgent) adjustTrackCount(newCount int) {
	s.tracksMu.Lock()
	defer s.tracksMu.Unlock()

	currentCount := len(s.tracks)

	if newCount > currentCount {
		for i := 0; i < newCount-currentCount; i++ {
			s.addSingleTrackLocked(currentCount + i)
		}
	} else if newCount < currentCount {
		s.removeTracksLocked(currentCount - newCount)
	}
}

// reinitializeTracks clears and reinitializes all tracks
func (s *SensorAgent) reinitializeTracks(count int) {
	s.tracksMu.Lock()
	defer s.tracksMu.Unlock()

	s.tracks = make(map[string]*simulatedTrack)
	for i := 0; i < count; i++ {
		s.addSingleTrackLocked(i)
	}
}

// initializeTracks creates initial simulated tracks
func (s *SensorAgent) initializeTracks(count int) {
	s.tracksMu.Lock()
	defer s.tracksMu.Unlock()
	for i := 0; i < count; i++ {
		s.addSingleTrackLocked(i)
	}
	s.Logger().Info().Int("total_tracks", len(s.tracks)).Msg("Initialized simulated tracks")
}

// weightedRandomSelect selects a key from a weights map using weighted
// random selection over sorted keys for deterministic iteration order.
func weightedRandomSelect(weights map[string]int) string {
	keys := make([]string, 0, len(weights))
	for key := range weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	total := 0
	for _, weight := range weights {
		total += weight
	}
	if total == 0 {
		if len(keys) > 0 {
			return keys[0]
		}
		return ""
	}

	r := rand.Intn(total)
	cumulative := 0
	for _, key := range keys {
		cumulative += weights[key]
		if r < cumulative {
			return key
		}
	}

	if len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// addSingleTrackLocked adds a single track (must hold tracksMu)
func (s *SensorAgent) addSingleTrackLocked(index int) {
	id := fmt.Sprintf("UAS-%04d", index+1)
	for {
		if _, exists := s.tracks[id]; !exists {
			break
		}
		index++
		id = fmt.Sprintf("UAS-%04d", index+1)
	}

	s.tracks[id] = &simulatedTrack{
		id:         id,
		bearingDeg: rand.Float64() * 360,
		rangeKM:    0.3 + rand.Float64()*4.0,
		headingDeg: rand.Float64() * 360,
		speedMPS:   5 + rand.Float64()*20, // small multirotor envelope
		present:    true,
	}
}

// removeTracksLocked removes tracks (must hold tracksMu)
func (s *SensorAgent) removeTracksLocked(count int) {
	removed := 0
	for id := range s.tracks {
		if removed >= count {
			break
		}
		delete(s.tracks, id)
		removed++
	}
}

// Run starts the sensor simulation loop
func (s *SensorAgent) Run(ctx context.Context) error {
	for _, streamCfg := range natsutil.StreamConfigs {
		if _, err := s.EnsureStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("failed to setup streams: %w", err)
		}
	}

	// Answer tile dispatches from the search planner against ground truth.
	for _, modality := range []string{"vision", "radar"} {
		sub, err := s.subscribeDispatch(modality)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s dispatch: %w", modality, err)
		}
		defer sub.Unsubscribe()
	}

	interval, trackCount, paused := s.config.Snapshot()
	s.Logger().Info().
		Dur("interval", interval).
		Int("track_count", trackCount).
		Bool("paused", paused).
		Msg("Starting sensor simulation")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			currentInterval, _, isPaused := s.config.Snapshot()

			if currentInterval != interval {
				ticker.Reset(currentInterval)
				interval = currentInterval
				s.Logger().Debug().Dur("interval", interval).Msg("Ticker interval updated")
			}

			if isPaused {
				continue
			}

			s.emitDetections(ctx)
		}
	}
}

// subscribeDispatch answers adapter.<modality>.dispatch requests with a
// verdict computed from the simulated ground truth.
func (s *SensorAgent) subscribeDispatch(modality string) (*nats.Subscription, error) {
	subject := fmt.Sprintf("adapter.%s.dispatch", modality)
	return s.NATS().Subscribe(subject, func(msg *nats.Msg) {
		var tile search.Tile
		if err := json.Unmarshal(msg.Data, &tile); err != nil {
			s.Logger().Warn().Err(err).Str("subject", subject).Msg("Malformed tile dispatch")
			return
		}

		verdict := s.evaluateTile(tile)

		data, err := json.Marshal(verdict)
		if err != nil {
			return
		}
		if err := msg.Respond(data); err != nil {
			s.Logger().Warn().Err(err).Msg("Failed to respond to tile dispatch")
		}
		s.RecordMessage("success", "tile_dispatch")
	})
}

// evaluateTile checks whether any simulated track sits inside the tile's
// azimuth step.
func (s *SensorAgent) evaluateTile(tile search.Tile) search.Verdict {
	// Simulated sensor settle and analysis time.
	time.Sleep(tile.Dwell / 2)

	s.tracksMu.RLock()
	defer s.tracksMu.RUnlock()

	tileAz := detection.NormalizeBearing(tile.AzDeg)
	for _, trk := range s.tracks {
		if !trk.present {
			continue
		}
		diff := math.Abs(detection.WrapAzimuth(trk.bearingDeg - tileAz))
		if diff <= 2.0 {
			return search.Verdict{
				IsTrue: true,
				Score:  0.9 + rand.Float64()*0.09,
			}
		}
	}
	return search.Verdict{IsTrue: false, Score: rand.Float64() * 0.3}
}

// emitDetections generates and publishes detection events for all tracks
func (s *SensorAgent) emitDetections(ctx context.Context) {
	interval := s.config.GetEmissionInterval()

	s.tracksMu.Lock()
	tracksCopy := make([]*simulatedTrack, 0, len(s.tracks))
	for _, trk := range s.tracks {
		s.updateTrack(trk, interval)
		tracksCopy = append(tracksCopy, trk)
	}
	s.tracksMu.Unlock()

	weights := s.config.GetModalityWeights()

	for _, trk := range tracksCopy {
		modality := weightedRandomSelect(weights)
		det := s.synthesizeDetection(trk, modality)

		if err := s.publishDetection(ctx, det); err != nil {
			s.Logger().Error().Err(err).Str("track_id", trk.id).Msg("Failed to publish detection")
			s.RecordError("publish_failed")
			continue
		}

		s.RecordMessage("success", "detection")
	}
}

// synthesizeDetection builds a cue map from the track's true bearing and
// range by inverting the estimation models and adding noise.
func (s *SensorAgent) synthesizeDetection(trk *simulatedTrack, modality string) *detection.Detection {
	cues := detection.CueSet{}
	noisyBearing := detection.NormalizeBearing(trk.bearingDeg + (rand.Float64()-0.5)*2.0)

	switch modality {
	case "rf":
		// rssi = ref - (range - refRange) / slope, plus receiver noise
		rssi := -50.0 - (trk.rangeKM-2.0)/0.05 + (rand.Float64()-0.5)*4.0
		cues[detection.CueRSSIDBm] = detection.NumberCue(rssi)
		cues[detection.CueSignalBars] = detection.NumberCue(math.Max(1, math.Min(10, 10-trk.rangeKM*2)))
		// RF direction finding is coarse; large error cues the planner.
		cues[detection.CueBearingErrorDeg] = detection.NumberCue(5 + rand.Float64()*10)
	case "eo":
		angRad := simTargetHeightM / (trk.rangeKM * 1000)
		fovRad := simFOVDeg * math.Pi / 180
		px := angRad / fovRad * simFrameHeightPx
		cues[detection.CueEOPixelHeight] = detection.NumberCue(math.Max(1, px*(0.9+rand.Float64()*0.2)))
		cues[detection.CueEOFrameHeight] = detection.NumberCue(simFrameHeightPx)
		cues[detection.CueEOFOVDeg] = detection.NumberCue(simFOVDeg)
		cues[detection.CueEOBacklit] = detection.BoolCue(rand.Float64() < 0.15)
		score := math.Max(0.2, math.Min(0.98, 0.9-trk.rangeKM*0.1))
		cues[detection.CueVisionScore] = detection.NumberCue(score)
		if rand.Float64() < 0.2 {
			cues[detection.CueVisionVerified] = detection.BoolCue(score > 0.5)
		}
		cues[detection.CueBearingErrorDeg] = detection.NumberCue(0.5 + rand.Float64())
	case "acoustic":
		spl := 80.0 - 20*math.Log10(math.Max(trk.rangeKM, 0.05)/0.3) + (rand.Float64()-0.5)*3.0
		cues[detection.CueSPLDBA] = detection.NumberCue(spl)
		cues[detection.CueAcousticSNRDB] = detection.NumberCue(3 + rand.Float64()*15)
		cues[detection.CueSeaState] = detection.NumberCue(float64(rand.Intn(5)))
		cues[detection.CueBearingErrorDeg] = detection.NumberCue(8 + rand.Float64()*12)
	}

	sensorType := modality
	if modality == "eo" {
		sensorType = "vision"
	}

	det := &detection.Detection{
		Envelope:    detection.NewEnvelope(s.ID(), "sensor"),
		TrackID:     trk.id,
		TimestampMS: time.Now().UnixMilli(),
		Cues:        cues,
		BearingDeg:  noisyBearing,
		SensorID:    s.ID(),
		SensorType:  sensorType,
	}
	det.Envelope.CorrelationID = uuid.New().String()
	return det
}

// updateTrack advances the simulated track one emission interval.
func (s *SensorAgent) updateTrack(trk *simulatedTrack, interval time.Duration) {
	distKM := trk.speedMPS * interval.Seconds() / 1000

	headingRad := trk.headingDeg * math.Pi / 180
	bearingRad := trk.bearingDeg * math.Pi / 180

	// Polar update: decompose motion into radial and tangential components.
	radial := distKM * math.Cos(headingRad-bearingRad)
	tangential := distKM * math.Sin(headingRad-bearingRad)

	trk.rangeKM = math.Max(0.05, trk.rangeKM+radial)
	trk.bearingDeg = detection.NormalizeBearing(trk.bearingDeg + tangential/trk.rangeKM*180/math.Pi)

	// Occasionally change heading
	if rand.Float64() < 0.05 {
		trk.headingDeg += (rand.Float64() - 0.5) * 40
		trk.headingDeg = detection.NormalizeBearing(trk.headingDeg)
	}

	// Occasionally change speed
	if rand.Float64() < 0.05 {
		trk.speedMPS += (rand.Float64() - 0.5) * 5
		trk.speedMPS = math.Max(2, math.Min(30, trk.speedMPS))
	}
}

// publishDetection publishes a detection to NATS
func (s *SensorAgent) publishDetection(ctx context.Context, det *detection.Detection) error {
	start := time.Now()
	defer func() {
		s.RecordLatency("detection", time.Since(start))
	}()

	data, err := json.Marshal(det)
	if err != nil {
		return fmt.Errorf("failed to marshal detection: %w", err)
	}

	subject := det.Subject()
	_, err = s.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(det.Envelope.MessageID))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	s.Logger().Debug().
		Str("track_id", det.TrackID).
		Str("sensor_type", det.SensorType).
		Str("message_id", det.Envelope.MessageID).
		Msg("Published detection")

	return nil
}
