// Fusion Agent - Applies confidence and range fusion to normalized
// detections and steers the search planner on uncertain bearings.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seaward-systems/thebox/pkg/agent"
	"github.com/seaward-systems/thebox/pkg/config"
	"github.com/seaward-systems/thebox/pkg/confidence"
	"github.com/seaward-systems/thebox/pkg/detection"
	"github.com/seaward-systems/thebox/pkg/emitter"
	"github.com/seaward-systems/thebox/pkg/gate"
	"github.com/seaward-systems/thebox/pkg/natsutil"
	"github.com/seaward-systems/thebox/pkg/postgres"
	"github.com/seaward-systems/thebox/pkg/ranging"
	"github.com/seaward-systems/thebox/pkg/search"
	"github.com/seaward-systems/thebox/pkg/telemetry"
	"github.com/seaward-systems/thebox/pkg/track"
)

// BearingErrorThresholdDeg is the uncertainty above which a detection's
// directional cue is handed to the search planner for active confirmation.
const DefaultBearingErrorThresholdDeg = 3.0

// FusionAgent owns the estimation triad: track store (confidence + range
// engines) and the search planner.
type FusionAgent struct {
	*agent.BaseAgent
	logger   zerolog.Logger
	tuning   config.Config
	consumer jetstream.Consumer

	store   *track.Store
	planner *search.Planner
	emit    *emitter.Emitter
	db      *postgres.Pool
	tracer  trace.Tracer

	bearingErrThreshold float64
}

func init() {
	agent.Register(agent.AgentTypeFusion, func(cfg agent.Config) (agent.Agent, error) {
		tuning, err := config.Load()
		if err != nil {
			return nil, err
		}
		return NewFusionAgent(cfg, tuning)
	})
}

// NewFusionAgent creates the agent shell; engines are wired in Run once the
// NATS connection exists.
func NewFusionAgent(cfg agent.Config, tuning config.Config) (*FusionAgent, error) {
	base, err := agent.NewBaseAgent(cfg)
	if err != nil {
		return nil, err
	}

	a := &FusionAgent{
		BaseAgent:           base,
		logger:              *base.Logger(),
		tuning:              tuning,
		tracer:              telemetry.Tracer("fusion"),
		bearingErrThreshold: DefaultBearingErrorThresholdDeg,
	}

	confEngine := confidence.NewEngine(tuning.Confidence)
	rangeEngine := ranging.NewEngine(tuning.Range)
	a.store = track.NewStore(confEngine, rangeEngine, tuning.ValidateAt, base.Metrics())

	return a, nil
}

// Run starts the fusion agent.
func (a *FusionAgent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start base agent: %w", err)
	}

	for _, streamCfg := range natsutil.StreamConfigs {
		if _, err := a.EnsureStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("failed to setup streams: %w", err)
		}
	}

	consumer, err := natsutil.SetupConsumer(ctx, a.JetStream(), "DETECTIONS", "fusion")
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}
	a.consumer = consumer

	// Persistence is best-effort: a missing database degrades to in-memory
	// tracking, it never stops fusion.
	if a.Config().DBUrl != "" {
		db, err := postgres.NewPoolFromURL(ctx, a.Config().DBUrl)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Database unavailable, running without persistence")
		} else {
			a.db = db
			if err := db.EnsureSchema(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to ensure schema")
			}
		}
	}

	var gateClient *gate.Client
	if a.Config().GateUrl != "" {
		gateClient = gate.NewClient(a.Config().GateUrl)
	}
	a.emit = emitter.New(a.JetStream(), gateClient, a.ID(), a.Config().Secret, a.logger, a.Metrics())

	// The planner's adapters dispatch tiles to the external camera/radar
	// drivers over NATS request/reply.
	adapters := map[string]search.Adapter{
		"vision": search.NewNATSAdapter(a.NATS(), "vision", a.tuning.VisionCaps),
		"radar":  search.NewNATSAdapter(a.NATS(), "radar", a.tuning.RadarCaps),
	}
	recorder := &sightingRecorder{agent: a}
	a.planner = search.NewPlanner(a.tuning.Planner, adapters, recorder, a.store.Range, a.logger, a.Metrics())

	// The planner worker is the only intentionally blocking path; it runs
	// off the detection-ingestion hot path.
	go func() {
		if err := a.planner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("Planner worker exited")
		}
	}()

	a.logger.Info().Msg("Fusion agent started, consuming from DETECTIONS stream")

	return a.consumeMessages(ctx)
}

// consumeMessages processes detection messages.
func (a *FusionAgent) consumeMessages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := a.consumer.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			a.logger.Error().Err(err).Msg("Failed to fetch messages")
			a.RecordError("fetch_error")
			time.Sleep(time.Second)
			continue
		}

		for msg := range msgs.Messages() {
			if err := a.processMessage(ctx, msg); err != nil {
				a.logger.Error().Err(err).Msg("Failed to process message")
				a.RecordError("process_error")
				msg.Nak()
			} else {
				msg.Ack()
			}
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			a.logger.Warn().Err(msgs.Error()).Msg("Message batch error")
		}
	}
}

// processMessage handles a single normalized detection.
func (a *FusionAgent) processMessage(ctx context.Context, msg jetstream.Msg) error {
	start := time.Now()

	var det detection.Detection
	if err := json.Unmarshal(msg.Data(), &det); err != nil {
		return fmt.Errorf("failed to unmarshal detection: %w", err)
	}

	ctx, span := a.tracer.Start(ctx, "fusion.detection",
		trace.WithAttributes(
			attribute.String("track_id", det.TrackID),
			attribute.String("sensor_type", det.SensorType),
		))
	defer span.End()

	correlationID := det.Envelope.CorrelationID
	if correlationID == "" {
		correlationID = det.Envelope.MessageID
	}

	// Boundary validation: a malformed detection is skipped, never fatal.
	if err := detection.ValidateDetection(&det); err != nil {
		a.logger.Warn().Err(err).Str("correlation_id", correlationID).Msg("Dropping invalid detection")
		a.RecordMessage("invalid", "detection")
		return nil
	}

	// Confidence and range updates are pure, non-blocking computation run
	// inline, serialized per track by the store's shards.
	snap, upd, est := a.store.Apply(&det, det.VisionEvent())

	a.logger.Info().
		Str("correlation_id", correlationID).
		Str("track_id", det.TrackID).
		Float64("confidence", snap.Confidence).
		Str("reason", string(upd.Reason)).
		Float64("range_km", est.RangeKM).
		Str("range_mode", string(est.Mode)).
		Msg("Track updated")

	if err := a.emit.PublishTrackUpdate(ctx, snap, correlationID); err != nil {
		return err
	}

	if a.db != nil {
		if err := a.db.UpsertTrack(ctx, snap); err != nil {
			a.logger.Warn().Err(err).Str("track_id", det.TrackID).Msg("Failed to persist track")
		}
	}

	// An uncertain directional cue (re)starts the planner asynchronously;
	// the newest cue always wins.
	a.maybeSubmitCue(&det, snap)

	duration := time.Since(start)
	a.RecordMessage("success", "detection")
	a.RecordLatency("detection", duration)

	return nil
}

// maybeSubmitCue hands bearing-uncertain detections to the search planner.
func (a *FusionAgent) maybeSubmitCue(det *detection.Detection, snap track.Snapshot) {
	bearingErr, ok := det.Cues.Number(detection.CueBearingErrorDeg)
	if !ok || bearingErr <= a.bearingErrThreshold {
		return
	}

	sourceType := "radar"
	switch det.SensorType {
	case "vision", "eo", "ir":
		sourceType = "vision"
	}

	cue := detection.DirectionalCue{
		Envelope:        detection.NewEnvelope(a.ID(), "fusion").WithCorrelation(det.Envelope.CorrelationID, det.Envelope.MessageID),
		ObjectID:        det.TrackID,
		BearingDegTrue:  det.BearingDeg,
		BearingErrorDeg: bearingErr,
		SourceType:      sourceType,
		Confidence:      snap.Confidence,
	}
	if err := detection.ValidateDirectionalCue(&cue); err != nil {
		a.logger.Warn().Err(err).Str("track_id", det.TrackID).Msg("Dropping invalid directional cue")
		return
	}

	a.planner.Submit(cue)
	a.logger.Info().
		Str("track_id", det.TrackID).
		Float64("bearing_deg", cue.BearingDegTrue).
		Float64("bearing_error_deg", bearingErr).
		Str("source_type", sourceType).
		Msg("Directional cue submitted to planner")
}

// sightingRecorder folds corrected sightings back into the track store and
// persistence before they go out on the bus.
type sightingRecorder struct {
	agent *FusionAgent
}

func (r *sightingRecorder) PublishSighting(ctx context.Context, s *detection.CorrectedSighting) error {
	if snap, ok := r.agent.store.ApplySighting(s); ok {
		if r.agent.db != nil {
			if err := r.agent.db.UpsertTrack(ctx, snap); err != nil {
				r.agent.logger.Warn().Err(err).Str("track_id", snap.TrackID).Msg("Failed to persist corrected track")
			}
		}
	}
	if r.agent.db != nil {
		if err := r.agent.db.InsertSighting(ctx, s); err != nil {
			r.agent.logger.Warn().Err(err).Str("object_id", s.ObjectID).Msg("Failed to persist sighting")
		}
	}
	return r.agent.emit.PublishSighting(ctx, s)
}

func main() {
	cfg := agent.Config{
		ID:      config.GetEnv("AGENT_ID", "fusion-"+uuid.New().String()[:8]),
		Type:    agent.AgentTypeFusion,
		NATSUrl: config.GetEnv("NATS_URL", "nats://localhost:4222"),
		GateUrl: config.GetEnv("GATE_URL", ""),
		DBUrl:   config.GetEnv("POSTGRES_URL", ""),
		OTELUrl: config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Secret:  []byte(config.GetEnv("AGENT_SECRET", "fusion-secret")),
	}

	created, err := agent.Create(agent.AgentTypeFusion, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create fusion agent: %v (registered types: %v)\n", err, agent.ListTypes())
		os.Exit(1)
	}
	fusion := created.(*FusionAgent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "thebox-fusion", cfg.OTELUrl)
	if err != nil {
		fusion.logger.Warn().Err(err).Msg("Tracing disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Metrics and status server
	go func() {
		metricsAddr := config.GetEnv("METRICS_ADDR", ":9090")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(fusion.Metrics(), promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			health := fusion.Health()
			if health.Healthy {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			json.NewEncoder(w).Encode(health)
		})
		mux.HandleFunc("/status/planner", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(fusion.planner.Status())
		})
		mux.HandleFunc("/status/tracks", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(fusion.store.List())
		})
		fusion.logger.Info().Str("addr", metricsAddr).Msg("Starting metrics server")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			fusion.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	go func() {
		if err := fusion.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fusion.logger.Error().Err(err).Msg("Fusion agent error")
			cancel()
		}
	}()

	sig := <-sigChan
	fusion.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			fusion.logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}

	if err := fusion.Stop(shutdownCtx); err != nil {
		fusion.logger.Error().Err(err).Msg("Error during shutdown")
	}

	fusion.logger.Info().Msg("Fusion agent stopped")
}
