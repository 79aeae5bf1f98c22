// Package emitter publishes fused track state and corrected sightings onto
// the bus for the protocol emitter and other downstream consumers. Outbound
// reports for validated tracks pass a report-authorization check first.
package emitter

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/seaward-systems/thebox/pkg/detection"
	"github.com/seaward-systems/thebox/pkg/gate"
	"github.com/seaward-systems/thebox/pkg/track"
)

// TrackUpdate is the bus message carrying one fused track snapshot.
type TrackUpdate struct {
	Envelope detection.Envelope `json:"envelope"`
	Track    track.Snapshot     `json:"track"`
}

func (u *TrackUpdate) GetEnvelope() detection.Envelope  { return u.Envelope }
func (u *TrackUpdate) SetEnvelope(e detection.Envelope) { u.Envelope = e }

func (u *TrackUpdate) Subject() string {
	return "track.update." + string(u.Track.Status)
}

// Emitter publishes to JetStream on behalf of the fusion agent.
type Emitter struct {
	js     jetstream.JetStream
	gate   *gate.Client
	secret []byte
	source string
	logger zerolog.Logger

	updatesPublished   prometheus.Counter
	sightingsPublished prometheus.Counter
	reportsDenied      prometheus.Counter
}

// New builds an emitter. gate may be nil, in which case no report gating is
// applied.
func New(js jetstream.JetStream, gateClient *gate.Client, source string, secret []byte, logger zerolog.Logger, reg prometheus.Registerer) *Emitter {
	e := &Emitter{
		js:     js,
		gate:   gateClient,
		secret: secret,
		source: source,
		logger: logger.With().Str("component", "emitter").Logger(),

		updatesPublished:   prometheus.NewCounter(prometheus.CounterOpts{Name: "emitter_track_updates_total", Help: "Track updates published"}),
		sightingsPublished: prometheus.NewCounter(prometheus.CounterOpts{Name: "emitter_sightings_total", Help: "Corrected sightings published"}),
		reportsDenied:      prometheus.NewCounter(prometheus.CounterOpts{Name: "emitter_reports_denied_total", Help: "Track reports denied by policy"}),
	}
	if reg != nil {
		reg.MustRegister(e.updatesPublished, e.sightingsPublished, e.reportsDenied)
	}
	return e
}

// PublishTrackUpdate reports one track snapshot. Validated tracks are gated
// by policy; gate errors fail open with a warning so a policy outage never
// stalls the pipeline.
func (e *Emitter) PublishTrackUpdate(ctx context.Context, snap track.Snapshot, correlationID string) error {
	if e.gate != nil && snap.Status == track.StatusValidated {
		decision, err := e.gate.CheckReport(ctx, snap.TrackID, snap.Confidence, string(snap.Status))
		if err != nil {
			e.logger.Warn().Err(err).Str("track_id", snap.TrackID).Msg("Report gate unreachable, failing open")
		} else if !decision.Allowed {
			e.reportsDenied.Inc()
			e.logger.Warn().
				Str("track_id", snap.TrackID).
				Strs("reasons", decision.Reasons).
				Msg("Track report denied by policy")
			return nil
		}
	}

	update := &TrackUpdate{
		Envelope: detection.NewEnvelope(e.source, "fusion").WithCorrelation(correlationID, ""),
		Track:    snap,
	}

	data, err := detection.MarshalWithSignature(update, e.secret)
	if err != nil {
		return fmt.Errorf("failed to marshal track update: %w", err)
	}

	if _, err := e.js.Publish(ctx, update.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish track update: %w", err)
	}
	e.updatesPublished.Inc()
	return nil
}

// PublishSighting publishes a planner-corrected sighting. Implements
// search.SightingPublisher.
func (e *Emitter) PublishSighting(ctx context.Context, s *detection.CorrectedSighting) error {
	data, err := detection.MarshalWithSignature(s, e.secret)
	if err != nil {
		return fmt.Errorf("failed to marshal sighting: %w", err)
	}

	if _, err := e.js.Publish(ctx, s.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish sighting: %w", err)
	}
	e.sightingsPublished.Inc()

	e.logger.Info().
		Str("object_id", s.ObjectID).
		Float64("bearing_deg", s.BearingDegTrue).
		Float64("confidence", s.Confidence).
		Msg("Published corrected sighting")
	return nil
}
