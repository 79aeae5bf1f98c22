// Package natsutil provides NATS JetStream configuration and helpers for
// TheBox streams.
package natsutil

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfigs defines all streams used by TheBox.
var StreamConfigs = map[string]jetstream.StreamConfig{
	"DETECTIONS": {
		Name:              "DETECTIONS",
		Description:       "Normalized sensor detection events",
		Subjects:          []string{"detect.>"},
		Retention:         jetstream.LimitsPolicy,
		MaxBytes:          1 * 1024 * 1024 * 1024, // 1GB
		MaxAge:            24 * time.Hour,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: 100000,
	},
	"TRACKS": {
		Name:        "TRACKS",
		Description: "Fused track state updates",
		Subjects:    []string{"track.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    2 * 1024 * 1024 * 1024, // 2GB
		MaxAge:      72 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
	"SIGHTINGS": {
		Name:        "SIGHTINGS",
		Description: "Planner-corrected high-confidence sightings",
		Subjects:    []string{"sighting.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    512 * 1024 * 1024, // 512MB
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
}

// ConsumerConfigs defines the durable consumers per component.
var ConsumerConfigs = map[string]jetstream.ConsumerConfig{
	"fusion": {
		Durable:       "fusion",
		Description:   "Fusion agent consumer for normalized detections",
		FilterSubject: "detect.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 1000,
	},
	"protocol-emitter": {
		Durable:       "protocol-emitter",
		Description:   "Maritime protocol emitter consumer for track updates and sightings",
		FilterSubject: "track.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 500,
	},
}

// SetupConsumer creates a durable consumer for a component.
func SetupConsumer(ctx context.Context, js jetstream.JetStream, streamName, consumerName string) (jetstream.Consumer, error) {
	cfg, ok := ConsumerConfigs[consumerName]
	if !ok {
		cfg = jetstream.ConsumerConfig{
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 100,
		}
	}

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}

	consumer, err := stream.Consumer(ctx, cfg.Durable)
	if err == nil {
		return consumer, nil
	}

	return stream.CreateConsumer(ctx, cfg)
}
