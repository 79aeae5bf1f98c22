package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) *nats.Conn {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Port: -1})
	require.NoError(t, err)
	go srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not start")
	}

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSAdapterDispatch(t *testing.T) {
	nc := newTestConn(t)

	var received Tile
	sub, err := nc.Subscribe("adapter.vision.dispatch", func(msg *nats.Msg) {
		require.NoError(t, json.Unmarshal(msg.Data, &received))
		reply, _ := json.Marshal(Verdict{IsTrue: true, Score: 0.97})
		msg.Respond(reply)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	adapter := NewNATSAdapter(nc, "vision", DefaultVisionCapabilities())
	tile := Tile{AzDeg: 86, ElDeg: 1.5, Zoom: 4, Dwell: time.Second, Modality: "vision"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	verdict, err := adapter.Dispatch(ctx, tile)
	require.NoError(t, err)

	assert.True(t, verdict.IsTrue)
	assert.InDelta(t, 0.97, verdict.Score, 1e-9)
	assert.InDelta(t, 86, received.AzDeg, 1e-9, "tile arrives at the driver unchanged")
}

func TestNATSAdapterDispatchBoundedByDeadline(t *testing.T) {
	nc := newTestConn(t)

	// A hung driver: subscribed, never replies.
	sub, err := nc.Subscribe("adapter.radar.dispatch", func(msg *nats.Msg) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	adapter := NewNATSAdapter(nc, "radar", DefaultRadarCapabilities())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = adapter.Dispatch(ctx, Tile{AzDeg: 10, Modality: "radar"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, elapsed, 2*time.Second, "dispatch must return once the tile deadline expires")
}
