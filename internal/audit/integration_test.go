package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func chainedEvents(t *testing.T, n int) []*Event {
	t.Helper()
	tracker, err := NewChainTracker("")
	require.NoError(t, err)

	var out []*Event
	sink := &memSink{name: "mem"}
	em := NewChainEmitter(tracker, producer(), sink)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		evt := &Event{
			EventType: EventSelfieMatch,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Batch:     BatchInfo{ID: fmt.Sprintf("run-%d", i), Namespace: "selfies/"},
			Match:     &MatchInfo{ReferenceKey: "selfies/1-me.jpg", Threshold: 99, Matched: []string{}, State: "completed"},
		}
		require.NoError(t, em.Emit(context.Background(), evt))
		out = append(out, evt)
	}
	return out
}

func TestPostgresSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "audit",
			"POSTGRES_PASSWORD": "audit",
			"POSTGRES_DB":       "audit",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	ctx := context.Background()
	sink, err := NewPostgresSink(ctx, "postgres://audit:audit@"+addr+"/audit?sslmode=disable")
	require.NoError(t, err)
	defer sink.Close()

	events := chainedEvents(t, 3)
	for _, evt := range events {
		require.NoError(t, sink.Write(ctx, evt))
	}
	require.NoError(t, sink.Write(ctx, events[1]), "replayed event is ignored")

	stored, err := sink.Events(ctx, EventSelfieMatch)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, events[0].EventID, stored[0].EventID)
	assert.NoError(t, Verify(stored))
}

func TestNATSSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready"),
	}, "4222")

	ctx := context.Background()
	sink, err := NewNATSSink(ctx, "nats://"+addr, "photo-matcher.audit")
	require.NoError(t, err)
	defer sink.Close()

	events := chainedEvents(t, 2)
	for _, evt := range events {
		require.NoError(t, sink.Write(ctx, evt))
	}
	require.NoError(t, sink.Write(ctx, events[0]), "duplicate publish is deduplicated")

	stream, err := sink.js.Stream(ctx, StreamName)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}
