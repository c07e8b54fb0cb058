package reports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fyrsmithlabs/profiled/internal/stats"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func testSnapshot() stats.Snapshot {
	return stats.NewSnapshot(0.25, []stats.Entry{
		{Key: stats.NewFunctionKey("foo", "a.go", 3), Record: stats.FunctionRecord{CallCount: 5, PrimitiveCallCount: 5, TotalTimeSeconds: 0.1, CumulativeTimeSeconds: 0.2}},
		{Key: stats.UnlocatedKey("bar"), Record: stats.FunctionRecord{CallCount: 1, PrimitiveCallCount: 1, TotalTimeSeconds: 0.3, CumulativeTimeSeconds: 0.3}},
	})
}

func TestNewReport(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	snap := testSnapshot()
	r := NewReport(ctx, "profiled", snap)

	assert.Equal(t, snap.ID().String(), r.ID)
	assert.Equal(t, "profiled", r.Service)
	assert.Equal(t, span.SpanContext().TraceID().String(), r.TraceID)
	assert.Equal(t, uint64(6), r.TotalCalls)
	require.Len(t, r.Functions, 2)

	// ordered by cumulative time
	assert.Equal(t, "bar", r.Functions[0].Name)
	assert.Empty(t, r.Functions[0].File)
	assert.Equal(t, "foo", r.Functions[1].Name)
	assert.Equal(t, "a.go", r.Functions[1].File)
	assert.Equal(t, 3, r.Functions[1].Line)
}

func TestNewReport_NoTrace(t *testing.T) {
	r := NewReport(context.Background(), "profiled", stats.NewSnapshot(0, nil))
	assert.Empty(t, r.TraceID)
	assert.NotNil(t, r.Functions)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())

	err := Config{Enabled: true, Subject: "x"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")

	err = Config{Enabled: true, URL: nats.DefaultURL}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject is required")
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("profiled.reports", msgs)
	require.NoError(t, err)
	defer func() { _ = s.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	p, err := Connect(Config{Enabled: true, URL: server.ClientURL(), Subject: "profiled.reports"}, nil)
	require.NoError(t, err)

	report := NewReport(context.Background(), "profiled", testSnapshot())
	require.NoError(t, p.Publish(context.Background(), report))
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		var got Report
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, report.ID, got.ID)
		assert.Equal(t, report.TotalCalls, got.TotalCalls)
		assert.Len(t, got.Functions, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("report not received")
	}
}

func TestNATSPublisher_SharedConnectionNotClosed(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(nc, "profiled.reports", nil)
	require.NoError(t, p.Close())
	assert.True(t, nc.IsConnected())
}

func TestNATSPublisher_PublishOnClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	p := NewNATSPublisher(nc, "profiled.reports", nil)
	err = p.Publish(context.Background(), NewReport(context.Background(), "profiled", testSnapshot()))
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := Connect(Config{Enabled: true}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reports config")
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Report{}))
	assert.NoError(t, p.Close())
}
