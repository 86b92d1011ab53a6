package auth_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() auth.AuditEvent {
	return auth.AuditEvent{
		Type:          auth.EventLoginFailure,
		Subject:       "alice",
		SourceAddress: "10.0.0.1",
		Reason:        auth.ReasonBadCredential,
		Detail:        map[string]any{"failed_attempts": 2},
		OccurredAt:    baseTime,
	}
}

func TestWriterSinkWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := auth.NewWriterSink(&buf)

	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	require.NoError(t, sink.Record(context.Background(), auth.AuditEvent{
		Type:       auth.EventLogout,
		Subject:    "alice",
		OccurredAt: baseTime,
	}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, string(auth.EventLoginFailure), entry["event"])
	assert.Equal(t, "alice", entry["subject"])
	assert.Equal(t, "10.0.0.1", entry["source"])
	assert.Equal(t, auth.ReasonBadCredential, entry["reason"])
	assert.Equal(t, "2026-03-02T09:00:00.000Z", entry["time"])
	detail, ok := entry["detail"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), detail["failed_attempts"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, string(auth.EventLogout), second["event"])
	assert.NotContains(t, second, "reason")
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "auth.log")

	sink, err := auth.NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	sink, err = auth.NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		count++
	}
	assert.Equal(t, 2, count)
}

func TestMultiSink(t *testing.T) {
	first := &capturingSink{}
	second := &capturingSink{}
	failing := auth.AuditSinkFunc(func(context.Context, auth.AuditEvent) error {
		return errors.New("sink down")
	})

	sink := auth.NewMultiSink(first, nil, failing, second)
	assert.Len(t, sink, 3)

	err := sink.Record(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "sink down")
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)

	assert.NoError(t, auth.NewMultiSink(first).Record(context.Background(), sampleEvent()))
}

func TestAsyncSinkRetriesAndDrains(t *testing.T) {
	var attempts atomic.Int32
	delivered := &capturingSink{}
	flaky := auth.AuditSinkFunc(func(ctx context.Context, event auth.AuditEvent) error {
		if attempts.Add(1) <= 2 {
			return errors.New("temporary failure")
		}
		return delivered.Record(ctx, event)
	})

	sink := auth.NewAsyncSink(flaky, auth.WithAuditRetry(3, time.Millisecond))
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	assert.Equal(t, int32(3), attempts.Load())
	require.Len(t, delivered.Events(), 1)
	assert.Equal(t, "alice", delivered.Events()[0].Subject)

	assert.ErrorIs(t, sink.Record(context.Background(), sampleEvent()), auth.ErrAuditSinkClosed)
	assert.NoError(t, sink.Close(ctx))
}

func TestAsyncSinkGivesUpAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	broken := auth.AuditSinkFunc(func(context.Context, auth.AuditEvent) error {
		attempts.Add(1)
		return errors.New("permanent failure")
	})

	sink := auth.NewAsyncSink(broken, auth.WithAuditRetry(2, time.Millisecond))
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, int32(3), attempts.Load())
}

func TestAsyncSinkQueueFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := auth.AuditSinkFunc(func(context.Context, auth.AuditEvent) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	sink := auth.NewAsyncSink(blocking, auth.WithAuditQueueSize(1))
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	<-started

	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	assert.ErrorIs(t, sink.Record(context.Background(), sampleEvent()), auth.ErrAuditQueueFull)
	assert.Equal(t, int64(1), sink.Dropped())

	close(release)
	require.NoError(t, sink.Close(context.Background()))
}

func TestAsyncSinkCloseTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocking := auth.AuditSinkFunc(func(context.Context, auth.AuditEvent) error {
		<-release
		return nil
	})

	sink := auth.NewAsyncSink(blocking)
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, sink.Close(ctx))
}

func TestMetricsSink(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink, err := auth.NewMetricsSink(registry)
	require.NoError(t, err)

	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
	require.NoError(t, sink.Record(context.Background(), auth.AuditEvent{Type: auth.EventLoginSuccess}))

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.Counter().WithLabelValues(string(auth.EventLoginFailure), auth.ReasonBadCredential)))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.Counter().WithLabelValues(string(auth.EventLoginSuccess), "")))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.Counter()))

	_, err = auth.NewMetricsSink(registry)
	assert.Error(t, err, "duplicate registration")

	unregistered, err := auth.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.NotNil(t, unregistered.Counter())
}

func TestDBSink(t *testing.T) {
	ctx := context.Background()
	sink := auth.NewDBSink(newTestDB(t))
	require.NoError(t, sink.EnsureSchema(ctx))
	require.NoError(t, sink.EnsureSchema(ctx))

	require.NoError(t, sink.Record(ctx, sampleEvent()))
	later := sampleEvent()
	later.Type = auth.EventAccountLocked
	later.OccurredAt = baseTime.Add(time.Minute)
	require.NoError(t, sink.Record(ctx, later))

	records, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, string(auth.EventAccountLocked), records[0].EventType)
	assert.Equal(t, string(auth.EventLoginFailure), records[1].EventType)
	assert.Equal(t, "alice", records[1].Subject)
	assert.Equal(t, "10.0.0.1", records[1].Source)
	assert.Equal(t, auth.ReasonBadCredential, records[1].Reason)
	assert.EqualValues(t, 2, records[1].Detail["failed_attempts"])
	assert.WithinDuration(t, baseTime, records[1].OccurredAt, time.Second)

	records, err = sink.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestServiceAuditThroughAsyncMultiSink(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics, err := auth.NewMetricsSink(registry)
	require.NoError(t, err)

	var buf safeBuffer
	captured := &capturingSink{}
	async := auth.NewAsyncSink(auth.NewMultiSink(auth.NewWriterSink(&buf), metrics, captured))

	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "opal", auth.RoleStaff)
	env.service.WithAuditSink(async)

	_, err = env.service.Login(ctx, "opal", "Wr0ng!Password", "10.0.0.1")
	require.NoError(t, err)
	_, err = env.service.Login(ctx, "opal", strongPassword, "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, async.Close(ctx))

	assert.Len(t, captured.Events(), 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Counter().WithLabelValues(string(auth.EventLoginSuccess), "")))
	assert.NotContains(t, buf.String(), strongPassword)
	assert.NotContains(t, buf.String(), "Wr0ng!Password")
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
