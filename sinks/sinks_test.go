package sinks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/model"
)

func sampleEvents() []model.Event {
	moment := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []model.Event{
		{Timestamp: moment, Catalog: "gebieden", Collection: "wijken", Action: model.ActionAdd, TID: "w1",
			Contents: model.EventContents{Record: model.Record{"identificatie": "w1"}, Hash: "h1"}},
		{Timestamp: moment, Catalog: "gebieden", Collection: "wijken", Action: model.ActionConfirm, TID: "w2",
			Contents: model.EventContents{Hash: "h2", LastEvent: model.LastEventOf(4)}},
		{Timestamp: moment, Catalog: "gebieden", Collection: "wijken", Action: model.ActionDelete, TID: "w3",
			Contents: model.EventContents{LastEvent: model.LastEventOf(2)}},
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, "gebieden", "wijken", "run1")
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), sampleEvents()))
	require.NoError(t, sink.Close())

	eventsPath, confirmsPath := sink.Paths()
	assert.Equal(t, filepath.Join(dir, "gebieden", "wijken", "run1.events.jsonl"), eventsPath)

	events, err := ReadEvents(eventsPath)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.ActionAdd, events[0].Action)
	assert.Equal(t, "w1", events[0].Contents.Record["identificatie"])
	assert.Equal(t, model.ActionDelete, events[1].Action)
	assert.Equal(t, int64(2), events[1].ExpectedLastEvent())

	confirms, err := ReadEvents(confirmsPath)
	require.NoError(t, err)
	require.Len(t, confirms, 1)
	assert.Equal(t, "h2", confirms[0].Contents.Hash)
}

func TestFileSinkWithoutEvents(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), "gebieden", "wijken", "empty")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	eventsPath, _ := sink.Paths()
	info, err := os.Stat(eventsPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestReadEventsInvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"action":"ADD"}`+"\n"+`{"action":"UPSERT"}`+"\n"), 0o600))

	events, err := ReadEvents(path)
	assert.Error(t, err)
	assert.Len(t, events, 1)
}

type recordingWriter struct {
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (r *recordingWriter) WriteMessages(_ context.Context, messages ...kafka.Message) error {
	if r.err != nil {
		return r.err
	}

	r.batches = append(r.batches, append([]kafka.Message(nil), messages...))
	return nil
}

func (r *recordingWriter) Close() error {
	r.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	writer := &recordingWriter{}
	sink := newKafkaSink(writer, "registries.events", 2, zap.NewNop().Sugar())

	require.NoError(t, sink.Write(context.Background(), sampleEvents()))
	require.Len(t, writer.batches, 2)
	assert.Len(t, writer.batches[0], 2)
	assert.Len(t, writer.batches[1], 1)

	first := writer.batches[0][0]
	assert.Equal(t, "registries.events", first.Topic)
	assert.Equal(t, "gebieden.wijken.w1", string(first.Key))
	assert.Contains(t, first.Headers, kafka.Header{Key: "action", Value: []byte("ADD")})
	assert.Contains(t, string(first.Value), `"action":"ADD"`)

	require.NoError(t, sink.Write(context.Background(), nil))
	assert.Len(t, writer.batches, 2)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestKafkaSinkFailure(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker down")}
	sink := newKafkaSink(writer, "registries.events", 10, zap.NewNop().Sugar())
	assert.Error(t, sink.Write(context.Background(), sampleEvents()))
}

type countingSink struct {
	written int
	err     error
}

func (c *countingSink) Write(_ context.Context, events []model.Event) error {
	c.written += len(events)
	return c.err
}

func (c *countingSink) Close() error { return c.err }

func TestMulti(t *testing.T) {
	first, second := &countingSink{}, &countingSink{}
	sink := Multi(first, nil, second)
	require.NoError(t, sink.Write(context.Background(), sampleEvents()))
	assert.Equal(t, 3, first.written)
	assert.Equal(t, 3, second.written)
	require.NoError(t, sink.Close())

	failing := &countingSink{err: errors.New("disk full")}
	third := &countingSink{}
	sink = Multi(failing, third)
	assert.Error(t, sink.Write(context.Background(), sampleEvents()))
	assert.Zero(t, third.written)
	assert.Error(t, sink.Close())
}
