package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestSlogLoggerWritesScopedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	scoped := logger.With(LogFields{"topic": "departures", "subscription": "tower"})
	scoped.Info("Message dead-lettered", LogFields{"message_id": "m-1", "delivery_count": 3})
	scoped.Error("Handler failed", errors.New("gate closed"), LogFields{"message_id": "m-2"})
	scoped.Trace("Message acked", nil)

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 2, "trace is below the handler level")

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "Message dead-lettered", lines[0]["msg"])
	assert.Equal(t, "departures", lines[0]["topic"])
	assert.Equal(t, "tower", lines[0]["subscription"])
	assert.EqualValues(t, 3, lines[0]["delivery_count"])

	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "gate closed", lines[1]["error"])
	assert.Equal(t, "m-2", lines[1]["message_id"])
	assert.Equal(t, "tower", lines[1]["subscription"], "fields from With apply to every entry")
}

func TestRouterLogsReachTheBusLogger(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	bus := NewWatermillServiceLogger(capture).With(LogFields{"subscription": "tower"})

	router := NewWatermillAdapter(bus).With(watermill.LogFields{"handler": "busflow"})
	router.Info("Starting handler", watermill.LogFields{"topic": "departures"})
	router.Error("Handler returned error", errors.New("timeout"), nil)

	infos := capture.Captured()[watermill.InfoLogLevel]
	require.Len(t, infos, 1)
	assert.Equal(t, watermill.LogFields{"subscription": "tower", "handler": "busflow", "topic": "departures"}, infos[0].Fields)
	boom := errors.New("timeout")
	router.Error("Ack failed", boom, nil)
	assert.True(t, capture.HasError(boom))
	errs := capture.Captured()[watermill.ErrorLogLevel]
	require.Len(t, errs, 2)
	assert.Equal(t, watermill.LogFields{"subscription": "tower", "handler": "busflow"}, errs[1].Fields)
}

func TestWatermillAdapterUnwrapsWatermillLogger(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	assert.Same(t, capture, NewWatermillAdapter(NewWatermillServiceLogger(capture)))
}

type fieldRecorder struct {
	scope   LogFields
	entries *[]LogFields
}

func (f fieldRecorder) With(fields LogFields) ServiceLogger {
	merged := LogFields{}
	for k, v := range f.scope {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return fieldRecorder{scope: merged, entries: f.entries}
}

func (f fieldRecorder) record(fields LogFields) {
	merged := LogFields{}
	for k, v := range f.scope {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*f.entries = append(*f.entries, merged)
}

func (f fieldRecorder) Debug(_ string, fields LogFields)          { f.record(fields) }
func (f fieldRecorder) Info(_ string, fields LogFields)           { f.record(fields) }
func (f fieldRecorder) Error(_ string, _ error, fields LogFields) { f.record(fields) }
func (f fieldRecorder) Trace(_ string, fields LogFields)          { f.record(fields) }

func TestCustomServiceLoggerServesWatermill(t *testing.T) {
	var entries []LogFields
	adapter := NewWatermillAdapter(fieldRecorder{entries: &entries})

	child := adapter.With(watermill.LogFields{"transport": "nats"})
	child.Debug("Subscribing", watermill.LogFields{"stream": "departures"})
	adapter.Trace("Acked", nil)

	require.Len(t, entries, 2)
	assert.Equal(t, LogFields{"transport": "nats", "stream": "departures"}, entries[0])
	assert.Equal(t, LogFields{}, entries[1], "the parent adapter keeps its own scope")
}

func TestNopLoggerReturnsItselfForEmptyScope(t *testing.T) {
	logger := NewNopServiceLogger()
	assert.Same(t, logger, logger.With(nil))
	assert.NotPanics(t, func() {
		logger.With(LogFields{"k": "v"}).Error("ignored", errors.New("boom"), nil)
	})
}

func TestConstructorsRejectNil(t *testing.T) {
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}
