package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"transport": "rabbitmq"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	boom := errors.New("boom")
	logger.Error("oops", boom, LogFields{"failed": true})

	require.Len(t, base.entries, 4)
	assert.Equal(t, "debug", base.entries[0].level)
	assert.Equal(t, "rabbitmq", base.entries[0].fields["transport"])
	assert.Nil(t, base.entries[1].fields)
	assert.Equal(t, boom, base.entries[3].err)
}

func TestWatermillServiceLoggerWith(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	assert.Same(t, logger, logger.With(nil), "empty fields should reuse the logger")

	child := logger.With(LogFields{"consumer_tag": "consumer-1"})
	child.Info("delivered", nil)

	require.Len(t, base.entries, 1)
	assert.Equal(t, "consumer-1", base.entries[0].fields["consumer_tag"])
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
}

func TestNopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		l := OrNop(nil)
		l.With(LogFields{"k": "v"}).Error("ignored", errors.New("x"), nil)
	})

	existing := NopLogger()
	assert.Same(t, existing, OrNop(existing))
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	require.Len(t, base.entries, 4)
	assert.Equal(t, "v", base.entries[0].fields["k"])

	child := adapter.With(watermill.LogFields{"child": "yes"})
	child.Info("child_info", nil)
	require.Len(t, base.entries, 5)
	assert.Equal(t, "yes", base.entries[4].fields["child"])
}

func TestWatermillAdapterUnwrapsWatermillLoggers(t *testing.T) {
	inner := &recordingWatermillLogger{}
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(inner))
	assert.Same(t, inner, adapter)

	_, ok := NewWatermillAdapter(nil).(watermill.NopLogger)
	assert.True(t, ok)
}

func TestNewSlogServiceLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.Info("connected", LogFields{"url": "amqp://localhost:5672"})

	assert.Contains(t, buf.String(), `"msg":"connected"`)
	assert.Contains(t, buf.String(), "amqp://localhost:5672")
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	parent  *recordingWatermillLogger
	fields  watermill.LogFields
}

func (r *recordingWatermillLogger) record(entry watermillEntry) {
	if len(r.fields) > 0 {
		merged := watermill.LogFields{}
		for k, v := range r.fields {
			merged[k] = v
		}
		for k, v := range entry.fields {
			merged[k] = v
		}
		entry.fields = merged
	}
	if r.parent != nil {
		r.parent.record(entry)
		return
	}
	r.entries = append(r.entries, entry)
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record(watermillEntry{level: "error", fields: fields, err: err})
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "info", fields: fields})
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "debug", fields: fields})
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "trace", fields: fields})
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &recordingWatermillLogger{parent: r, fields: fields}
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

type recordingServiceLogger struct {
	entries []loggedEntry
	parent  *recordingServiceLogger
	fields  LogFields
}

func (r *recordingServiceLogger) add(entry loggedEntry) {
	if len(r.fields) > 0 {
		merged := LogFields{}
		for k, v := range r.fields {
			merged[k] = v
		}
		for k, v := range entry.fields {
			merged[k] = v
		}
		entry.fields = merged
	}
	if r.parent != nil {
		r.parent.add(entry)
		return
	}
	r.entries = append(r.entries, entry)
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	return &recordingServiceLogger{parent: r, fields: fields}
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.add(loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.add(loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.add(loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.add(loggedEntry{level: "trace", msg: msg, fields: fields})
}
