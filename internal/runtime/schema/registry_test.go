package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
)

func TestDefaultCoversEveryEventType(t *testing.T) {
	reg := Default()
	assert.Equal(t, envelope.EventTypes(), reg.EventTypes())
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Schema{EventType: "job.submitted", Version: 1}))

	err := reg.Register(Schema{EventType: "job.submitted", Version: 1})
	assert.ErrorIs(t, err, errspkg.ErrSchemaExists)

	assert.Error(t, reg.Register(Schema{Version: 1}))
	assert.Error(t, reg.Register(Schema{EventType: "x", Version: 0}))
	assert.Panics(t, func() { reg.MustRegister(Schema{EventType: "job.submitted", Version: 1}) })
}

func TestLatestSchemaAndVersions(t *testing.T) {
	reg := NewRegistry().MustRegister(
		Schema{EventType: "job.completed", Version: 2, Description: "v2"},
		Schema{EventType: "job.completed", Version: 1, Description: "v1"},
		Schema{EventType: "job.completed", Version: 3, Description: "v3"},
	)

	latest, err := reg.Schema("job.completed")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, []int{1, 2, 3}, reg.Versions("job.completed"))

	_, err = reg.Schema("job.unknown")
	assert.ErrorIs(t, err, errspkg.ErrSchemaNotFound)
	_, err = reg.SchemaVersion("job.completed", 9)
	assert.ErrorIs(t, err, errspkg.ErrSchemaNotFound)

	reg.Clear()
	assert.Empty(t, reg.EventTypes())
}

func TestValidateEventAcceptsTypedPayloads(t *testing.T) {
	reg := Default()

	tests := []envelope.Payload{
		envelope.JobSubmitted{ID: "job-123", Agent: "AlphaCal"},
		envelope.JobStatusChanged{JobID: "job-123", Status: envelope.StatusRunning},
		envelope.JobCompleted{JobID: "job-123", Result: envelope.JobResult{OutputFile: "s3://bucket/out"}},
		envelope.JobFailed{JobID: "job-123", Error: envelope.JobFailure{Code: "E1", Message: "boom"}},
		envelope.NotificationSent{NotificationID: "n", UserID: "u", Channel: "email", Title: "t"},
		envelope.SystemHealthCheck{ComponentID: "kafka", Status: "healthy"},
	}
	for _, p := range tests {
		t.Run(p.EventType(), func(t *testing.T) {
			assert.NoError(t, reg.ValidateEvent(p.EventType(), p))
		})
	}
}

func TestValidateEventNamesOffendingFields(t *testing.T) {
	reg := Default()

	err := reg.ValidateEvent(envelope.TypeJobStatusChanged, map[string]any{
		"status":         "TELEPORTED",
		"previousStatus": 3,
	})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"jobId", "status", "previousStatus"}, verrs.Fields())
	assert.Contains(t, verrs[0].Message, "required")
	assert.Contains(t, verrs[1].Message, "not one of")
	assert.Equal(t, "number", verrs[2].ActualType)
	assert.Contains(t, err.Error(), "field 'jobId'")
}

func TestValidateEventTreatsEmptyRequiredStringAsMissing(t *testing.T) {
	err := Default().ValidateEvent(envelope.TypeJobSubmitted, envelope.JobSubmitted{})

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"id"}, verrs.Fields())
}

func TestValidateEventNestedFields(t *testing.T) {
	err := Default().ValidateEvent(envelope.TypeJobFailed, envelope.JobFailed{JobID: "job-1"})

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"error.code", "error.message"}, verrs.Fields())
}

func TestValidateDateField(t *testing.T) {
	s := Schema{EventType: "x", Version: 1, Fields: []Field{{Name: "at", Type: Date, Required: true}}}
	assert.NoError(t, s.Validate(map[string]any{"at": "2026-01-01T00:00:00Z"}))

	err := s.Validate(map[string]any{"at": "yesterday"})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "non-date string", verrs[0].ActualType)
}

func TestValidateRejectsNonObjects(t *testing.T) {
	err := Default().ValidateEvent(envelope.TypeJobSubmitted, []string{"job-1"})
	assert.ErrorIs(t, err, errspkg.ErrInvalidPayload)

	err = Default().ValidateEvent("job.teleported", map[string]any{})
	assert.ErrorIs(t, err, errspkg.ErrSchemaNotFound)
}

func TestIsCompatible(t *testing.T) {
	reg := NewRegistry().MustRegister(
		Schema{EventType: "job.completed", Version: 1, Fields: []Field{
			{Name: "jobId", Type: String, Required: true},
			{Name: "durationMs", Type: Number},
		}},
		Schema{EventType: "job.completed", Version: 2, Fields: []Field{
			{Name: "jobId", Type: String, Required: true},
			{Name: "durationMs", Type: Number},
			{Name: "cluster", Type: String},
		}},
		Schema{EventType: "job.completed", Version: 3, Fields: []Field{
			{Name: "jobId", Type: String, Required: true},
			{Name: "site", Type: String, Required: true},
		}},
		Schema{EventType: "job.completed", Version: 4, Fields: []Field{
			{Name: "jobId", Type: String, Required: true},
			{Name: "durationMs", Type: String},
		}},
	)

	tests := []struct {
		from, to int
		want     bool
	}{
		{1, 2, true},
		{1, 3, false},
		{1, 4, false},
		{2, 1, true},
	}
	for _, tt := range tests {
		ok, err := reg.IsCompatible("job.completed", tt.from, tt.to)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "v%d -> v%d", tt.from, tt.to)
	}

	_, err := reg.IsCompatible("job.completed", 1, 7)
	assert.ErrorIs(t, err, errspkg.ErrSchemaNotFound)
}
