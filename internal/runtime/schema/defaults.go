package schema

import "github.com/cosmic-horizons/eventbus/internal/runtime/envelope"

func statusNames() []string {
	statuses := envelope.JobStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Catalogue returns version 1 of the schema of every catalogued event type.
func Catalogue() []Schema {
	statuses := statusNames()
	return []Schema{
		{
			EventType:   envelope.TypeJobSubmitted,
			Version:     1,
			Description: "job accepted into the queue",
			Fields: []Field{
				{Name: "id", Type: String, Required: true},
				{Name: "agent", Type: String},
				{Name: "name", Type: String},
				{Name: "system", Type: String},
				{Name: "userId", Type: String},
				{Name: "priority", Type: String, Enum: []string{"low", "normal", "high", "critical"}},
				{Name: "estimatedCostUsd", Type: Number},
				{Name: "resources", Type: Object},
			},
		},
		{
			EventType: envelope.TypeJobStatusChanged,
			Version:   1,
			Fields: []Field{
				{Name: "jobId", Type: String, Required: true},
				{Name: "status", Type: String, Required: true, Enum: statuses},
				{Name: "previousStatus", Type: String, Enum: statuses},
				{Name: "reason", Type: String},
				{Name: "transitionTimeMs", Type: Number},
			},
		},
		{
			EventType: envelope.TypeJobCompleted,
			Version:   1,
			Fields: []Field{
				{Name: "jobId", Type: String, Required: true},
				{Name: "result", Type: Object, Required: true},
				{Name: "result.output_file", Type: String},
				{Name: "result.execution_time_ms", Type: Number},
				{Name: "result.metrics", Type: Object},
			},
		},
		{
			EventType: envelope.TypeJobFailed,
			Version:   1,
			Fields: []Field{
				{Name: "jobId", Type: String, Required: true},
				{Name: "error", Type: Object, Required: true},
				{Name: "error.code", Type: String, Required: true},
				{Name: "error.message", Type: String, Required: true},
				{Name: "error.retry_count", Type: Number},
			},
		},
		{
			EventType: envelope.TypeJobCancelled,
			Version:   1,
			Fields: []Field{
				{Name: "jobId", Type: String, Required: true},
				{Name: "reason", Type: String},
			},
		},
		{
			EventType: envelope.TypeJobMetricsRecorded,
			Version:   1,
			Fields: []Field{
				{Name: "jobId", Type: String, Required: true},
				{Name: "cpuUsagePercent", Type: Number, Required: true},
				{Name: "memoryUsageMb", Type: Number, Required: true},
				{Name: "sampledAt", Type: Date},
			},
		},
		{
			EventType: envelope.TypeNotificationSent,
			Version:   1,
			Fields: []Field{
				{Name: "notificationId", Type: String, Required: true},
				{Name: "userId", Type: String, Required: true},
				{Name: "channel", Type: String, Required: true, Enum: []string{"email", "in_app", "sms", "websocket"}},
				{Name: "title", Type: String, Required: true},
			},
		},
		{
			EventType: envelope.TypeAlertRaised,
			Version:   1,
			Fields: []Field{
				{Name: "alertId", Type: String, Required: true},
				{Name: "severity", Type: String, Required: true, Enum: []string{"info", "warning", "critical"}},
				{Name: "component", Type: String, Required: true},
				{Name: "message", Type: String, Required: true},
			},
		},
		{
			EventType: envelope.TypeSystemHealthCheck,
			Version:   1,
			Fields: []Field{
				{Name: "componentId", Type: String, Required: true},
				{Name: "status", Type: String, Required: true, Enum: []string{"healthy", "degraded", "unhealthy"}},
				{Name: "latencyMs", Type: Number},
			},
		},
		{
			EventType: envelope.TypeAuditActionRecorded,
			Version:   1,
			Fields: []Field{
				{Name: "actorId", Type: String, Required: true},
				{Name: "action", Type: String, Required: true},
				{Name: "resourceType", Type: String, Required: true},
				{Name: "resourceId", Type: String, Required: true},
				{Name: "outcome", Type: String, Required: true},
			},
		},
	}
}

// Default returns a registry preloaded with Catalogue.
func Default() *Registry {
	return NewRegistry().MustRegister(Catalogue()...)
}
