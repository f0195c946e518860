package envelope

import "time"

// Payload is the closed set of event payload variants. Each variant reports its
// event type and its natural partition key (empty when it has none).
type Payload interface {
	EventType() string
	PartitionKey() string
	payload()
}

// JobStatus is the lifecycle state of a compute job.
type JobStatus string

const (
	StatusQueued    JobStatus = "QUEUED"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
)

// JobStatuses lists the valid JobStatus values in lifecycle order.
func JobStatuses() []JobStatus {
	return []JobStatus{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
}

// ResourceRequest describes what a job asked the scheduler for.
type ResourceRequest struct {
	CPUCores    int `json:"cpu_cores,omitempty"`
	MemoryGB    int `json:"memory_gb,omitempty"`
	GPUCount    int `json:"gpu_count,omitempty"`
	WallTimeMin int `json:"wall_time_minutes,omitempty"`
}

// JobSubmitted announces a job entering the queue.
type JobSubmitted struct {
	ID               string           `json:"id"`
	Agent            string           `json:"agent,omitempty"`
	Name             string           `json:"name,omitempty"`
	System           string           `json:"system,omitempty"`
	UserID           string           `json:"userId,omitempty"`
	Priority         string           `json:"priority,omitempty"`
	EstimatedCostUSD float64          `json:"estimatedCostUsd,omitempty"`
	Resources        *ResourceRequest `json:"resources,omitempty"`
}

func (JobSubmitted) EventType() string      { return TypeJobSubmitted }
func (p JobSubmitted) PartitionKey() string { return p.ID }
func (JobSubmitted) payload()               {}

// JobStatusChanged records a lifecycle transition.
type JobStatusChanged struct {
	JobID            string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	PreviousStatus   JobStatus `json:"previousStatus,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	TransitionTimeMS int64     `json:"transitionTimeMs,omitempty"`
}

func (JobStatusChanged) EventType() string      { return TypeJobStatusChanged }
func (p JobStatusChanged) PartitionKey() string { return p.JobID }
func (JobStatusChanged) payload()               {}

// JobResult is the outcome record of a finished job.
type JobResult struct {
	OutputFile      string             `json:"output_file,omitempty"`
	OutputLocation  string             `json:"output_location,omitempty"`
	ExecutionTimeMS int64              `json:"execution_time_ms,omitempty"`
	ResultSizeBytes int64              `json:"result_size_bytes,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}

// JobCompleted announces a successful job.
type JobCompleted struct {
	JobID  string    `json:"jobId"`
	Result JobResult `json:"result"`
}

func (JobCompleted) EventType() string      { return TypeJobCompleted }
func (p JobCompleted) PartitionKey() string { return p.JobID }
func (JobCompleted) payload()               {}

// JobFailure describes why a job failed.
type JobFailure struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryCount int    `json:"retry_count,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// JobFailed announces a failed job.
type JobFailed struct {
	JobID string     `json:"jobId"`
	Error JobFailure `json:"error"`
}

func (JobFailed) EventType() string      { return TypeJobFailed }
func (p JobFailed) PartitionKey() string { return p.JobID }
func (JobFailed) payload()               {}

// JobCancelled announces a cancelled job.
type JobCancelled struct {
	JobID       string `json:"jobId"`
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelledBy,omitempty"`
}

func (JobCancelled) EventType() string      { return TypeJobCancelled }
func (p JobCancelled) PartitionKey() string { return p.JobID }
func (JobCancelled) payload()               {}

// JobMetricsRecorded carries a resource usage sample for a running job.
type JobMetricsRecorded struct {
	JobID           string    `json:"jobId"`
	CPUUsagePercent float64   `json:"cpuUsagePercent"`
	MemoryUsageMB   float64   `json:"memoryUsageMb"`
	GPUUsagePercent float64   `json:"gpuUsagePercent,omitempty"`
	ElapsedSeconds  int64     `json:"elapsedSeconds,omitempty"`
	SampledAt       time.Time `json:"sampledAt"`
}

func (JobMetricsRecorded) EventType() string      { return TypeJobMetricsRecorded }
func (p JobMetricsRecorded) PartitionKey() string { return p.JobID }
func (JobMetricsRecorded) payload()               {}

// NotificationSent records a user-facing notification.
type NotificationSent struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Channel        string `json:"channel"`
	Title          string `json:"title"`
	Message        string `json:"message,omitempty"`
	Severity       string `json:"severity,omitempty"`
}

func (NotificationSent) EventType() string    { return TypeNotificationSent }
func (NotificationSent) PartitionKey() string { return "" }
func (NotificationSent) payload()             {}

// AlertRaised records an operational alert.
type AlertRaised struct {
	AlertID   string `json:"alertId"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

func (AlertRaised) EventType() string    { return TypeAlertRaised }
func (AlertRaised) PartitionKey() string { return "" }
func (AlertRaised) payload()             {}

// SystemHealthCheck is one component health probe result.
type SystemHealthCheck struct {
	ComponentID string            `json:"componentId"`
	Status      string            `json:"status"`
	LatencyMS   int64             `json:"latencyMs,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

func (SystemHealthCheck) EventType() string      { return TypeSystemHealthCheck }
func (p SystemHealthCheck) PartitionKey() string { return p.ComponentID }
func (SystemHealthCheck) payload()               {}

// AuditActionRecorded is one entry of the compliance audit trail.
type AuditActionRecorded struct {
	ActorID      string `json:"actorId"`
	Action       string `json:"action"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	Outcome      string `json:"outcome"`
}

func (AuditActionRecorded) EventType() string      { return TypeAuditActionRecorded }
func (p AuditActionRecorded) PartitionKey() string { return p.ResourceID }
func (AuditActionRecorded) payload()               {}
