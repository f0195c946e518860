package jsoncodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobPayload struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Cores  int    `json:"cores,omitempty"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := jobPayload{JobID: "job-123", Status: "RUNNING", Cores: 4}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"job-123","status":"RUNNING","cores":4}`, string(data))

	var out jobPayload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
	assert.False(t, Valid([]byte("plain text")))
}

func TestToMap(t *testing.T) {
	m, err := ToMap(jobPayload{JobID: "job-1", Status: "QUEUED"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", m["jobId"])
	_, hasCores := m["cores"]
	assert.False(t, hasCores)

	m, err = ToMap(jobPayload{JobID: "job-1", Cores: 2})
	require.NoError(t, err)
	assert.Equal(t, float64(2), m["cores"])

	passthrough := map[string]any{"x": true}
	m, err = ToMap(passthrough)
	require.NoError(t, err)
	assert.Equal(t, passthrough, m)

	_, err = ToMap(make(chan int))
	assert.Error(t, err)
}
