package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{CorrelationID: "job-1", ContentType: DefaultContentType}
	clone := original.Clone()
	clone[CorrelationID] = "changed"

	assert.Equal(t, "job-1", original[CorrelationID])
	assert.Len(t, clone, 2)

	var empty Metadata
	assert.NotNil(t, empty.Clone())
}

func TestWithAndMerge(t *testing.T) {
	base := Metadata{ContentType: DefaultContentType}
	enriched := base.With(EventType, "job.submitted")
	assert.NotContains(t, base, EventType)
	assert.Equal(t, "job.submitted", enriched[EventType])

	merged := enriched.Merge(map[string]string{ContentType: "text/plain", "tenant": "a"})
	assert.Equal(t, "text/plain", merged[ContentType])
	assert.Equal(t, "a", merged["tenant"])
	assert.Equal(t, DefaultContentType, enriched[ContentType])
}

func TestIntHeader(t *testing.T) {
	md := Metadata{RetryCount: "3", "bad": "x"}

	n, ok := md.Int(RetryCount)
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = md.Int("bad")
	assert.False(t, ok)
	_, ok = md.Int("missing")
	assert.False(t, ok)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.FixedZone("CET", 3600))
	formatted := FormatTime(ts)
	assert.Equal(t, "2026-03-14T08:26:53.589Z", formatted)

	md := Metadata{Timestamp: formatted, OriginalTimestamp: "2026-03-14T08:26:53Z", "bad": "yesterday"}
	got, ok := md.Time(Timestamp)
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	_, ok = md.Time(OriginalTimestamp)
	assert.True(t, ok, "plain RFC3339 should parse")
	_, ok = md.Time("bad")
	assert.False(t, ok)
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	wm["source"] = "mutation"
	assert.Equal(t, "api", md["source"])

	assert.Empty(t, ToWatermill(nil))
	assert.Equal(t, "order", FromWatermill(message.Metadata{"event": "order"})["event"])
	assert.NotNil(t, FromWatermill(nil))
}
