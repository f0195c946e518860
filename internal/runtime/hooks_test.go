package runtime

import (
	"errors"
	"testing"
	"time"
)

func TestDeliveryHooks_MergeRunsBothInOrder(t *testing.T) {
	var calls []string
	a := DeliveryHooks{
		OnDeliveryStart: func(DeliveryContext) { calls = append(calls, "a:start") },
		OnDeliveryError: func(DeliveryContext, error) { calls = append(calls, "a:error") },
	}
	b := DeliveryHooks{
		OnDeliveryStart: func(DeliveryContext) { calls = append(calls, "b:start") },
		OnDeliveryDone:  func(DeliveryContext) { calls = append(calls, "b:done") },
	}

	merged := a.Merge(b)
	merged.start(DeliveryContext{})
	merged.finish(DeliveryContext{}, nil)
	merged.finish(DeliveryContext{}, errors.New("boom"))

	want := []string{"a:start", "b:start", "b:done", "a:error"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestDeliveryHooks_ZeroValueIsSafe(t *testing.T) {
	var h DeliveryHooks
	h.start(DeliveryContext{})
	h.finish(DeliveryContext{}, nil)
	h.finish(DeliveryContext{}, errors.New("ignored"))

	merged := h.Merge(DeliveryHooks{})
	if merged.OnDeliveryStart != nil || merged.OnDeliveryDone != nil || merged.OnDeliveryError != nil {
		t.Fatal("merging empty hooks should stay empty")
	}
}

func TestLoggingHooks(t *testing.T) {
	log := newRecordingLogger()
	hooks := LoggingHooks(log)
	ctx := DeliveryContext{Source: "jobs.queue", ConsumerTag: "consumer-1", MessageID: "m-1", Duration: 25 * time.Millisecond, RetryCount: 2}

	hooks.start(ctx)
	hooks.finish(ctx, nil)
	hooks.finish(ctx, errors.New("handler exploded"))

	if _, ok := log.find("debug", "Delivery started"); !ok {
		t.Fatal("start not logged")
	}
	done, ok := log.find("debug", "Delivery handled")
	if !ok {
		t.Fatal("completion not logged")
	}
	if done.fields["duration_ms"] != int64(25) {
		t.Fatalf("duration_ms = %v", done.fields["duration_ms"])
	}
	failed, ok := log.find("error", "Delivery handler failed")
	if !ok {
		t.Fatal("failure not logged")
	}
	if failed.err == nil || failed.fields["retry_count"] != 2 {
		t.Fatalf("unexpected failure entry %+v", failed)
	}
}

func TestMetricsHooks(t *testing.T) {
	counts := map[string]int{}
	hooks := MetricsHooks(
		func(source, eventType string) { counts["start:"+source+":"+eventType]++ },
		func(source, _ string) { counts["done:"+source]++ },
		func(source, _ string) { counts["error:"+source]++ },
	)
	ctx := DeliveryContext{Source: "jobs.queue", EventType: "job.submitted"}

	hooks.start(ctx)
	hooks.finish(ctx, nil)
	hooks.start(ctx)
	hooks.finish(ctx, errors.New("x"))

	if counts["start:jobs.queue:job.submitted"] != 2 || counts["done:jobs.queue"] != 1 || counts["error:jobs.queue"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	MetricsHooks(nil, nil, nil).finish(ctx, errors.New("nil callbacks are skipped"))
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(_ DeliveryContext, err error) { alerted = err })

	hooks.finish(DeliveryContext{}, nil)
	if alerted != nil {
		t.Fatal("success must not alert")
	}

	boom := errors.New("boom")
	hooks.finish(DeliveryContext{}, boom)
	if !errors.Is(alerted, boom) {
		t.Fatalf("alerted = %v", alerted)
	}
}
