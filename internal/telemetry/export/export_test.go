package export

import (
	"context"
	"testing"
	"time"
)

type recordingEvaler struct {
	calls int
}

func (r *recordingEvaler) Eval(_ context.Context, _ string, _ []string, _ ...interface{}) (interface{}, error) {
	r.calls++
	return int64(1), nil
}

func TestRedisExporterRequiresEventID(t *testing.T) {
	r := NewRedisExporter(&recordingEvaler{}, time.Minute)
	err := r.ExportBatch(context.Background(), []TenantDelta{{Tenant: "a", Admitted: 1}})
	if err == nil {
		t.Fatalf("expected error for missing EventID")
	}
}

func TestRedisExporterAppliesOneEvalPerNonZeroField(t *testing.T) {
	ev := &recordingEvaler{}
	r := NewRedisExporter(ev, time.Minute)
	err := r.ExportBatch(context.Background(), []TenantDelta{
		{Tenant: "a", Admitted: 1, Denied: 1, EventID: "e1"},
	})
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if ev.calls != 2 {
		t.Fatalf("calls = %d, want 2 (admitted + denied)", ev.calls)
	}
}

type recordingProducer struct {
	produced int
}

func (r *recordingProducer) Produce(context.Context, string, []byte, []byte, map[string]string) error {
	r.produced++
	return nil
}

func TestKafkaExporterPublishesOneMessagePerDelta(t *testing.T) {
	p := &recordingProducer{}
	k := NewKafkaExporter(p, "")
	err := k.ExportBatch(context.Background(), []TenantDelta{
		{Tenant: "a", Admitted: 1, EventID: "e1"},
		{Tenant: "b", Denied: 1, EventID: "e2"},
	})
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if p.produced != 2 {
		t.Fatalf("produced = %d, want 2", p.produced)
	}
}

func TestKafkaExporterRequiresEventID(t *testing.T) {
	k := NewKafkaExporter(&recordingProducer{}, "")
	err := k.ExportBatch(context.Background(), []TenantDelta{{Tenant: "a", Admitted: 1}})
	if err == nil {
		t.Fatalf("expected error for missing EventID")
	}
}

func TestBuildDefaultIsNoop(t *testing.T) {
	exp, err := Build("", Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := exp.ExportBatch(context.Background(), []TenantDelta{{Tenant: "a", Admitted: 1, EventID: "e"}}); err != nil {
		t.Fatalf("noop ExportBatch: %v", err)
	}
}

func TestBuildUnknownAdapter(t *testing.T) {
	if _, err := Build("carrier-pigeon", Options{}); err == nil {
		t.Fatalf("expected error for unknown adapter")
	}
}

type fakeSnapshotter struct {
	calls int
	out   [][]TenantDelta
}

func (f *fakeSnapshotter) Drain() []TenantDelta {
	defer func() { f.calls++ }()
	if f.calls < len(f.out) {
		return f.out[f.calls]
	}
	return nil
}

type fakeExporter struct {
	batches [][]TenantDelta
}

func (f *fakeExporter) ExportBatch(_ context.Context, deltas []TenantDelta) error {
	f.batches = append(f.batches, deltas)
	return nil
}

func TestLoopFlushesOnStop(t *testing.T) {
	snap := &fakeSnapshotter{out: [][]TenantDelta{{{Tenant: "a", Admitted: 1, EventID: "e"}}}}
	exp := &fakeExporter{}
	loop := NewLoop(snap, exp, time.Hour) // long interval: only the final Stop flush should fire
	loop.Start()
	loop.Stop()

	if len(exp.batches) != 1 || len(exp.batches[0]) != 1 {
		t.Fatalf("batches = %v, want one batch of one delta", exp.batches)
	}
}
