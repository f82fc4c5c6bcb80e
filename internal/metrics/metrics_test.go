package metrics

import (
	"testing"
	"time"
)

type captureBackend struct {
	counters map[string]float64
	samples  map[string][]float64
	flushes  int
}

func newCaptureBackend() *captureBackend {
	return &captureBackend{counters: map[string]float64{}, samples: map[string][]float64{}}
}

func (c *captureBackend) IncCounter(name string, delta float64, labels Labels) {
	c.counters[name+"|"+labels["step"]+labels["status"]+labels["kind"]] += delta
}

func (c *captureBackend) ObserveHistogram(name string, value float64, labels Labels) {
	k := name + "|" + labels["step"] + labels["status"]
	c.samples[k] = append(c.samples[k], value)
}

func (c *captureBackend) Flush() error { c.flushes++; return nil }

func TestFacade_DefaultsToNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(StepTotal, 1, nil)
	ObserveHistogram(StepDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}

func TestRecordStepAndRecords(t *testing.T) {
	b := newCaptureBackend()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("reset", "ok", 1500*time.Millisecond)
	RecordRecords("inserted", 12)
	RecordRecords("inserted", 0)

	if got := b.counters[StepTotal+"|resetok"]; got != 1 {
		t.Fatalf("step counter=%v, want 1", got)
	}
	if got := b.samples[StepDurationSeconds+"|resetok"]; len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("duration samples=%v", got)
	}
	if got := b.counters[RecordsTotal+"|inserted"]; got != 12 {
		t.Fatalf("records counter=%v, want 12", got)
	}

	if err := Flush(); err != nil || b.flushes != 1 {
		t.Fatalf("Flush err=%v flushes=%d", err, b.flushes)
	}
}

func TestRecordSourceRecordsAndBatch(t *testing.T) {
	b := newCaptureBackend()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordSourceRecords("read", "F002", 4)
	RecordSourceRecords("read", "F001", -1)
	RecordBatch("Opiniones")
	RecordBatch("Opiniones")

	if got := b.counters[RecordsTotal+"|read"]; got != 4 {
		t.Fatalf("records counter=%v, want 4", got)
	}
	if got := b.counters[BatchesTotal+"|"]; got != 2 {
		t.Fatalf("batches counter=%v, want 2", got)
	}
}
