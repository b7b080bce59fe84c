package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jihwankim/rngwatch/pkg/bitsource"
	"github.com/jihwankim/rngwatch/pkg/detector"
	"github.com/jihwankim/rngwatch/pkg/worker"
)

type recordingSink struct {
	mu         sync.Mutex
	heartbeats []Aggregate
	anomalies  []*detector.Event
	iters      []*worker.IterPayload
	dones      []*worker.DonePayload
	errs       []error
	summary    *Summary
}

func (r *recordingSink) Heartbeat(a Aggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, a)
}
func (r *recordingSink) Anomaly(e *detector.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, e)
}
func (r *recordingSink) Iter(p *worker.IterPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iters = append(r.iters, p)
}
func (r *recordingSink) Done(p *worker.DonePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dones = append(r.dones, p)
}
func (r *recordingSink) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}
func (r *recordingSink) Summary(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := s
	r.summary = &cp
}

func newWorkerParams(t *testing.T, procID int, maxBits int64) worker.Params {
	t.Helper()
	src, err := bitsource.NewSyntheticSource(0.5, uint64(1000+procID))
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}
	return worker.Params{
		ProcID:         procID,
		Source:         src,
		Alpha:          1e-6,
		Beta:           1e-6,
		Delta:          0.1,
		APTWindow:      64,
		MaxBits:        maxBits,
		ReportInterval: time.Millisecond,
	}
}

func TestRunCompletesAllWorkersAndEmitsOneSummary(t *testing.T) {
	sink := &recordingSink{}
	p := Params{
		Processes:    3,
		LiveInterval: time.Millisecond,
		NewWorkerParams: func(procID int) worker.Params {
			return newWorkerParams(t, procID, 5000)
		},
	}

	summary := Run(context.Background(), p, sink)

	if summary.Processes != 3 {
		t.Errorf("Processes = %d, want 3", summary.Processes)
	}
	if summary.BitsTotal != 15000 {
		t.Errorf("BitsTotal = %d, want 15000", summary.BitsTotal)
	}
	if sink.summary == nil {
		t.Fatal("expected exactly one Summary call")
	}
	if len(sink.dones) != 3 {
		t.Errorf("got %d Done messages, want 3", len(sink.dones))
	}
}

func TestRunStopsAllWorkersOnAnomaly(t *testing.T) {
	sink := &recordingSink{}
	p := Params{
		Processes:     2,
		LiveInterval:  time.Millisecond,
		StopOnAnomaly: true,
		NewWorkerParams: func(procID int) worker.Params {
			wp := newWorkerParams(t, procID, 0)
			wp.Source = &biasedSource{p: 1.0} // all ones: trips RCT almost immediately
			wp.StopOnAnomaly = false           // coordinator owns the stop decision here
			return wp
		},
	}

	summary := Run(context.Background(), p, sink)

	if summary.Anomalies == 0 {
		t.Fatal("expected at least one anomaly")
	}
	if len(sink.dones) != 0 {
		t.Errorf("got %d Done messages, want 0 (cancellation cuts workers off, it doesn't finish them)", len(sink.dones))
	}
}

// biasedSource never exhausts and never errors; it always returns 1,
// used to force a fast RCT trip under coordinator-driven cancellation.
type biasedSource struct{ p float64 }

func (b *biasedSource) Next() (int, bool, error) { return 1, true, nil }
func (b *biasedSource) Close() error             { return nil }
