// Package coordinator fans a bit stream out across N worker goroutines
// and aggregates their events into periodic heartbeats and a final
// summary. Workers communicate over a single bounded channel; the
// coordinator is its sole consumer and runs single-threaded.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/jihwankim/rngwatch/pkg/detector"
	"github.com/jihwankim/rngwatch/pkg/worker"
)

// pollInterval is how long the aggregation loop waits on the event
// channel before re-evaluating whether a heartbeat is due. Heartbeats
// can therefore drift by at most LiveInterval + pollInterval even when
// no worker is reporting.
const pollInterval = 500 * time.Millisecond

// Aggregate is a point-in-time rollup across all reporting workers.
type Aggregate struct {
	ElapsedSec      float64
	ProcsReporting  int
	BitsTotal       int64
	OnesTotal       int64
	OnesRatioGlobal float64
	HasGlobalRatio  bool
	WindowLenTotal  int
	WindowOnesTotal int
	OnesRatioWindow float64
	HasWindowRatio  bool
	AggregateBPS    float64
}

// Summary is the final report emitted once every worker has terminated.
type Summary struct {
	Aggregate
	Processes       int
	Anomalies       int
	AnomaliesByTest map[string]int
}

// Sink receives coordinator-level events. Implementations translate
// these into operator-facing output (pkg/reporting's JSON event sink,
// in rngwatch's case); the coordinator itself has no opinion about
// output format.
type Sink interface {
	Heartbeat(Aggregate)
	Anomaly(*detector.Event)
	Iter(*worker.IterPayload)
	Done(*worker.DonePayload)
	Error(error)
	Summary(Summary)
}

// Params configures a coordinator run.
type Params struct {
	Processes     int
	LiveInterval  time.Duration
	StopOnAnomaly bool

	// NewWorkerParams builds the worker.Params for worker index i. The
	// returned Params' Source must be unique per worker. When
	// StopOnAnomaly is set, the triggering worker returns on its own
	// (set worker.Params.StopOnAnomaly too) and the coordinator cancels
	// the shared context so the remaining workers stop as well.
	NewWorkerParams func(procID int) worker.Params
}

type procState struct {
	bits, ones            int64
	windowLen, windowOnes int
	bps                   float64
	reported              bool
}

// Run spawns Params.Processes worker goroutines, aggregates their
// events onto Sink until every worker terminates (or ctx is cancelled),
// and returns the final Summary.
func Run(ctx context.Context, p Params, sink Sink) Summary {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan worker.Message, 256)
	var wg sync.WaitGroup
	for i := 0; i < p.Processes; i++ {
		wg.Add(1)
		params := p.NewWorkerParams(i)
		go func() {
			defer wg.Done()
			worker.Run(ctx, params, ch)
		}()
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	liveInterval := p.LiveInterval
	if liveInterval <= 0 {
		liveInterval = 500 * time.Millisecond
	}

	start := time.Now()
	lastHeartbeat := start
	states := make(map[int]*procState)
	anomalies := 0
	anomaliesByTest := make(map[string]int)

	stateFor := func(procID int) *procState {
		s, ok := states[procID]
		if !ok {
			s = &procState{}
			states[procID] = s
		}
		return s
	}

	aggregate := func() Aggregate {
		var bitsTotal, onesTotal int64
		var winLenTotal, winOnesTotal int
		var bpsTotal float64
		reporting := 0
		for _, s := range states {
			bitsTotal += s.bits
			onesTotal += s.ones
			winLenTotal += s.windowLen
			winOnesTotal += s.windowOnes
			bpsTotal += s.bps
			if s.reported {
				reporting++
			}
		}
		agg := Aggregate{
			ElapsedSec:      time.Since(start).Seconds(),
			ProcsReporting:  reporting,
			BitsTotal:       bitsTotal,
			OnesTotal:       onesTotal,
			WindowLenTotal:  winLenTotal,
			WindowOnesTotal: winOnesTotal,
			AggregateBPS:    bpsTotal,
		}
		if bitsTotal > 0 {
			agg.OnesRatioGlobal = float64(onesTotal) / float64(bitsTotal)
			agg.HasGlobalRatio = true
		}
		if winLenTotal > 0 {
			agg.OnesRatioWindow = float64(winOnesTotal) / float64(winLenTotal)
			agg.HasWindowRatio = true
		}
		return agg
	}

	maybeHeartbeat := func() {
		if time.Since(lastHeartbeat) >= liveInterval {
			sink.Heartbeat(aggregate())
			lastHeartbeat = time.Now()
		}
	}

	open := true
	for open {
		select {
		case msg, ok := <-ch:
			if !ok {
				open = false
				break
			}
			switch msg.Kind {
			case worker.KindAnomaly:
				anomalies++
				anomaliesByTest[msg.Anomaly.Test]++
				s := stateFor(msg.ProcID)
				s.reported = true
				s.bits = msg.Anomaly.BitsProcessed
				s.ones = msg.Anomaly.OnesTotal
				s.windowLen = msg.Anomaly.APTLen
				s.windowOnes = msg.Anomaly.APTOnes
				s.bps = msg.Anomaly.BPS
				sink.Anomaly(msg.Anomaly)
				if p.StopOnAnomaly {
					cancel()
				}
			case worker.KindStats:
				s := stateFor(msg.ProcID)
				s.reported = true
				s.bits = msg.Stats.BitsProcessed
				s.ones = msg.Stats.OnesTotal
				s.windowLen = msg.Stats.APTLen
				s.windowOnes = msg.Stats.APTOnes
				s.bps = msg.Stats.BPS
				maybeHeartbeat()
			case worker.KindIter:
				s := stateFor(msg.ProcID)
				s.bits = msg.Iter.BitsProcessed
				s.ones = msg.Iter.OnesTotal
				sink.Iter(msg.Iter)
			case worker.KindDone:
				s := stateFor(msg.ProcID)
				s.reported = true
				s.bits = msg.Done.BitsProcessed
				s.ones = msg.Done.OnesTotal
				s.windowLen = msg.Done.APTLen
				s.windowOnes = msg.Done.APTOnes
				s.bps = msg.Done.BPS
				sink.Done(msg.Done)
			case worker.KindError:
				sink.Error(msg.Err)
			}
		case <-time.After(pollInterval):
			// Cancellation (via StopOnAnomaly) does not end this loop
			// directly: workers observe ctx.Done() on their own and
			// return, which closes ch once every worker goroutine has
			// exited.
			maybeHeartbeat()
		}
	}

	summary := Summary{
		Aggregate:       aggregate(),
		Processes:       p.Processes,
		Anomalies:       anomalies,
		AnomaliesByTest: anomaliesByTest,
	}
	sink.Summary(summary)
	return summary
}
