// Package worker runs the per-stream bit-consumption loop: pull bits
// from a bitsource.Source, push them through a detector.Suite, and
// report periodic stats, optional per-bit samples, anomalies, and a
// final summary onto a shared output channel. One worker corresponds
// to one goroutine in the coordinator's fan-out and owns its test
// state exclusively.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jihwankim/rngwatch/pkg/bitsource"
	"github.com/jihwankim/rngwatch/pkg/detector"
)

// Kind tags the payload carried by a Message.
type Kind string

const (
	KindAnomaly Kind = "ANOMALY"
	KindStats   Kind = "STATS"
	KindIter    Kind = "ITER"
	KindDone    Kind = "DONE"
	KindError   Kind = "ERROR"
)

// StatsPayload is the periodic heartbeat snapshot for one worker.
type StatsPayload struct {
	ProcID        int
	BitsProcessed int64
	OnesTotal     int64
	OnesPct       float64
	APTWindow     int
	APTLen        int
	APTOnes       int
	APTPct        float64
	RCTRunLen     int
	SPRTUp        float64
	SPRTDown      float64
	BPS           float64
}

// IterPayload is an optional per-bit (or per-N-bits) sample, emitted
// only when Params.PerIter is set.
type IterPayload struct {
	ProcID        int
	BitsProcessed int64
	OnesTotal     int64
	ZerosTotal    int64
	OnesPct       float64
	ZerosPct      float64
}

// DonePayload reports a worker's terminal counters when its source
// exhausts or a configured bound (MaxBits/MaxSeconds) is reached. It
// carries the same fields as StatsPayload.
type DonePayload struct {
	ProcID        int
	BitsProcessed int64
	OnesTotal     int64
	OnesPct       float64
	APTWindow     int
	APTLen        int
	APTOnes       int
	APTPct        float64
	RCTRunLen     int
	SPRTUp        float64
	SPRTDown      float64
	BPS           float64
}

// Message is the single envelope type a worker sends on its output
// channel; exactly one of the payload fields is populated per Kind.
type Message struct {
	Kind    Kind
	ProcID  int
	Anomaly *detector.Event
	Stats   *StatsPayload
	Iter    *IterPayload
	Done    *DonePayload
	Err     error
}

// Params configures a single worker run.
type Params struct {
	ProcID int
	Source bitsource.Source

	Alpha     float64
	Beta      float64
	Delta     float64
	APTWindow int

	ZTestEnabled bool
	ZAlpha       float64
	ZMinBits     int

	MaxBits        int64   // 0 means unbounded
	MaxSeconds     float64 // 0 means unbounded
	ReportInterval time.Duration

	StopOnAnomaly bool
	PerIter       bool
	IterSample    int
}

// Run drains Params.Source through a fresh detector.Suite, sending
// Messages to out until the source exhausts, a configured bound is
// reached, ctx is cancelled, or (when StopOnAnomaly is set) an anomaly
// fires. KindDone is sent only on normal termination: source
// exhaustion or a MaxBits/MaxSeconds bound. Stopping early because of
// an anomaly or because ctx was cancelled leaves without a Done: both
// are treated as a worker being cut off mid-stream rather than
// finishing its run, so no terminal message is owed. A KindError is
// sent if the source returned an I/O error.
//
// Run does not close out; the coordinator owns the channel's lifetime
// since many workers share it.
func Run(ctx context.Context, p Params, out chan<- Message) error {
	suite, err := detector.NewSuite(detector.Config{
		Alpha:        p.Alpha,
		Beta:         p.Beta,
		Delta:        p.Delta,
		APTWindow:    p.APTWindow,
		ZTestEnabled: p.ZTestEnabled,
		ZAlpha:       p.ZAlpha,
		ZMinBits:     p.ZMinBits,
	})
	if err != nil {
		sendErr(out, p.ProcID, err)
		return err
	}

	reportInterval := p.ReportInterval
	if reportInterval <= 0 {
		reportInterval = 500 * time.Millisecond
	}
	iterSample := p.IterSample
	if iterSample < 1 {
		iterSample = 1
	}

	var (
		bitsSeen   int64
		onesSeen   int64
		start      = time.Now()
		lastReport = start
	)

	emitStats := func() {
		now := time.Now()
		bps := bps(bitsSeen, now.Sub(start))
		snap := suite.Snapshot()
		onesPct := 0.0
		if bitsSeen > 0 {
			onesPct = float64(onesSeen) / float64(bitsSeen)
		}
		out <- Message{
			Kind:   KindStats,
			ProcID: p.ProcID,
			Stats: &StatsPayload{
				ProcID:        p.ProcID,
				BitsProcessed: bitsSeen,
				OnesTotal:     onesSeen,
				OnesPct:       onesPct,
				APTWindow:     snap.APTWindow,
				APTLen:        snap.APTLen,
				APTOnes:       snap.APTOnes,
				APTPct:        snap.APTPct,
				RCTRunLen:     snap.RCTRunLen,
				SPRTUp:        snap.SPRTUp,
				SPRTDown:      snap.SPRTDown,
				BPS:           bps,
			},
		}
		lastReport = now
	}

	done := func() {
		now := time.Now()
		snap := suite.Snapshot()
		onesPct := 0.0
		if bitsSeen > 0 {
			onesPct = float64(onesSeen) / float64(bitsSeen)
		}
		out <- Message{
			Kind:   KindDone,
			ProcID: p.ProcID,
			Done: &DonePayload{
				ProcID:        p.ProcID,
				BitsProcessed: bitsSeen,
				OnesTotal:     onesSeen,
				OnesPct:       onesPct,
				APTWindow:     snap.APTWindow,
				APTLen:        snap.APTLen,
				APTOnes:       snap.APTOnes,
				APTPct:        snap.APTPct,
				RCTRunLen:     snap.RCTRunLen,
				SPRTUp:        snap.SPRTUp,
				SPRTDown:      snap.SPRTDown,
				BPS:           bps(bitsSeen, now.Sub(start)),
			},
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		bit, ok, err := p.Source.Next()
		if err != nil {
			sendErr(out, p.ProcID, err)
			return err
		}
		if !ok {
			done()
			return nil
		}

		bitsSeen++
		onesSeen += int64(bit)

		if p.PerIter && bitsSeen%int64(iterSample) == 0 {
			zeros := bitsSeen - onesSeen
			out <- Message{
				Kind:   KindIter,
				ProcID: p.ProcID,
				Iter: &IterPayload{
					ProcID:        p.ProcID,
					BitsProcessed: bitsSeen,
					OnesTotal:     onesSeen,
					ZerosTotal:    zeros,
					OnesPct:       float64(onesSeen) / float64(bitsSeen),
					ZerosPct:      float64(zeros) / float64(bitsSeen),
				},
			}
		}

		var events []*detector.Event
		if p.StopOnAnomaly {
			events = suite.UpdateStopFirst(bit)
		} else {
			events = suite.Update(bit)
		}
		if len(events) > 0 {
			now := time.Now()
			onesPct := float64(onesSeen) / float64(bitsSeen)
			snap := suite.Snapshot()
			rate := bps(bitsSeen, now.Sub(start))
			for _, ev := range events {
				ev.ProcID = p.ProcID
				ev.BitsProcessed = bitsSeen
				ev.OnesTotal = onesSeen
				ev.OnesPct = onesPct
				ev.BPS = rate
				snap.Enrich(ev)
				out <- Message{Kind: KindAnomaly, ProcID: p.ProcID, Anomaly: ev}
			}
			if p.StopOnAnomaly {
				return nil
			}
		}

		if time.Since(lastReport) >= reportInterval {
			emitStats()
		}

		if p.MaxBits > 0 && bitsSeen >= p.MaxBits {
			done()
			return nil
		}
		if p.MaxSeconds > 0 && time.Since(start).Seconds() >= p.MaxSeconds {
			done()
			return nil
		}
	}
}

func bps(bits int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bits) / secs
}

func sendErr(out chan<- Message, procID int, err error) {
	out <- Message{
		Kind:   KindError,
		ProcID: procID,
		Err:    fmt.Errorf("worker %d: %w", procID, err),
	}
}
