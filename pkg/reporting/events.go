package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jihwankim/rngwatch/pkg/config"
	"github.com/jihwankim/rngwatch/pkg/coordinator"
	"github.com/jihwankim/rngwatch/pkg/detector"
	"github.com/jihwankim/rngwatch/pkg/numeric"
	"github.com/jihwankim/rngwatch/pkg/worker"
)

// EventSink is the JSON event stream: one compact JSON object per
// line, matching the wire format operators already script against.
// QuietJSON suppresses STATS/heartbeat/ITER noise while still emitting
// ANOMALY, DONE, ERROR, and the final summary.
type EventSink struct {
	Out       io.Writer
	QuietJSON bool
}

// NewEventSink constructs an EventSink writing to stdout.
func NewEventSink(quiet bool) *EventSink {
	return &EventSink{Out: os.Stdout, QuietJSON: quiet}
}

func (s *EventSink) println(v map[string]interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(s.Out, `{"ts":%q,"event":"ERROR","error":%q}`+"\n", numeric.ISONow(), err.Error())
		return
	}
	fmt.Fprintln(s.Out, string(data))
}

// ReportConfig prints the one-time startup line describing the
// effective configuration, before any worker spawns.
func (s *EventSink) ReportConfig(cfg *config.Config) {
	s.println(map[string]interface{}{
		"ts": numeric.ISONow(),
		"config": map[string]interface{}{
			"source":            cfg.Stream.Source,
			"processes":         cfg.Stream.Processes,
			"alpha":             cfg.Detector.Alpha,
			"beta":              cfg.Detector.Beta,
			"delta":             cfg.Detector.Delta,
			"apt_window":        cfg.Detector.APTWindow,
			"bits_limit":        cfg.Stream.Bits,
			"time_limit_sec":    cfg.Stream.TimeSeconds,
			"chunk_bytes":       cfg.Stream.Chunk,
			"live_interval_sec": time.Duration(cfg.Stream.LiveInterval).Seconds(),
			"stop_on_anomaly":   cfg.Stream.StopOnAnomaly,
			"per_iter":          cfg.Output.PerIter,
			"iter_sample":       cfg.Output.IterSample,
			"quiet_json":        cfg.Output.QuietJSON,
			"no_limit":          cfg.Stream.NoLimit,
			"synthetic":         cfg.Stream.Synthetic,
			"p":                 cfg.Stream.P,
			"seed":              cfg.Stream.Seed,
			"ztest":             cfg.Detector.ZTest,
			"z_alpha":           cfg.Detector.ZAlpha,
			"z_min_bits":        cfg.Detector.ZMinBits,
		},
	})
}

// Anomaly implements coordinator.Sink.
func (s *EventSink) Anomaly(ev *detector.Event) {
	s.println(map[string]interface{}{
		"ts":             numeric.ISONow(),
		"event":          "ANOMALY",
		"test":           ev.Test,
		"message":        ev.Message,
		"proc":           ev.ProcID,
		"bits_processed": ev.BitsProcessed,
		"ones_total":     ev.OnesTotal,
		"ones_pct":       ev.OnesPct,
		"apt_window":     ev.APTWindow,
		"apt_len":        ev.APTLen,
		"apt_ones":       ev.APTOnes,
		"apt_pct":        ev.APTPct,
		"rct_run_len":    ev.RCTRunLen,
		"sprt_up":        ev.SPRTUp,
		"sprt_dn":        ev.SPRTDown,
		"bps":            ev.BPS,
		"cutoff":         ev.Cutoff,
		"run_len":        ev.RunLen,
		"window":         ev.Window,
		"bounds":         ev.Bounds,
		"ones":           ev.Ones,
		"direction":      ev.Direction,
		"delta":          ev.Delta,
		"stat":           ev.Stat,
		"threshold":      ev.Threshold,
		"n":              ev.N,
	})
}

// Iter implements coordinator.Sink.
func (s *EventSink) Iter(p *worker.IterPayload) {
	if s.QuietJSON {
		return
	}
	s.println(map[string]interface{}{
		"ts":             numeric.ISONow(),
		"event":          "ITER",
		"proc":           p.ProcID,
		"bits_processed": p.BitsProcessed,
		"ones_total":     p.OnesTotal,
		"zeros_total":    p.ZerosTotal,
		"ones_pct":       p.OnesPct,
		"zeros_pct":      p.ZerosPct,
	})
}

// Done implements coordinator.Sink.
func (s *EventSink) Done(p *worker.DonePayload) {
	s.println(map[string]interface{}{
		"ts":             numeric.ISONow(),
		"event":          "DONE",
		"proc":           p.ProcID,
		"bits_processed": p.BitsProcessed,
		"ones_total":     p.OnesTotal,
		"ones_pct":       p.OnesPct,
		"apt_window":     p.APTWindow,
		"apt_len":        p.APTLen,
		"apt_ones":       p.APTOnes,
		"apt_pct":        p.APTPct,
		"rct_run_len":    p.RCTRunLen,
		"sprt_up":        p.SPRTUp,
		"sprt_dn":        p.SPRTDown,
		"bps":            p.BPS,
	})
}

// Error implements coordinator.Sink.
func (s *EventSink) Error(err error) {
	s.println(map[string]interface{}{
		"ts":    numeric.ISONow(),
		"event": "ERROR",
		"error": err.Error(),
	})
}

// Heartbeat implements coordinator.Sink.
func (s *EventSink) Heartbeat(a coordinator.Aggregate) {
	if s.QuietJSON {
		return
	}
	s.println(map[string]interface{}{
		"ts":                   numeric.ISONow(),
		"heartbeat":            true,
		"elapsed_sec":          a.ElapsedSec,
		"procs_reporting":      a.ProcsReporting,
		"bits_total":           a.BitsTotal,
		"ones_total":           a.OnesTotal,
		"ones_ratio_global":    ratioOrNil(a.OnesRatioGlobal, a.HasGlobalRatio),
		"ones_percent_global":  percentOrNil(a.OnesRatioGlobal, a.HasGlobalRatio),
		"window_len_total":     a.WindowLenTotal,
		"window_ones_total":    a.WindowOnesTotal,
		"ones_ratio_window":    ratioOrNil(a.OnesRatioWindow, a.HasWindowRatio),
		"ones_percent_window":  percentOrNil(a.OnesRatioWindow, a.HasWindowRatio),
		"aggregate_bps":        a.AggregateBPS,
		"aggregate_bps_human":  numeric.HumanBPS(a.AggregateBPS),
	})
}

// Summary implements coordinator.Sink. Like the config, ANOMALY, DONE
// and ERROR lines, it is emitted even under QuietJSON.
func (s *EventSink) Summary(sum coordinator.Summary) {
	s.println(map[string]interface{}{
		"ts": numeric.ISONow(),
		"summary": map[string]interface{}{
			"elapsed_sec":         sum.ElapsedSec,
			"processes":           sum.Processes,
			"anomalies":           sum.Anomalies,
			"anomalies_by_test":   sum.AnomaliesByTest,
			"total_bits":          sum.BitsTotal,
			"ones_total":          sum.OnesTotal,
			"ones_ratio_global":   ratioOrNil(sum.OnesRatioGlobal, sum.HasGlobalRatio),
			"ones_percent_global": percentOrNil(sum.OnesRatioGlobal, sum.HasGlobalRatio),
			"window_len_total":    sum.WindowLenTotal,
			"window_ones_total":   sum.WindowOnesTotal,
			"ones_ratio_window":   ratioOrNil(sum.OnesRatioWindow, sum.HasWindowRatio),
			"ones_percent_window": percentOrNil(sum.OnesRatioWindow, sum.HasWindowRatio),
			"aggregate_bps":       sum.AggregateBPS,
			"aggregate_bps_human": numeric.HumanBPS(sum.AggregateBPS),
		},
	})
}

func ratioOrNil(v float64, ok bool) interface{} {
	if !ok {
		return nil
	}
	return v
}

func percentOrNil(v float64, ok bool) interface{} {
	if !ok {
		return nil
	}
	return v * 100.0
}
