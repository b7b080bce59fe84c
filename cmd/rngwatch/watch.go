package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/common/model"
	"github.com/spf13/cobra"

	"github.com/jihwankim/rngwatch/pkg/bitsource"
	"github.com/jihwankim/rngwatch/pkg/config"
	"github.com/jihwankim/rngwatch/pkg/coordinator"
	"github.com/jihwankim/rngwatch/pkg/detector"
	"github.com/jihwankim/rngwatch/pkg/emergency"
	"github.com/jihwankim/rngwatch/pkg/reporting"
	"github.com/jihwankim/rngwatch/pkg/telemetry"
	"github.com/jihwankim/rngwatch/pkg/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Args:  cobra.NoArgs,
	Short: "Watch a bit stream and report statistical anomalies",
	Long:  `Reads bits from a device or a synthetic source and runs the online test suite against them, emitting one JSON object per line.`,
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.String("source", "", "device path to read (default /dev/urandom; ignored with --synthetic)")
	f.Int("processes", 0, "number of parallel workers (default: config or CPU count)")
	f.Float64("alpha", 0, "false-positive rate for RCT/APT/SPRT (default: config or 1e-6)")
	f.Float64("beta", 0, "false-negative rate for SPRT (default: config or 1e-2)")
	f.Float64("delta", 0, "minimum bias SPRT should detect (default: config or 1e-4)")
	f.Int("apt-window", 0, "APT window size (default: config or 1024)")
	f.Int64("bits", 0, "per-worker bit limit (0 = unbounded)")
	f.Float64("time", 0, "per-worker time limit in seconds (default: config or 30; 0 = unbounded)")
	f.Int("chunk", 0, "device read chunk size in bytes")
	f.Duration("live-interval", 0, "heartbeat interval")
	f.Bool("stop-on-anomaly", false, "stop all workers at the first anomaly")
	f.Bool("per-iter", false, "emit an ITER sample periodically")
	f.Int("iter-sample", 0, "emit one ITER sample every N bits")
	f.Bool("synthetic", false, "use a synthetic Bernoulli source instead of a device")
	f.Float64("p", 0, "P(bit=1) for the synthetic source")
	f.Int64("seed", 0, "base seed for the synthetic source (unset: drawn from crypto/rand)")
	f.Bool("ztest", false, "enable the optional monobit Z-test")
	f.Float64("z-alpha", 0, "two-sided alpha for the Z-test (default: same as --alpha)")
	f.Int("z-min-bits", 0, "minimum bits observed before the Z-test evaluates")
	f.Bool("no-limit", false, "ignore --bits and --time; run until stopped")
	f.Bool("quiet-json", false, "suppress STATS/ITER/heartbeat lines; still emit ANOMALY/DONE/ERROR/summary")
	f.String("metrics-listen", "", "address to serve Prometheus metrics on (e.g. :9477); empty disables it")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	applyFlagOverrides(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel := reporting.LogLevelInfo
	if verbose {
		logLevel = reporting.LogLevelDebug
	}
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Logging.Format),
		Output: os.Stderr,
	})
	logger.Info("rngwatch starting", "version", version)

	baseSeed, err := resolveBaseSeed(cfg)
	if err != nil {
		return fmt.Errorf("resolving synthetic seed: %w", err)
	}

	sink := reporting.NewEventSink(cfg.Output.QuietJSON)
	sink.ReportConfig(cfg)

	var metrics *telemetry.Metrics
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.MetricsListen != "" {
		metrics = telemetry.NewMetrics()
		go func() {
			if err := metrics.Serve(ctx, cfg.Telemetry.MetricsListen); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	controller := emergency.New()
	controller.OnStop(func(reason string) {
		logger.Info("stopping on signal", "reason", reason)
		cancel()
	})
	controller.Start(ctx)

	coordSink := &metricsBridgeSink{inner: sink, metrics: metrics}

	params := coordinator.Params{
		Processes:     cfg.Stream.Processes,
		LiveInterval:  time.Duration(cfg.Stream.LiveInterval),
		StopOnAnomaly: cfg.Stream.StopOnAnomaly,
		NewWorkerParams: func(procID int) worker.Params {
			src, err := newSource(cfg, baseSeed, procID)
			if err != nil {
				// newSource only fails on device open errors, already
				// validated by cfg.Validate for the non-synthetic path;
				// a failure here means the device vanished between
				// validation and spawn.
				logger.Error("opening source failed", "proc", procID, "error", err)
				src = &failedSource{err: err}
			}
			return worker.Params{
				ProcID:         procID,
				Source:         src,
				Alpha:          cfg.Detector.Alpha,
				Beta:           cfg.Detector.Beta,
				Delta:          cfg.Detector.Delta,
				APTWindow:      cfg.Detector.APTWindow,
				ZTestEnabled:   cfg.Detector.ZTest,
				ZAlpha:         cfg.Detector.ZAlpha,
				ZMinBits:       cfg.Detector.ZMinBits,
				MaxBits:        cfg.Stream.Bits,
				MaxSeconds:     cfg.Stream.TimeSeconds,
				ReportInterval: time.Duration(cfg.Stream.LiveInterval),
				StopOnAnomaly:  cfg.Stream.StopOnAnomaly,
				PerIter:        cfg.Output.PerIter,
				IterSample:     cfg.Output.IterSample,
			}
		},
	}

	summary := coordinator.Run(ctx, params, coordSink)
	logger.Info("rngwatch finished", "anomalies", summary.Anomalies, "bits_total", summary.BitsTotal)
	return nil
}

// newSource opens the configured bit source for worker procID,
// deriving a decorrelated seed for synthetic streams.
func newSource(cfg *config.Config, baseSeed uint64, procID int) (bitsource.Source, error) {
	if cfg.Stream.Synthetic {
		seed := bitsource.DeriveSeed(baseSeed, procID)
		return bitsource.NewSyntheticSource(cfg.Stream.P, seed)
	}
	return bitsource.NewDeviceSource(cfg.Stream.Source, cfg.Stream.Chunk)
}

func resolveBaseSeed(cfg *config.Config) (uint64, error) {
	if cfg.Stream.Seed != nil {
		return *cfg.Stream.Seed, nil
	}
	return bitsource.RandomBaseSeed()
}

// applyFlagOverrides layers explicitly-set CLI flags on top of the
// loaded configuration; flags win over both the file and the
// defaults.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()

	if f.Changed("source") {
		cfg.Stream.Source, _ = f.GetString("source")
	}
	if f.Changed("processes") {
		cfg.Stream.Processes, _ = f.GetInt("processes")
	}
	if f.Changed("alpha") {
		cfg.Detector.Alpha, _ = f.GetFloat64("alpha")
	}
	if f.Changed("beta") {
		cfg.Detector.Beta, _ = f.GetFloat64("beta")
	}
	if f.Changed("delta") {
		cfg.Detector.Delta, _ = f.GetFloat64("delta")
	}
	if f.Changed("apt-window") {
		cfg.Detector.APTWindow, _ = f.GetInt("apt-window")
	}
	if f.Changed("bits") {
		cfg.Stream.Bits, _ = f.GetInt64("bits")
	}
	if f.Changed("time") {
		cfg.Stream.TimeSeconds, _ = f.GetFloat64("time")
	}
	if f.Changed("chunk") {
		cfg.Stream.Chunk, _ = f.GetInt("chunk")
	}
	if f.Changed("live-interval") {
		d, _ := f.GetDuration("live-interval")
		cfg.Stream.LiveInterval = model.Duration(d)
	}
	if f.Changed("stop-on-anomaly") {
		cfg.Stream.StopOnAnomaly, _ = f.GetBool("stop-on-anomaly")
	}
	if f.Changed("per-iter") {
		cfg.Output.PerIter, _ = f.GetBool("per-iter")
	}
	if f.Changed("iter-sample") {
		cfg.Output.IterSample, _ = f.GetInt("iter-sample")
	}
	if f.Changed("synthetic") {
		cfg.Stream.Synthetic, _ = f.GetBool("synthetic")
	}
	if f.Changed("p") {
		cfg.Stream.P, _ = f.GetFloat64("p")
	}
	if f.Changed("seed") {
		seed, _ := f.GetInt64("seed")
		u := uint64(seed)
		cfg.Stream.Seed = &u
	}
	if f.Changed("ztest") {
		cfg.Detector.ZTest, _ = f.GetBool("ztest")
	}
	if f.Changed("z-alpha") {
		cfg.Detector.ZAlpha, _ = f.GetFloat64("z-alpha")
	}
	if f.Changed("z-min-bits") {
		cfg.Detector.ZMinBits, _ = f.GetInt("z-min-bits")
	}
	if f.Changed("no-limit") {
		cfg.Stream.NoLimit, _ = f.GetBool("no-limit")
	}
	if f.Changed("quiet-json") {
		cfg.Output.QuietJSON, _ = f.GetBool("quiet-json")
	}
	if f.Changed("metrics-listen") {
		cfg.Telemetry.MetricsListen, _ = f.GetString("metrics-listen")
	}

	if cfg.Stream.NoLimit {
		cfg.Stream.Bits = 0
		cfg.Stream.TimeSeconds = 0
	}
}

// metricsBridgeSink forwards every coordinator.Sink call to the JSON
// event sink, additionally feeding the optional Prometheus exporter.
// lastBits/lastOnes track each worker's last-seen cumulative totals so
// Anomaly and Done, the two per-worker messages fed into the metrics,
// can report a non-negative delta to the monotonic Counter metrics.
type metricsBridgeSink struct {
	inner    *reporting.EventSink
	metrics  *telemetry.Metrics
	lastBits map[int]int64
	lastOnes map[int]int64
}

func (s *metricsBridgeSink) Heartbeat(a coordinator.Aggregate) {
	s.inner.Heartbeat(a)
	if s.metrics != nil {
		s.metrics.ObserveHeartbeat(a)
	}
}

func (s *metricsBridgeSink) Anomaly(ev *detector.Event) {
	s.inner.Anomaly(ev)
	if s.metrics != nil {
		s.metrics.ObserveAnomaly(ev)
		s.observeWorkerDelta(ev.ProcID, ev.BitsProcessed, ev.OnesTotal)
	}
}

func (s *metricsBridgeSink) Iter(p *worker.IterPayload) { s.inner.Iter(p) }

func (s *metricsBridgeSink) Done(p *worker.DonePayload) {
	s.inner.Done(p)
	if s.metrics != nil {
		s.observeWorkerDelta(p.ProcID, p.BitsProcessed, p.OnesTotal)
	}
}

func (s *metricsBridgeSink) Error(err error) { s.inner.Error(err) }

func (s *metricsBridgeSink) Summary(sum coordinator.Summary) { s.inner.Summary(sum) }

// observeWorkerDelta reports the non-negative increment in a worker's
// cumulative bits/ones since the last call to the underlying Counter
// metrics.
func (s *metricsBridgeSink) observeWorkerDelta(procID int, bits, ones int64) {
	if s.lastBits == nil {
		s.lastBits = make(map[int]int64)
		s.lastOnes = make(map[int]int64)
	}
	proc := strconv.Itoa(procID)
	s.metrics.ObserveWorkerSnapshot(proc, bits-s.lastBits[procID], ones-s.lastOnes[procID])
	s.lastBits[procID] = bits
	s.lastOnes[procID] = ones
}

// failedSource immediately reports an error on first Next, so a
// per-worker spawn failure surfaces through the normal worker/ERROR
// path instead of panicking the coordinator's goroutine fan-out.
type failedSource struct{ err error }

func (f *failedSource) Next() (int, bool, error) { return 0, false, f.err }
func (f *failedSource) Close() error             { return nil }
