package detector

// Suite bundles one instance of each online test in the fixed
// evaluation order [RCT, APT, SPRT, ZMonobit?] and exposes the
// contextual snapshot fields (apt_window, apt_len, apt_ones, apt_pct,
// rct_run_len, sprt_up, sprt_dn) that the worker stitches onto every
// Event before emission.
type Suite struct {
	RCT      *RCT
	APT      *APT
	SPRT     *SPRT
	ZMonobit *ZMonobit // nil when the optional Z-test is disabled
}

// Config collects the parameters needed to construct one Suite per
// worker.
type Config struct {
	Alpha     float64
	Beta      float64
	Delta     float64
	APTWindow int

	ZTestEnabled bool
	ZAlpha       float64 // defaults to Alpha when zero
	ZMinBits     int
}

// NewSuite constructs a fresh Suite from cfg.
func NewSuite(cfg Config) (*Suite, error) {
	rct, err := NewRCT(cfg.Alpha)
	if err != nil {
		return nil, err
	}
	apt, err := NewAPT(cfg.APTWindow, cfg.Alpha)
	if err != nil {
		return nil, err
	}
	sprt, err := NewSPRT(cfg.Delta, cfg.Alpha, cfg.Beta)
	if err != nil {
		return nil, err
	}

	s := &Suite{RCT: rct, APT: apt, SPRT: sprt}

	if cfg.ZTestEnabled {
		zAlpha := cfg.ZAlpha
		if zAlpha == 0 {
			zAlpha = cfg.Alpha
		}
		z, err := NewZMonobit(zAlpha, cfg.ZMinBits)
		if err != nil {
			return nil, err
		}
		s.ZMonobit = z
	}

	return s, nil
}

// Update consumes one bit through every test in suite order and returns
// every Event produced, in emission order: RCT, APT, SPRT (up before
// down), ZMonobit. Contextual fields are not yet filled in; the caller
// (pkg/worker) owns bits-processed/ones/bps and stitches the snapshot
// from Snapshot() before emitting.
func (s *Suite) Update(bit int) []*Event {
	return s.update(bit, false)
}

// UpdateStopFirst consumes one bit through the fixed test order [RCT,
// APT, SPRT, ZMonobit?], stopping as soon as one test in that order
// produces an event; later tests in the order are not even called for
// this bit. SPRT's up and down events, both produced by the same call
// to updateBoth, count as one test's result and are returned together.
// The caller uses this instead of Update when it intends to stop
// processing after the first anomaly, so tests after the triggering
// one never see this bit.
func (s *Suite) UpdateStopFirst(bit int) []*Event {
	return s.update(bit, true)
}

func (s *Suite) update(bit int, stopFirst bool) []*Event {
	var events []*Event

	if ev := s.RCT.Update(bit); ev != nil {
		events = append(events, ev)
		if stopFirst {
			return events
		}
	}
	if ev := s.APT.Update(bit); ev != nil {
		events = append(events, ev)
		if stopFirst {
			return events
		}
	}
	if up, down := s.SPRT.updateBoth(bit); up != nil || down != nil {
		if up != nil {
			events = append(events, up)
		}
		if down != nil {
			events = append(events, down)
		}
		if stopFirst {
			return events
		}
	}
	if s.ZMonobit != nil {
		if ev := s.ZMonobit.Update(bit); ev != nil {
			events = append(events, ev)
		}
	}

	return events
}

// Snapshot is the contextual state the worker injects into every
// emitted Event, excluding the fields the worker itself owns (proc_id,
// bits_processed, ones_total, ones_pct, bps).
type Snapshot struct {
	APTWindow int
	APTLen    int
	APTOnes   int
	APTPct    float64
	RCTRunLen int
	SPRTUp    float64
	SPRTDown  float64
}

// Snapshot returns the current contextual state across all tests.
func (s *Suite) Snapshot() Snapshot {
	aptLen := s.APT.Len()
	aptPct := 0.0
	if aptLen > 0 {
		aptPct = float64(s.APT.Ones()) / float64(aptLen)
	}
	return Snapshot{
		APTWindow: s.APT.Window(),
		APTLen:    aptLen,
		APTOnes:   s.APT.Ones(),
		APTPct:    aptPct,
		RCTRunLen: s.RCT.RunLen(),
		SPRTUp:    s.SPRT.Up(),
		SPRTDown:  s.SPRT.Down(),
	}
}

// Enrich stamps the contextual snapshot fields in place onto ev,
// leaving the worker-owned fields (ProcID, BitsProcessed, OnesTotal,
// OnesPct, BPS) for the caller to fill separately.
func (snap Snapshot) Enrich(ev *Event) {
	ev.APTWindow = snap.APTWindow
	ev.APTLen = snap.APTLen
	ev.APTOnes = snap.APTOnes
	ev.APTPct = snap.APTPct
	ev.RCTRunLen = snap.RCTRunLen
	ev.SPRTUp = snap.SPRTUp
	ev.SPRTDown = snap.SPRTDown
}
