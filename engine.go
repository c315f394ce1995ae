// Package visrt ingests live telemetry from a SpiNNaker board, keeps a
// rolling history of it for display, and records and replays sessions.
//
// An Engine owns all of the state.  Datagrams reach it through Ingest
// from a link.Receiver (live, or fed by a replay.Engine sending to the
// same port) and are applied in arrival order by the single goroutine
// running Run.  Renderers read through View and never write.
package visrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jbrzusto/visrt/board"
	"github.com/jbrzusto/visrt/buffer"
	"github.com/jbrzusto/visrt/capture"
	"github.com/jbrzusto/visrt/catalog"
	"github.com/jbrzusto/visrt/coord"
	"github.com/jbrzusto/visrt/decode"
	"github.com/jbrzusto/visrt/link"
	"github.com/jbrzusto/visrt/sdp"
)

var (
	// ErrShutdown is returned by Ingest after Shutdown.
	ErrShutdown = errors.New("engine shut down")
	// ErrRecording is returned by StartRecording while a recording is open.
	ErrRecording = errors.New("already recording")
	// ErrNotRecording is returned by StopRecording with no recording open.
	ErrNotRecording = errors.New("not recording")
)

// Stats counts what the engine has done with the datagrams it was given.
type Stats struct {
	Received   int64 // datagrams taken from the queue
	Hello      int64 // discovery packets, ignored
	Filtered   int64 // from a host other than the configured board
	Decoded    int64 // applied to the history
	Frozen     int64 // decoded while frozen, not applied
	Dropped    int64 // undecodable packets
	OutOfRange int64 // updates that fell off the grid
	Peer       string
	Recording  *capture.Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithStore sets the session catalog; the default keeps sessions in
// memory.  The engine closes it on Shutdown.
func WithStore(s catalog.Store) Option { return func(e *Engine) { e.store = s } }

// WithTopology supplies the board topology instead of loading the
// configured population_cores file.
func WithTopology(t *board.Topology) Option { return func(e *Engine) { e.topo = t } }

// WithRemap supplies the population remap instead of loading the
// configured files.
func WithRemap(r *coord.Remap) Option { return func(e *Engine) { e.remap = r } }

// WithCloser registers something, such as a link.Receiver, to close
// on Shutdown.
func WithCloser(c io.Closer) Option { return func(e *Engine) { e.closers = append(e.closers, c) } }

// Engine is the ingestion context.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
	grid  coord.Grid
	mode  decode.Mode
	dec   decode.Decoder
	hist  *buffer.History
	topo  *board.Topology
	remap *coord.Remap
	peer  *link.Peer
	out   *link.Sender
	store catalog.Store

	queue   chan link.Datagram
	done    chan struct{}
	settle  chan struct{} // wakes Run for a pending freeze
	pending atomic.Bool   // freeze once the queue goes quiet
	once    sync.Once
	closers []io.Closer

	xmu       sync.RWMutex
	transform coord.Transform
	plotWidth int

	bmu  sync.RWMutex
	bias []float32 // per cell bias current, Undefined if never reported

	// recording state, guarded by rmu
	rmu      sync.Mutex
	sink     *capture.Sink
	session  catalog.Session
	recFirst time.Time // first packet of the recording
	first    time.Time // first packet of the run; spike offsets count from here

	received, hello, filtered, decoded, frozen, dropped, outOfRange atomic.Int64
}

// New builds an Engine for cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		log:       slog.Default(),
		now:       time.Now,
		grid:      cfg.Grid(),
		transform: cfg.Transform(),
		plotWidth: cfg.PlotWidth,
		done:      make(chan struct{}),
		settle:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	var err error
	if e.mode, err = decode.ParseMode(cfg.Mode); err != nil {
		return nil, err
	}

	if e.topo == nil && cfg.Board == 5 {
		t, err := board.Load(cfg.PopulationCores)
		if err != nil {
			return nil, err
		}
		e.topo = t
	}
	if e.remap == nil {
		r, err := coord.LoadRemap(cfg.LocalToGlobal, cfg.GlobalToLocal, e.grid.Cells())
		if err != nil {
			e.log.Warn("population remap incomplete", "err", err,
				"local_to_global", len(r.LocalToGlobal), "global_to_local", len(r.GlobalToLocal))
		}
		e.remap = r
	}

	e.dec, err = decode.New(e.mode, decode.Params{
		Grid:       e.grid,
		ChipsY:     cfg.ChipsY,
		FixedPoint: cfg.FixedPoint,
		PopIDBits:  cfg.PopIDBits,
		MaxRaster:  cfg.MaxRasterNeurons,
		Topology:   e.topo,
		Logger:     e.log,
	})
	if err != nil {
		return nil, err
	}
	e.hist, err = buffer.New(buffer.Config{
		Cells:        e.grid.Cells(),
		RasterWidth:  cfg.MaxRasterNeurons,
		Slots:        cfg.HistorySize,
		SlotDuration: cfg.SlotDuration(),
		InitZero:     cfg.InitZero,
		GuardSlots:   cfg.GuardSlots,
	}, e.now())
	if err != nil {
		return nil, err
	}
	e.bias = make([]float32, e.grid.Cells())
	for i := range e.bias {
		e.bias[i] = float32(buffer.Undefined)
	}

	if e.peer, err = link.NewPeer(cfg.Host); err != nil {
		return nil, err
	}
	if e.out, err = link.Dial(e.peer.Addr()); err != nil {
		return nil, err
	}
	if e.store == nil {
		e.store = catalog.NewMemoryStore()
		if err := e.store.Init(context.Background()); err != nil {
			return nil, err
		}
	}
	e.queue = make(chan link.Datagram, max(cfg.QueueDepth, 1))
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Mode returns the decode mode.
func (e *Engine) Mode() decode.Mode { return e.mode }

// History returns the history store.  Callers outside the engine
// should only read from it.
func (e *Engine) History() *buffer.History { return e.hist }

// Store returns the session catalog.
func (e *Engine) Store() catalog.Store { return e.store }

// Ingest queues d for Run, waiting while the queue is full.
func (e *Engine) Ingest(ctx context.Context, d link.Datagram) error {
	select {
	case <-e.done:
		return ErrShutdown
	default:
	}
	select {
	case e.queue <- d:
		return nil
	case <-e.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QuietPeriod is how long the queue must stay empty before a freeze
// requested with FreezeWhenQuiet takes effect.
const QuietPeriod = 50 * time.Millisecond

// Run applies queued datagrams until ctx is done or the engine is shut
// down.  Only transport faults end it early.
func (e *Engine) Run(ctx context.Context) error {
	quiet := time.NewTimer(QuietPeriod)
	quiet.Stop()
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case d := <-e.queue:
			if err := e.process(d); err != nil {
				return err
			}
			if e.pending.Load() {
				quiet.Reset(QuietPeriod)
			}
		case <-e.settle:
			quiet.Reset(QuietPeriod)
		case <-quiet.C:
			if e.pending.CompareAndSwap(true, false) {
				e.hist.Freeze(e.now())
				e.log.Info("history frozen", "decoded", e.decoded.Load())
			}
		}
	}
}

// process applies one datagram.  It must only be called from Run's
// goroutine (or a test standing in for it).
func (e *Engine) process(d link.Datagram) error {
	e.received.Add(1)
	if sdp.IsHello(d.Payload) {
		e.hello.Add(1)
		return nil
	}
	if !e.peer.Accept(d.From) {
		e.filtered.Add(1)
		return nil
	}
	if e.peer.Learn(d.From) {
		if addr := e.peer.Addr(); addr != nil {
			e.log.Info("packet received from board", "addr", addr)
			if err := e.out.SetAddr(addr); err != nil {
				return err
			}
		}
	}

	e.rmu.Lock()
	if e.first.IsZero() {
		e.first = d.At
	}
	sink, first := e.sink, e.first
	if sink != nil && e.recFirst.IsZero() {
		e.recFirst = d.At
	}
	recFirst := e.recFirst
	e.rmu.Unlock()

	if sink != nil {
		e.record(sink.WritePacket(d.At.Sub(recFirst), d.Payload))
	}

	res, err := e.dec.Decode(d.Payload)
	if err != nil {
		e.dropped.Add(1)
		e.log.Warn("dropping packet", "mode", e.mode, "len", len(d.Payload), "err", err)
		return nil
	}
	slot, err := e.hist.Advance(d.At)
	if errors.Is(err, buffer.ErrFrozen) {
		e.frozen.Add(1)
		return nil
	}
	e.apply(res)
	if sink != nil {
		for _, id := range res.Spikes {
			e.record(sink.WriteSpike(d.At.Sub(first), id))
		}
	}
	if err := e.hist.Store(slot); err != nil && !errors.Is(err, buffer.ErrFrozen) {
		e.log.Warn("storing history row", "slot", slot, "err", err)
	}
	e.decoded.Add(1)
	return nil
}

// apply writes a decoded result into the frame, dropping anything
// that falls outside it.
func (e *Engine) apply(res decode.Result) {
	for _, u := range res.Updates {
		var err error
		switch u.Op {
		case decode.Set:
			err = e.hist.Set(u.Index, buffer.Sample(u.Value))
		case decode.Add:
			err = e.hist.Add(u.Index, buffer.Sample(u.Value))
		case decode.Integrate:
			err = e.hist.Integrate(u.Index, buffer.Sample(u.Value), buffer.Sample(u.Decay))
		}
		if errors.Is(err, buffer.ErrOutOfRange) {
			e.outOfRange.Add(1)
			e.log.Warn("dropping update outside the grid",
				"mode", e.mode, "op", u.Op, "index", u.Index, "cells", e.grid.Cells())
		}
	}
	if len(res.Bias) > 0 {
		e.bmu.Lock()
		for _, u := range res.Bias {
			if u.Index < 0 || u.Index >= len(e.bias) {
				e.outOfRange.Add(1)
				e.log.Warn("dropping bias outside the grid", "index", u.Index, "cells", len(e.bias))
				continue
			}
			e.bias[u.Index] = u.Value
		}
		e.bmu.Unlock()
	}
	for _, id := range res.Raster {
		if err := e.hist.Spike(id); errors.Is(err, buffer.ErrOutOfRange) {
			e.outOfRange.Add(1)
			e.log.Warn("dropping raster spike", "neuron", id, "width", e.hist.RasterWidth())
		}
	}
}

func (e *Engine) record(err error) {
	if err != nil && !errors.Is(err, capture.ErrClosed) {
		e.log.Warn("recording", "err", err)
	}
}

// command sends an SDP message to the board.  With no board known yet
// it is silently skipped.
func (e *Engine) command(p *sdp.Packet) error {
	err := e.out.Command(p)
	if errors.Is(err, link.ErrNoPeer) {
		e.log.Debug("no board to send to", "cmd", p.Cmd)
		return nil
	}
	return err
}

// Pause asks the board to pause and freezes the history.
func (e *Engine) Pause() error {
	e.hist.Freeze(e.now())
	return e.command(sdp.Pause())
}

// Resume asks the board to resume and thaws the history.
func (e *Engine) Resume() error {
	e.hist.Thaw(e.now())
	return e.command(sdp.Resume())
}

// Freeze freezes the history at now without telling the board, leaving
// the last state on display.  Datagrams still queued are counted as
// frozen and dropped; see FreezeWhenQuiet.
func (e *Engine) Freeze(now time.Time) {
	e.hist.Freeze(now)
}

// FreezeWhenQuiet freezes the history once Run has applied every
// datagram already on its way: after the queue has stayed empty for
// QuietPeriod.  Used when a replay ends, so the last replayed packets
// are shown rather than rejected.  It has the signature of
// replay.Engine.OnDone; the argument is ignored.  Nothing happens
// unless Run is running.
func (e *Engine) FreezeWhenQuiet(time.Time) {
	e.pending.Store(true)
	select {
	case e.settle <- struct{}{}:
	default:
	}
}

// SetHeatmap sets the edge temperatures of the heat diffusion demo.
func (e *Engine) SetHeatmap(north, east, south, west float64) error {
	return e.command(sdp.HeatmapSet(north, east, south, west))
}

// AdjustLoad asks every chip's load generator to raise or lower its
// CPU utilisation.
func (e *Engine) AdjustLoad(up bool) error {
	for cx := 0; cx < e.grid.TilesX(); cx++ {
		for cy := 0; cy < e.grid.TilesY(); cy++ {
			if err := e.command(sdp.Load(sdp.ChipAddr(cx, cy), up)); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetRaster turns raster output of population pop on or off.
func (e *Engine) SetRaster(pop int, on bool) error {
	return e.command(sdp.Raster(pop, on))
}

// Bias limits.
const (
	MinBias = -10.0
	MaxBias = 100.0
)

// SetBias sets the bias current of the population plotted at cell
// index, under the current transform.
func (e *Engine) SetBias(index int, bias float64) error {
	if !e.grid.Valid(index) {
		return fmt.Errorf("cell %d: %w", index, buffer.ErrOutOfRange)
	}
	bias = min(max(bias, MinBias), MaxBias)
	i := e.grid.Apply(e.Transform(), index)
	per := e.grid.CellsPerTile()
	pop := i%per + 1
	core, sub := pop, 0
	if b := e.cfg.PopIDBits; b > 0 {
		sub = (pop - 1) & (1<<b - 1)
		core = 1 + (pop-1)>>b
	}
	tile := i / per
	cx, cy := tile/e.grid.TilesY(), tile%e.grid.TilesY()
	return e.command(sdp.Bias(sdp.ChipAddr(cx, cy), core, sub, bias))
}

// SetTransform changes the orientation used for plotting.
func (e *Engine) SetTransform(t coord.Transform) {
	e.xmu.Lock()
	e.transform = t
	e.xmu.Unlock()
}

// Transform returns the orientation used for plotting.
func (e *Engine) Transform() coord.Transform {
	e.xmu.RLock()
	defer e.xmu.RUnlock()
	return e.transform
}

// Resize spreads the configured time window over plotWidth history
// rows, as when the plot is redrawn at a new width.
func (e *Engine) Resize(plotWidth int) error {
	if plotWidth <= 0 || plotWidth > e.hist.Slots() {
		return fmt.Errorf("plot width %d must be in 1..%d", plotWidth, e.hist.Slots())
	}
	window := time.Duration(e.cfg.TimeWindow * float64(time.Second))
	if err := e.hist.SetWindow(window, plotWidth); err != nil {
		return err
	}
	e.xmu.Lock()
	e.plotWidth = plotWidth
	e.xmu.Unlock()
	return nil
}

// StartRecording opens a capture in format f.  An empty path uses
// capture.DefaultName.
func (e *Engine) StartRecording(f capture.Format, path string) (catalog.Session, error) {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	if e.sink != nil {
		return e.session, ErrRecording
	}
	now := e.now()
	if path == "" {
		path = capture.DefaultName(f, now)
	}
	sink, err := capture.Create(path, f)
	if err != nil {
		return catalog.Session{}, err
	}
	session := catalog.NewSession(path, f.String(), e.mode.String(), now)
	if err := e.store.SaveSession(context.Background(), session); err != nil {
		sink.Close()
		return catalog.Session{}, fmt.Errorf("cataloguing session: %w", err)
	}
	e.sink, e.session, e.recFirst = sink, session, time.Time{}
	e.log.Info("recording", "file", path, "format", f, "session", session.ID)
	return session, nil
}

// StopRecording closes the capture and returns its catalogued session.
func (e *Engine) StopRecording() (catalog.Session, error) {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	if e.sink == nil {
		return catalog.Session{}, ErrNotRecording
	}
	st, cerr := e.sink.Close()
	s := e.session
	s.Stopped = e.now()
	s.Packets, s.Events = st.Packets, st.Events
	s.MinID, s.MaxID = st.MinID, st.MaxID
	e.sink = nil
	if err := e.store.SaveSession(context.Background(), s); err != nil {
		return s, errors.Join(cerr, fmt.Errorf("cataloguing session: %w", err))
	}
	e.log.Info("recording stopped", "capture", st, "session", s.ID)
	return s, cerr
}

// PauseRecording stops writing to the capture until ResumeRecording.
func (e *Engine) PauseRecording() error {
	return e.withSink((*capture.Sink).Pause)
}

// ResumeRecording restarts writing after PauseRecording.
func (e *Engine) ResumeRecording() error {
	return e.withSink((*capture.Sink).Resume)
}

func (e *Engine) withSink(f func(*capture.Sink)) error {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	if e.sink == nil {
		return ErrNotRecording
	}
	f(e.sink)
	return nil
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	st := Stats{
		Received:   e.received.Load(),
		Hello:      e.hello.Load(),
		Filtered:   e.filtered.Load(),
		Decoded:    e.decoded.Load(),
		Frozen:     e.frozen.Load(),
		Dropped:    e.dropped.Load(),
		OutOfRange: e.outOfRange.Load(),
	}
	if a := e.peer.Addr(); a != nil {
		st.Peer = a.String()
	}
	e.rmu.Lock()
	if e.sink != nil {
		rs := e.sink.Stats()
		st.Recording = &rs
	}
	e.rmu.Unlock()
	return st
}

// Shutdown stops Run, tells a known board to exit, closes any
// recording and releases sockets and the catalog.  Only the first call
// does anything.
func (e *Engine) Shutdown() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		var errs []error
		errs = append(errs, e.command(sdp.Exit()))
		if _, serr := e.StopRecording(); !errors.Is(serr, ErrNotRecording) {
			errs = append(errs, serr)
		}
		errs = append(errs, e.out.Close())
		for _, c := range e.closers {
			errs = append(errs, c.Close())
		}
		errs = append(errs, catalog.CloseIfSupported(e.store))
		err = errors.Join(errs...)
	})
	return err
}
