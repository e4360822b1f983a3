package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/batmesh/rlncd/internal/coder"
	"github.com/batmesh/rlncd/internal/counterstore"
	"github.com/batmesh/rlncd/internal/decoder"
	"github.com/batmesh/rlncd/internal/dispatcher"
	"github.com/batmesh/rlncd/internal/encoder"
	"github.com/batmesh/rlncd/internal/helper"
	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/recoder"
	"github.com/batmesh/rlncd/internal/semaphore"
	"github.com/batmesh/rlncd/internal/telemetry"
)

// housekeepingInterval is fox.cpp's house_keeping_thread sleep interval.
const housekeepingInterval = 50 * time.Millisecond

// linkSmoothingPeriods is how many TQ samples linkdb averages over;
// the reference io class took the instantaneous sample instead, but
// every role here already expects a *linkdb.DB with this constructor
// shape (see internal/linkdb's package doc).
const linkSmoothingPeriods = 4

// Daemon is one running rlncd process: a netlink transport, the shared
// neighborhood database, the dispatcher wired to all four role
// registries, and the housekeeping loop that retires timed-out
// generations. Grounded on the reference design's fox.cpp main().
type Daemon struct {
	cfg    Config
	log    *telemetry.Logger
	counts *counterstore.Store
	db     *linkdb.DB
	sem    *semaphore.Semaphore
	trans  *nlproto.Transport
	disp   *dispatcher.Dispatcher

	running    atomic.Bool
	stopped    chan struct{}
	closeTrans sync.Once
}

// New builds a Daemon from cfg but does not yet open the netlink
// transport or start any goroutine; call Run for that.
func New(cfg Config) (*Daemon, error) {
	counts, err := counterstore.Create(cfg.CountersPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open counters: %w", err)
	}

	log := telemetry.New(cfg.LogFile)
	if err := log.Init(cfg.Debug); err != nil {
		counts.Close()
		return nil, fmt.Errorf("daemon: start logger: %w", err)
	}

	trans, err := nlproto.Dial()
	if err != nil {
		log.Disable()
		counts.Close()
		return nil, fmt.Errorf("daemon: dial netlink: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		log:     log,
		counts:  counts,
		db:      linkdb.New(linkSmoothingPeriods),
		sem:     semaphore.New(int64(cfg.Encoders)),
		trans:   trans,
		stopped: make(chan struct{}),
	}

	ifindex, err := resolveIfindex(cfg.Device)
	if err != nil {
		trans.Close()
		log.Disable()
		counts.Close()
		return nil, err
	}

	d.disp = dispatcher.New(d.db, log, cfg.Benchmark, d.trans, ifindex,
		func(key protocol.Key) *encoder.Encoder {
			e := encoder.New(key, encoder.Config{
				G:          cfg.GenerationSize,
				SymbolSize: cfg.PacketSize,
				Ifindex:    ifindex,
				Overshoot:  cfg.FixedOvershoot,
				Systematic: cfg.Systematic,
				Timeout:    cfg.encoderDuration(),
				Threshold:  cfg.EncoderThreshold,

				LinkDerivedErrors: cfg.LinkDerivedErrors,
				FixedE1:           pctToEstimate(cfg.E1),
				FixedE2:           pctToEstimate(cfg.E2),
				FixedE3:           pctToEstimate(cfg.E3),
			}, d.trans, d.db, log, counts, d.sem)
			e.Init()
			return e
		},
		func(key protocol.Key) *decoder.Decoder {
			dc := decoder.New(key, decoder.Config{
				G:          cfg.GenerationSize,
				SymbolSize: cfg.PacketSize,
				Ifindex:    ifindex,

				Timeout:       cfg.decoderDuration(),
				PacketTimeout: cfg.packetDuration(),
				AckInterval:   cfg.AckInterval,
				FixedE3:       pctToEstimate(cfg.E3),
			}, d.trans, log, counts)
			dc.Init()
			return dc
		},
		func(key protocol.Key) *recoder.Recoder {
			r := recoder.New(key, recoder.Config{
				G:          cfg.GenerationSize,
				SymbolSize: cfg.PacketSize,
				Ifindex:    ifindex,
				Overshoot:  cfg.FixedOvershoot,
				Timeout:    cfg.recoderDuration(),
			}, d.trans, d.db, log, counts)
			r.Init()
			return r
		},
		func(key protocol.Key) *helper.Helper {
			h := helper.New(key, helper.Config{
				G:          cfg.GenerationSize,
				SymbolSize: cfg.PacketSize,
				Ifindex:    ifindex,

				Overshoot:       cfg.FixedOvershoot,
				ThresholdFactor: cfg.HelperThreshold,
				Timeout:         cfg.helperDuration(),

				LinkDerivedErrors: cfg.LinkDerivedErrors,
				FixedE1:           pctToEstimate(cfg.E1),
				FixedE2:           pctToEstimate(cfg.E2),
				FixedE3:           pctToEstimate(cfg.E3),
			}, d.trans, d.db, log, counts)
			h.Init()
			return h
		},
	)

	return d, nil
}

// pctToEstimate converts a fox.cpp-style 0-100 error percentage flag
// into the internal 0-One loss-estimate scale.
func pctToEstimate(pct int) uint8 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return uint8(pct * protocol.One / 100)
}

// resolveIfindex looks up device's interface index, the ifindex every
// outbound FRAME/BLOCK/GET_LINK command must carry.
func resolveIfindex(device string) (uint32, error) {
	iface, err := netInterfaceByName(device)
	if err != nil {
		return 0, fmt.Errorf("daemon: resolve device %s: %w", device, err)
	}
	return uint32(iface), nil
}

// Run starts the event-receive loop and the housekeeping ticker, and
// blocks until SIGINT/SIGTERM or Stop is called. A second SIGINT forces
// an immediate exit, matching fox.cpp's sigint()'s quit-then-force
// behavior.
func (d *Daemon) Run() error {
	d.running.Store(true)
	defer d.running.Store(false)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return d.receiveLoop(ctx) })
	g.Go(func() error { return d.housekeepingLoop(ctx) })

	quitting := false
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGQUIT {
				d.printCounters()
				continue
			}
			if quitting {
				os.Exit(1)
			}
			quitting = true
			d.Stop()
		case <-ctx.Done():
			// A fatal error in either loop cancelled the shared
			// context; unwind the other side the same way an
			// operator-requested Stop does.
			d.Stop()
		case <-d.stopped:
			err := g.Wait()
			d.printCounters()
			return err
		}
	}
}

// Stop signals the daemon's loops to exit via the errgroup's shared
// context: closing the transport unblocks a receiver parked in
// Receive, and the housekeeping loop's own ctx.Done case stops its
// ticker. Run returns once both have.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.closeTrans.Do(func() { _ = d.trans.Close() })
	close(d.stopped)
}

// receiveLoop and housekeepingLoop are run under the same
// errgroup.Group: a fatal error from either cancels ctx, and the other
// observes it on its next iteration and unwinds too.
func (d *Daemon) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ev, err := d.trans.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("daemon: receive: %w", err)
		}
		if err := d.disp.Dispatch(ev); err != nil && d.log != nil {
			d.log.Printf("daemon: dispatch: %v", err)
		}
	}
}

func (d *Daemon) housekeepingLoop(ctx context.Context) error {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.disp.ProcessAll()
		}
	}
}

func (d *Daemon) printCounters() {
	if d.counts == nil {
		return
	}
	for _, c := range d.counts.All() {
		fmt.Fprintf(os.Stdout, "%s: %d\n", c.Key, c.Value)
	}
}

// Close releases every resource opened by New: the netlink transport,
// the logger, and the counters segment.
func (d *Daemon) Close() error {
	var firstErr error
	d.closeTrans.Do(func() {
		if err := d.trans.Close(); err != nil {
			firstErr = err
		}
	})
	d.log.Disable()
	if err := d.counts.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// EncMap, DecMap, RecMap, and HlpMap expose the live registries for
// tests and the counters/inspection tooling.
func (d *Daemon) EncMap() *coder.Map[*encoder.Encoder] { return d.disp.EncMap() }
func (d *Daemon) DecMap() *coder.Map[*decoder.Decoder] { return d.disp.DecMap() }
func (d *Daemon) RecMap() *coder.Map[*recoder.Recoder] { return d.disp.RecMap() }
func (d *Daemon) HlpMap() *coder.Map[*helper.Helper]   { return d.disp.HlpMap() }
