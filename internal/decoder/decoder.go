// Package decoder implements the sink-side coding role: it accumulates
// coded symbols for one generation, releases source packets back to the
// kernel as soon as their coefficient row resolves (not only once the
// whole generation is full rank), and acks the generation once decode
// completes. Grounded on the reference design's full_rlnc_decoder_deep
// (decoder.hpp/decoder.cpp).
package decoder

import (
	"errors"
	"fmt"
	"time"

	"github.com/batmesh/rlncd/internal/budget"
	"github.com/batmesh/rlncd/internal/coder"
	"github.com/batmesh/rlncd/internal/counterstore"
	"github.com/batmesh/rlncd/internal/fsm"
	"github.com/batmesh/rlncd/internal/nlproto"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/rlnccoding"
	"github.com/batmesh/rlncd/internal/telemetry"
)

// ErrPayloadTooLong is returned when a coded payload does not match
// g+symbol_size, or a decoded symbol's length prefix exceeds the space
// actually stored.
var ErrPayloadTooLong = errors.New("decoder: payload too long")

type state uint8

const (
	stateInvalid state = fsm.StateInvalid
	stateWait    state = fsm.StateWait
	stateDone    state = fsm.StateDone
)

const (
	stateWriteDec state = fsm.FirstFreeState + iota
	stateAcked
	numStates
)

type event uint8

const (
	eventComplete event = iota
	eventAcked
	eventTimeout
	eventCorrupt
	numEvents
)

// Config carries the per-flow knobs a decoder needs: generation
// geometry plus the CLI-level --decoder_timeout/--packet_timeout/
// --ack_interval flags.
type Config struct {
	G          int
	SymbolSize int
	Ifindex    uint32

	Timeout       time.Duration
	PacketTimeout time.Duration
	AckInterval   int

	FixedE3 uint8
}

// Decoder is one (src,dst,block) generation's sink-coding state.
type Decoder struct {
	coder.Skeleton
	engine fsm.Engine[state, event]

	cfg    Config
	sender nlproto.Sender
	cnts   *counterstore.Group

	gen     *rlnccoding.Generation
	sent    []bool
	encPkts int
	redPkts int
	reqSeq  uint16
}

// New constructs a Decoder for key and starts its driver goroutine.
// Callers must call Init before feeding it packets.
func New(key protocol.Key, cfg Config, sender nlproto.Sender, log *telemetry.Logger, cnts *counterstore.Store) *Decoder {
	d := &Decoder{
		Skeleton: coder.NewSkeleton(key),
		cfg:      cfg,
		sender:   sender,
		cnts:     counterstore.NewGroup(cnts, "decoder"),
		gen:      rlnccoding.NewGeneration(cfg.G, cfg.SymbolSize),
		sent:     make([]bool, cfg.G),
	}
	d.Log = log
	d.SetEstimates(protocol.One-1, protocol.One-1, cfg.FixedE3)

	d.engine.Init(int(numStates), int(numEvents))
	d.engine.AddState(stateWriteDec, d.sendDecodedPackets)
	d.engine.AddState(stateAcked, d.engine.Wait)

	d.engine.AddTrans(stateWait, eventTimeout, stateDone)
	d.engine.AddTrans(stateWait, eventComplete, stateWriteDec)
	d.engine.AddTrans(stateWriteDec, eventAcked, stateAcked)
	d.engine.AddTrans(stateAcked, eventTimeout, stateDone)

	// eventCorrupt has no transition entry anywhere: dispatching it
	// always falls through to the engine's built-in invalid-transition
	// path, which forces Done and invokes onInvalid below. This is the
	// Go-native stand-in for the reference decoder's LOG_IF(FATAL, ...)
	// on a corrupt decoded length prefix: the generation is abandoned
	// instead of aborting the whole process.
	d.engine.OnInvalid(func(from uint8, ev event) {
		if ev != eventCorrupt {
			return
		}
		d.cnts.Inc("corrupt decodes")
		if d.Log != nil {
			d.Log.Printf("decoder %d: corrupt decoded payload, abandoning generation %s", d.Num(), d.Key())
		}
	})

	go d.engine.Run()
	return d
}

// Init resets this generation's state; must be called before every
// reuse of a Decoder pulled from a pool, and exactly once for a fresh
// one. Mirrors decoder.cpp's init().
func (d *Decoder) Init() {
	d.Lock()
	defer d.Unlock()

	d.engine.SetState(stateWait)
	d.InitTimeout(d.cfg.Timeout)
	d.SetPacketTimeout(d.cfg.PacketTimeout)
	d.reqSeq = 1

	if d.Log != nil && d.Log.IsDebugging() {
		d.Log.Debugf("decoder %d: initialized %s", d.Num(), d.Key())
	}
}

// Close stops the driver goroutine; call once this decoder has been
// evicted from its Map.
func (d *Decoder) Close() {
	d.engine.Stop()
}

// IsValid reports whether this decoder is still accepting encoded
// packets (i.e. has not yet completed and moved past STATE_WAIT).
func (d *Decoder) IsValid() bool {
	return d.engine.CurrState() == stateWait
}

func decodedPayload(symbol []byte) ([]byte, error) {
	if len(symbol) < protocol.LenFieldSize {
		return nil, fmt.Errorf("decoder: decoded symbol shorter than length prefix")
	}
	n := int(symbol[0])<<8 | int(symbol[1])
	if n > len(symbol)-protocol.LenFieldSize {
		return nil, fmt.Errorf("%w: corrupt length prefix %d", ErrPayloadTooLong, n)
	}
	return symbol[protocol.LenFieldSize : protocol.LenFieldSize+n], nil
}

// sendDecodedPacket writes out symbol i, skipping one already sent.
func (d *Decoder) sendDecodedPacket(i int, symbol []byte) {
	if d.sent[i] {
		return
	}
	payload, err := decodedPayload(symbol)
	if err != nil {
		d.engine.DispatchEvent(eventCorrupt)
		return
	}
	_ = d.sender.SendFrame(d.cfg.Ifindex, d.Key(), protocol.DecPacket, 0, 0, payload)
	d.cnts.Inc("decoded sent")
	d.sent[i] = true
	if d.Log != nil {
		d.Log.IncTx(protocol.DecPacket)
	}
}

// sendPartialDecodedPackets releases every symbol that has resolved to
// a clean pivot row so far, even before the generation reaches full
// rank — the reference design's "systematic packet released early" and
// "partial generation complete" code paths collapse into this single
// check against DecodePartial.
func (d *Decoder) sendPartialDecodedPackets() {
	for i, symbol := range d.gen.DecodePartial() {
		d.sendDecodedPacket(i, symbol)
	}
}

func (d *Decoder) sendAckPacket() {
	_ = d.sender.SendFrame(d.cfg.Ifindex, d.Key(), protocol.AckPacket, 0, 0, nil)
	d.cnts.Inc("ack sent")
}

// sendDecodedPackets is the STATE_WRITE_DEC handler: ack the generation
// (with a small redundant-ack budget matching the reference's
// source_budget(1, ONE-1, ONE-1, e3) call) and flush every symbol.
func (d *Decoder) sendDecodedPackets() {
	_, _, e3 := d.Estimates()
	ackBudget := budget.SourceBudget(1, protocol.One-1, protocol.One-1, e3, 1.0)

	d.cnts.Inc("generations decoded")

	d.Lock()
	for ; ackBudget > 0; ackBudget-- {
		d.sendAckPacket()
	}
	d.sendPartialDecodedPackets()
	d.Unlock()

	d.engine.DispatchEvent(eventAcked)
}

func (d *Decoder) sendRequest(seq uint16) {
	_ = d.sender.SendFrame(d.cfg.Ifindex, d.Key(), protocol.ReqPacket, uint16(d.gen.Rank()), seq, nil)
	d.cnts.Inc("request sent")
}

// AddEncPacket decodes one coded symbol: payload must be exactly
// cfg.G + cfg.SymbolSize bytes (a coefficient-vector prefix followed by
// the coded symbol), matching what internal/encoder and internal/recoder
// write on the wire.
func (d *Decoder) AddEncPacket(payload []byte) error {
	want := d.cfg.G + d.cfg.SymbolSize
	if len(payload) != want {
		return fmt.Errorf("%w: got %d want %d", ErrPayloadTooLong, len(payload), want)
	}

	d.Lock()
	defer d.Unlock()

	if d.gen.Full() {
		d.cnts.Inc("redundant received")
		d.redPkts++
		if d.cfg.AckInterval > 0 && d.redPkts%d.cfg.AckInterval == 0 {
			d.sendAckPacket()
		}
		return nil
	}

	coeffs := payload[:d.cfg.G]
	coded := payload[d.cfg.G:]

	rankBefore := d.gen.Rank()
	innovative, err := d.gen.AddCoded(coeffs, coded)
	if err != nil {
		return fmt.Errorf("decoder: add coded symbol: %w", err)
	}
	d.encPkts++

	if !innovative || d.gen.Rank() == rankBefore {
		d.cnts.Inc("non-innovative received")
		d.UpdateTimestamp()
		d.UpdatePacketTimestamp()
		return nil
	}

	if d.gen.Full() {
		d.cnts.Inc("encoded received")
		d.engine.DispatchEvent(eventComplete)
		return nil
	}

	d.cnts.Inc("encoded received")
	d.sendPartialDecodedPackets()

	d.UpdateTimestamp()
	d.UpdatePacketTimestamp()
	return nil
}

// Process runs one housekeeping pass: times out an incomplete
// generation, or re-requests more symbols when the packet-level timer
// lapses without the generation filling.
func (d *Decoder) Process() bool {
	d.Lock()
	defer d.Unlock()

	if d.engine.CurrState() == stateDone {
		return true
	}

	if d.IsTimedOut() {
		d.cnts.Inc("incomplete timeouts")
		d.engine.DispatchEvent(eventTimeout)
		return false
	}

	if d.engine.CurrState() == stateWait && d.PacketTimedOut() {
		if !d.gen.Full() {
			_, _, e3 := d.Estimates()
			reqBudget := budget.SourceBudget(1, protocol.One-1, protocol.One-1, e3, 1.0)
			for ; reqBudget >= 0; reqBudget-- {
				d.sendRequest(d.reqSeq)
			}
			d.reqSeq++
		}
		d.UpdatePacketTimestamp()
	}

	return false
}
