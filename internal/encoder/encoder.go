// Package encoder implements the source-side coding role: it accepts
// plain packets from the kernel, codes them into a generation of g
// RLNC symbols, and streams budgeted coded packets to the next hop
// until that hop ACKs the generation. Grounded on the reference design's
// full_rlnc_encoder_deep (encoder.hpp/encoder.cpp), generalized from
// KODO's deep symbol storage to rlnccoding's GF(256) combine primitive.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/batmesh/rlncd/internal/budget"
	"github.com/batmesh/rlncd/internal/coder"
	"github.com/batmesh/rlncd/internal/counterstore"
	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/rlnccoding"
	"github.com/batmesh/rlncd/internal/semaphore"
	"github.com/batmesh/rlncd/internal/telemetry"

	"github.com/batmesh/rlncd/internal/fsm"
)

// ErrPlainPacketTooLong is returned when a plain packet from the kernel
// does not fit in a symbol slot once the length prefix is accounted
// for.
var ErrPlainPacketTooLong = errors.New("encoder: plain packet too long")

type state uint8

const (
	stateInvalid state = fsm.StateInvalid
	stateWait    state = fsm.StateWait
	stateDone    state = fsm.StateDone
)

const (
	stateFull state = fsm.FirstFreeState + iota
	stateSendBudget
	stateWaitAck
	numStates
)

type event uint8

const (
	eventFull event = iota
	eventStart
	eventBudgetSent
	eventAcked
	eventTimeout
	numEvents
)

// Config carries every per-flow tunable an encoder needs at
// construction: generation geometry plus the CLI-level knobs the
// reference design exposed as gflags (--fixed_overshoot, --systematic,
// --encoder_timeout, --encoder_threshold, --e1/e2/e3,
// --link_derived_errors).
type Config struct {
	G          int
	SymbolSize int
	Ifindex    uint32

	Overshoot  float64
	Systematic bool
	Timeout    time.Duration
	Threshold  float64 // fraction of G at which mid-stream credit kicks in

	LinkDerivedErrors        bool
	FixedE1, FixedE2, FixedE3 uint8
}

// Encoder is one (src,dst,block) generation's source-coding state.
type Encoder struct {
	coder.Skeleton
	engine fsm.Engine[state, event]

	cfg    Config
	sender nlproto.Sender
	db     *linkdb.DB
	cnts   *counterstore.Group
	rng    *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	symbols       [][]byte
	plainPktCount int
	encPktCount   int
	lastReqSeq    uint16

	budget    float64
	maxBudget float64
	ptype     protocol.PacketType
}

// New constructs an Encoder for key and starts its driver goroutine.
// Callers must call Init before feeding it packets.
func New(key protocol.Key, cfg Config, sender nlproto.Sender, db *linkdb.DB, log *telemetry.Logger, cnts *counterstore.Store, sem *semaphore.Semaphore) *Encoder {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Encoder{
		Skeleton: coder.NewSkeleton(key),
		cfg:      cfg,
		sender:   sender,
		db:       db,
		cnts:     counterstore.NewGroup(cnts, "encoder"),
		rng:      rand.New(rand.NewSource(int64(key.Block)<<32 ^ int64(key.Src[5]))),
		ctx:      ctx,
		cancel:   cancel,
		symbols:  make([][]byte, cfg.G),
		ptype:    protocol.EncPacket,
	}
	e.Log = log
	e.SetSemaphore(sem)

	e.engine.Init(int(numStates), int(numEvents))
	e.engine.AddState(stateFull, e.encWait)
	e.engine.AddState(stateSendBudget, e.sendEncodedBudget)
	e.engine.AddState(stateWaitAck, e.engine.Wait)

	e.engine.AddTrans(stateWait, eventFull, stateFull)
	e.engine.AddTrans(stateWait, eventTimeout, stateDone)
	e.engine.AddTrans(stateWait, eventAcked, stateDone)
	e.engine.AddTrans(stateFull, eventStart, stateSendBudget)
	e.engine.AddTrans(stateFull, eventAcked, stateDone)
	e.engine.AddTrans(stateSendBudget, eventBudgetSent, stateWaitAck)
	e.engine.AddTrans(stateSendBudget, eventAcked, stateDone)
	e.engine.AddTrans(stateWaitAck, eventAcked, stateDone)
	e.engine.AddTrans(stateWaitAck, eventTimeout, stateDone)

	go e.engine.Run()
	return e
}

// Init resolves this generation's loss estimates (fixed, or read from
// linkdb when LinkDerivedErrors is set) and computes the initial
// source budget. Mirrors encoder.cpp's init().
func (e *Encoder) Init() {
	e.Lock()
	defer e.Unlock()

	e.engine.SetState(stateWait)
	e.InitTimeout(e.cfg.Timeout)

	e1, e2, e3 := e.cfg.FixedE1, e.cfg.FixedE2, e.cfg.FixedE3
	if e.cfg.LinkDerivedErrors {
		if tq, ok := e.db.Link(e.Key().Dst); ok {
			e1 = protocol.One - tq
		}
		if best, ok := e.db.BestOneHop(e.Key().Dst); ok {
			e2 = protocol.One - best.TQSecondHop
		}
	}
	e.SetEstimates(e1, e2, e3)

	e.maxBudget = budget.SourceBudget(uint64(e.cfg.G), e1, e2, e3, e.cfg.Overshoot)
	if e.Log != nil && e.Log.IsDebugging() {
		e.Log.Debugf("encoder %d: initialized (budget %.2f) %s", e.Num(), e.maxBudget, e.Key())
	}
}

func symbolBuffer(data []byte, symbolSize int) []byte {
	buf := make([]byte, symbolSize)
	buf[0] = byte(len(data) >> 8)
	buf[1] = byte(len(data))
	copy(buf[protocol.LenFieldSize:], data)
	return buf
}

// AddPlainPacket stores one plain packet from the kernel as the next
// source symbol, and starts coding once the generation is full.
func (e *Encoder) AddPlainPacket(data []byte) error {
	if len(data) > e.cfg.SymbolSize-protocol.LenFieldSize {
		return fmt.Errorf("%w: %d > %d", ErrPlainPacketTooLong, len(data), e.cfg.SymbolSize-protocol.LenFieldSize)
	}

	e.Lock()
	defer e.Unlock()

	if e.engine.CurrState() != stateWait {
		return nil
	}

	e.symbols[e.plainPktCount] = symbolBuffer(data, e.cfg.SymbolSize)
	e.plainPktCount++
	e.UpdateTimestamp()
	e.cnts.Inc("plain packets added")

	if e.isFull() {
		e.cnts.Inc("generations")
		e.engine.DispatchEvent(eventFull)
		return nil
	}

	e1, e2, e3 := e.Estimates()
	if float64(e.plainPktCount) > e.cfg.Threshold*float64(e.cfg.G) && e.Count() > 0 {
		e.budget += budget.RecoderCredit(e1, e2, e3)
		e.sendEncodedCredit()
	}
	return nil
}

func (e *Encoder) isFull() bool {
	return e.plainPktCount >= e.cfg.G
}

// IsValid reports whether this encoder still accepts plain packets.
func (e *Encoder) IsValid() bool {
	e.Lock()
	defer e.Unlock()
	return !e.isFull()
}

// AddAckPacket signals that the next hop has acknowledged this
// generation.
func (e *Encoder) AddAckPacket() {
	e.Lock()
	defer e.Unlock()

	if e.engine.CurrState() == stateDone {
		return
	}
	if e.plainPktCount == e.cfg.G {
		e.encNotify()
	}
	e.engine.DispatchEvent(eventAcked)
	e.cnts.Inc("ack packets added")
}

// AddReqPacket handles a retransmission request: rank is the highest
// rank the requester has seen, seq deduplicates repeated requests for
// the same loss event.
func (e *Encoder) AddReqPacket(rank, seq uint16) {
	_, _, e3 := e.Estimates()
	credits := budget.SourceBudget(uint64(int(e.currentRank())-int(rank)), protocol.One-1, protocol.One-1, e3, e.cfg.Overshoot)

	e.Lock()
	defer e.Unlock()

	if e.lastReqSeq == seq || int(rank) == e.currentRank() {
		return
	}

	e.budget = credits
	if e.encPktCount >= int(e.maxBudget) {
		e.maxBudget += credits
	}
	e.ptype = protocol.RedPacket

	e.sendEncodedCredit()
	e.UpdateTimestamp()
	e.lastReqSeq = seq
	e.cnts.Inc("request packets added")
}

func (e *Encoder) currentRank() int {
	if e.isFull() {
		return e.cfg.G
	}
	return e.plainPktCount
}

// Process runs one housekeeping pass: times out a generation stuck
// blocked on a full symbol store, or one stuck waiting for an ACK.
func (e *Encoder) Process() bool {
	e.Lock()
	defer e.Unlock()

	if e.engine.CurrState() == stateFull {
		if e.IsTimedOutAfter(e.cfg.Timeout * 5) {
			e.cnts.Inc("blocked timeouts")
			e.encNotify()
			return true
		}
		return false
	}

	if e.engine.CurrState() == stateDone {
		return true
	}

	if e.IsTimedOut() {
		e.engine.DispatchEvent(eventTimeout)
		e.cnts.Inc("timeouts")
		if e.isFull() {
			e.encNotify()
		}
	}
	return false
}

// Close stops the driver goroutine; call once this encoder has been
// evicted from its Map.
func (e *Encoder) Close() {
	e.cancel()
	e.engine.Stop()
}

func (e *Encoder) encWait() {
	_ = e.sender.Block(e.cfg.Ifindex)
	_ = e.Wait(e.ctx)
	e.engine.DispatchEvent(eventStart)
	e.UpdateTimestamp()
}

func (e *Encoder) encNotify() {
	_ = e.sender.Unblock(e.cfg.Ifindex)
	e.Notify(1)
}

func (e *Encoder) sendEncodedCredit() {
	for e.budget >= 1 && e.encPktCount < int(e.maxBudget) {
		e.sendEncodedPacket()
	}
}

func (e *Encoder) sendEncodedBudget() {
	e.Lock()
	for e.encPktCount < int(e.maxBudget) {
		e.sendEncodedPacket()
	}
	e.UpdateTimestamp()
	e.Unlock()

	e.engine.DispatchEvent(eventBudgetSent)
}

func (e *Encoder) sendEncodedPacket() {
	var coeffs, coded []byte
	if e.cfg.Systematic && e.encPktCount < e.cfg.G {
		coeffs = make([]byte, e.cfg.G)
		coeffs[e.encPktCount] = 1
		coded = e.symbols[e.encPktCount]
	} else {
		coeffs = rlnccoding.RandomCoeffs(e.cfg.G, e.rng)
		coded = rlnccoding.Combine(e.symbols, coeffs, e.cfg.SymbolSize)
	}
	payload := append(append([]byte(nil), coeffs...), coded...)

	_ = e.sender.SendFrame(e.cfg.Ifindex, e.Key(), e.ptype, 0, 0, payload)
	e.encPktCount++
	e.cnts.Inc("encoded sent")
	e.budget--
	if e.Log != nil {
		e.Log.IncTx(e.ptype)
	}
}
