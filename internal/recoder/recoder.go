// Package recoder implements the intermediate-relay coding role: it
// recodes coded symbols it overhears towards the next hop, forwarding
// systematic symbols verbatim and random linear combinations of
// whatever it has decoded towards otherwise. Grounded on the reference
// design's full_rlnc_recoder_deep (recoder.hpp/recoder.cpp).
package recoder

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/batmesh/rlncd/internal/budget"
	"github.com/batmesh/rlncd/internal/coder"
	"github.com/batmesh/rlncd/internal/counterstore"
	"github.com/batmesh/rlncd/internal/fsm"
	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/rlnccoding"
	"github.com/batmesh/rlncd/internal/telemetry"
)

// ErrPayloadTooLong is returned when a coded payload does not match
// g+symbol_size.
var ErrPayloadTooLong = errors.New("recoder: payload too long")

type state uint8

const (
	stateInvalid state = fsm.StateInvalid
	stateWait    state = fsm.StateWait
	stateDone    state = fsm.StateDone
)

const (
	stateSendCredit state = fsm.FirstFreeState + iota
	stateSendBudget
	stateWaitAck
	numStates
)

type event uint8

const (
	eventTimeout event = iota
	eventRx
	eventComplete
	eventAcked
	eventMaxed
	eventCreditSent
	eventBudgetSent
	numEvents
)

// Config carries the per-flow knobs a recoder needs.
type Config struct {
	G          int
	SymbolSize int
	Ifindex    uint32
	Overshoot  float64
	Timeout    time.Duration
}

// Recoder is one (src,dst,block) generation's relay-coding state.
type Recoder struct {
	coder.Skeleton
	engine fsm.Engine[state, event]

	cfg    Config
	sender nlproto.Sender
	db     *linkdb.DB
	cnts   *counterstore.Group
	rng    *rand.Rand

	gen          *rlnccoding.Generation
	recPktCount  int
	budget       float64
	maxBudget    float64
}

// New constructs a Recoder for key and starts its driver goroutine.
// Callers must call Init before feeding it packets.
func New(key protocol.Key, cfg Config, sender nlproto.Sender, db *linkdb.DB, log *telemetry.Logger, cnts *counterstore.Store) *Recoder {
	r := &Recoder{
		Skeleton: coder.NewSkeleton(key),
		cfg:      cfg,
		sender:   sender,
		db:       db,
		cnts:     counterstore.NewGroup(cnts, "recoder"),
		rng:      rand.New(rand.NewSource(int64(key.Block)<<32 ^ int64(key.Src[5]))),
		gen:      rlnccoding.NewGeneration(cfg.G, cfg.SymbolSize),
	}
	r.Log = log

	r.engine.Init(int(numStates), int(numEvents))
	r.engine.AddState(stateSendCredit, r.sendRecCredits)
	r.engine.AddState(stateSendBudget, r.sendRecBudget)
	r.engine.AddState(stateWaitAck, r.sendRecRedundant)

	r.engine.AddTrans(stateWait, eventRx, stateSendCredit)
	r.engine.AddTrans(stateWait, eventComplete, stateSendBudget)
	r.engine.AddTrans(stateWait, eventTimeout, stateDone)
	r.engine.AddTrans(stateWait, eventAcked, stateDone)
	r.engine.AddTrans(stateSendCredit, eventCreditSent, stateWait)
	r.engine.AddTrans(stateSendCredit, eventAcked, stateDone)
	r.engine.AddTrans(stateSendCredit, eventMaxed, stateWaitAck)
	r.engine.AddTrans(stateSendCredit, eventRx, stateSendCredit)
	r.engine.AddTrans(stateSendCredit, eventComplete, stateSendBudget)
	r.engine.AddTrans(stateSendBudget, eventAcked, stateDone)
	r.engine.AddTrans(stateSendBudget, eventBudgetSent, stateWaitAck)
	r.engine.AddTrans(stateWaitAck, eventAcked, stateDone)
	r.engine.AddTrans(stateWaitAck, eventTimeout, stateDone)
	r.engine.AddTrans(stateWaitAck, eventRx, stateWaitAck)
	r.engine.AddTrans(stateWaitAck, eventComplete, stateWaitAck)
	r.engine.AddTrans(stateDone, eventAcked, stateDone)
	r.engine.AddTrans(stateDone, eventRx, stateDone)

	go r.engine.Run()
	return r
}

// Init resolves this generation's max budget from the link DB's best
// one-hop candidate towards the destination, falling back to a flat
// g*overshoot budget when no one-hop is known or an estimate is
// missing. Mirrors recoder.cpp's init().
func (r *Recoder) Init() {
	r.Lock()
	defer r.Unlock()

	r.engine.SetState(stateWait)
	r.InitTimeout(r.cfg.Timeout)
	r.budget = 0
	r.recPktCount = 0

	_ = r.sender.ReadOneHops(r.cfg.Ifindex, r.Key().Dst)
	best, ok := r.db.BestOneHop(r.Key().Dst)
	if !ok || best.TQTotal == 0 {
		r.maxBudget = float64(r.cfg.G) * r.cfg.Overshoot
		r.SetEstimates(protocol.One, protocol.One, protocol.One)
		return
	}

	_ = r.sender.ReadLink(r.cfg.Ifindex, best.Addr)
	_ = r.sender.ReadLink(r.cfg.Ifindex, r.Key().Dst)

	tqBest, _ := r.db.Link(best.Addr)
	tqDst, _ := r.db.Link(r.Key().Dst)

	e1 := protocol.One - tqBest
	scaled := float64(best.TQSecondHop) * 4.5
	if scaled > float64(protocol.One) {
		scaled = float64(protocol.One)
	}
	e2 := protocol.One - uint8(scaled)
	e3 := protocol.One - tqDst

	if e1 == protocol.One || e2 == protocol.One || e3 == protocol.One {
		r.maxBudget = float64(r.cfg.G) * r.cfg.Overshoot
		r.SetEstimates(e1, e2, e3)
		return
	}

	r.SetEstimates(e1, e2, e3)
	r.maxBudget = float64(budget.RecoderBudget(uint64(r.cfg.G), e1, e2, e3))
}

// Close stops the driver goroutine; call once this recoder has been
// evicted from its Map.
func (r *Recoder) Close() {
	r.engine.Stop()
}

// IsValid reports whether this recoder is still accumulating towards a
// generation (i.e. has not progressed beyond STATE_WAIT).
func (r *Recoder) IsValid() bool {
	return r.engine.CurrState() == stateWait
}

func isUnitVector(coeffs []byte) bool {
	nonZero := 0
	for _, c := range coeffs {
		if c == 0 {
			continue
		}
		nonZero++
		if c != 1 || nonZero > 1 {
			return false
		}
	}
	return nonZero == 1
}

func (r *Recoder) sendAckPacket() {
	_ = r.sender.SendFrame(r.cfg.Ifindex, r.Key(), protocol.AckPacket, 0, 0, nil)
	r.cnts.Inc("ack sent")
}

func (r *Recoder) sendRecPacket() {
	coeffs, payload := r.gen.Recode(r.rng)
	wire := append(append([]byte(nil), coeffs...), payload...)
	_ = r.sender.SendFrame(r.cfg.Ifindex, r.Key(), protocol.RecPacket, 0, 0, wire)
	r.recPktCount++
	r.cnts.Inc("forward packets written")
}

func (r *Recoder) sendSystematicPacket(payload []byte) {
	_ = r.sender.SendFrame(r.cfg.Ifindex, r.Key(), protocol.RecPacket, 0, 0, payload)
	r.recPktCount++
	r.cnts.Inc("systematic packets written")
}

// updateBudget folds in one more round of recoder credit, matching the
// reference design's literal behavior: when any loss estimate is
// missing, the bare +2 fallback is what send_rec_credits' caller sees,
// but m_budget itself is left untouched, so a recoder with a missing
// estimate never accrues proactive credit and instead only forwards
// once a generation completes (the STATE_SEND_BUDGET path).
func (r *Recoder) updateBudget() float64 {
	e1, e2, e3 := r.Estimates()
	if e1 == protocol.One || e2 == protocol.One || e3 == protocol.One {
		return r.budget + 2
	}
	r.budget += budget.RecoderCredit(e1, e2, e3)
	return r.budget
}

func (r *Recoder) sendRecCredits() {
	r.updateBudget()

	if r.budget <= 0 {
		r.engine.DispatchEvent(eventCreditSent)
		return
	}

	for ; r.budget > 0 && r.recPktCount <= int(r.maxBudget); r.budget-- {
		r.Lock()
		r.sendRecPacket()
		r.Unlock()
	}

	if r.recPktCount >= int(r.maxBudget) {
		r.engine.DispatchEvent(eventMaxed)
	} else {
		r.engine.DispatchEvent(eventCreditSent)
	}
}

// sendRecBudget re-checks the engine's pending next state on every
// iteration so a concurrent ACK (which transitions next away from
// STATE_SEND_BUDGET) cancels the rest of the burst instead of running
// to completion regardless.
func (r *Recoder) sendRecBudget() {
	for r.recPktCount < int(r.maxBudget) && r.engine.NextState() == stateSendBudget {
		r.Lock()
		r.sendRecPacket()
		r.Unlock()
	}

	r.engine.DispatchEvent(eventBudgetSent)
	r.cnts.Inc("forward generations written")
}

func (r *Recoder) sendRecRedundant() {
	r.Lock()
	r.sendRecPacket()
	r.Unlock()
}

// AddEncPacket folds one coded symbol into this relay's decoding state
// and immediately forwards: verbatim if the incoming symbol was
// systematic, else as a freshly recoded combination once the budget
// stage starts producing output.
func (r *Recoder) AddEncPacket(payload []byte) error {
	want := r.cfg.G + r.cfg.SymbolSize
	if len(payload) != want {
		return fmt.Errorf("%w: got %d want %d", ErrPayloadTooLong, len(payload), want)
	}

	r.Lock()
	defer r.Unlock()

	if r.gen.Full() {
		r.sendAckPacket()
		return nil
	}
	if r.engine.CurrState() == stateDone {
		return nil
	}

	coeffs := payload[:r.cfg.G]
	coded := payload[r.cfg.G:]

	rankBefore := r.gen.Rank()
	systematic := isUnitVector(coeffs)

	if _, err := r.gen.AddCoded(coeffs, coded); err != nil {
		return fmt.Errorf("recoder: add coded symbol: %w", err)
	}
	if r.gen.Rank() == rankBefore {
		r.cnts.Inc("non-innovative recoded packets")
	}

	r.UpdateTimestamp()

	if systematic {
		r.cnts.Inc("systematic packets added")
		r.sendSystematicPacket(payload)
		r.budget--
	} else {
		r.cnts.Inc("encoded packets added")
	}

	if r.gen.Full() {
		r.sendAckPacket()
		r.engine.DispatchEvent(eventComplete)
	} else {
		r.engine.DispatchEvent(eventRx)
	}

	return nil
}

// AddAckPacket signals that the next hop has acknowledged this
// generation, stopping any further redundant sending.
func (r *Recoder) AddAckPacket() {
	r.engine.DispatchEvent(eventAcked)
}

// Process runs one housekeeping pass: times out a generation that has
// not heard anything in a while.
func (r *Recoder) Process() bool {
	if r.engine.CurrState() == stateDone {
		return true
	}
	if r.IsTimedOut() {
		r.engine.DispatchEvent(eventTimeout)
		return false
	}
	return false
}
