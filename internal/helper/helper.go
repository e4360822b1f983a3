// Package helper implements the one-hop-assist coding role: unlike a
// recoder, a helper never forwards on the primary path — it overhears
// an encoder's traffic addressed to some destination and, once its own
// rank over that traffic crosses a threshold, starts emitting recoded
// packets to backstop a lossy one-hop link. Grounded on the reference
// design's full_rlnc_helper_deep (helper.hpp/helper.cpp).
package helper

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
var ErrPayloadTooLong = errors.New("helper: payload too long")

type state uint8

const (
	stateInvalid state = fsm.StateInvalid
	stateWait    state = fsm.StateWait
	stateDone    state = fsm.StateDone
)

// numStates: a helper adds no states of its own beyond the base three —
// sending happens as a direct call from add_enc_packet, never as its
// own FSM state.
const numStates = fsm.FirstFreeState

type event uint8

const (
	eventAcked event = iota
	eventBudgetSent
	eventTimeout
	numEvents
)

// Config carries the per-flow knobs a helper needs.
type Config struct {
	G          int
	SymbolSize int
	Ifindex    uint32

	Overshoot       float64
	ThresholdFactor float64
	Timeout         time.Duration

	LinkDerivedErrors         bool
	FixedE1, FixedE2, FixedE3 uint8
}

// Helper is one (src,dst,block) generation's one-hop-assist state.
type Helper struct {
	coder.Skeleton
	engine fsm.Engine[state, event]

	cfg    Config
	sender nlproto.Sender
	db     *linkdb.DB
	cnts   *counterstore.Group
	rng    *rand.Rand

	gen          *rlnccoding.Generation
	hlpPktCount  int
	encPktCount  int
	maxBudget    float64
	threshold    float64
	credit       float64
	budget       float64
}

// New constructs a Helper for key and starts its driver goroutine.
// Callers must call Init before feeding it packets.
func New(key protocol.Key, cfg Config, sender nlproto.Sender, db *linkdb.DB, log *telemetry.Logger, cnts *counterstore.Store) *Helper {
	h := &Helper{
		Skeleton: coder.NewSkeleton(key),
		cfg:      cfg,
		sender:   sender,
		db:       db,
		cnts:     counterstore.NewGroup(cnts, "helper"),
		rng:      rand.New(rand.NewSource(int64(key.Block)<<32 ^ int64(key.Src[5]))),
		gen:      rlnccoding.NewGeneration(cfg.G, cfg.SymbolSize),
	}
	h.Log = log

	h.engine.Init(int(numStates), int(numEvents))
	h.engine.AddTrans(stateWait, eventTimeout, stateDone)
	h.engine.AddTrans(stateWait, eventAcked, stateDone)
	h.engine.AddTrans(stateWait, eventBudgetSent, stateDone)
	h.engine.AddTrans(stateDone, eventAcked, stateDone)
	h.engine.AddTrans(stateDone, eventBudgetSent, stateDone)

	go h.engine.Run()
	return h
}

// Init resolves e1/e2/e3 (fixed, or link-derived from the helper/link
// tables when LinkDerivedErrors is set — the reference design left this
// computation commented out and hardcoded the fixed flags instead; see
// DESIGN.md) and this generation's max budget, rank threshold, and
// per-packet credit. Mirrors helper.cpp's init().
func (h *Helper) Init() {
	h.Lock()
	defer h.Unlock()

	h.engine.SetState(stateWait)
	h.InitTimeout(h.cfg.Timeout)
	h.hlpPktCount = 0
	h.encPktCount = 0
	h.budget = 0

	_ = h.sender.ReadRelays(h.cfg.Ifindex, h.Key())
	_ = h.sender.ReadLink(h.cfg.Ifindex, h.Key().Src)
	_ = h.sender.ReadLink(h.cfg.Ifindex, h.Key().Dst)

	e1, e2, e3 := h.cfg.FixedE1, h.cfg.FixedE2, h.cfg.FixedE3
	if h.cfg.LinkDerivedErrors {
		if tq, ok := h.db.Link(h.Key().Src); ok {
			e1 = protocol.One - tq
		}
		if tq, ok := h.db.Link(h.Key().Dst); ok {
			e2 = protocol.One - tq
		}
		if helpers := h.db.Helpers(h.Key().Path()); len(helpers) > 0 {
			best := helpers[0]
			for _, cand := range helpers[1:] {
				if cand.TQTotal > best.TQTotal {
					best = cand
				}
			}
			e3 = protocol.One - best.TQTotal
		}
	}
	h.SetEstimates(e1, e2, e3)

	h.maxBudget = float64(budget.HelperMaxBudget(uint64(h.cfg.G), e1, e2, e3, h.cfg.Overshoot))
	h.threshold = float64(budget.HelperThreshold(uint64(h.cfg.G), e1, e2, e3, h.cfg.ThresholdFactor))
	h.credit = budget.HelperCredit(e1, e2, e3)

	if h.Log != nil && h.Log.IsDebugging() {
		h.Log.Debugf("helper %d: initialized %s (threshold %.1f, budget %.1f)", h.Num(), h.Key(), h.threshold, h.maxBudget)
	}
}

// Close stops the driver goroutine; call once this helper has been
// evicted from its Map.
func (h *Helper) Close() {
	h.engine.Stop()
}

// IsValid reports whether this helper is still open for more packets.
func (h *Helper) IsValid() bool {
	return h.engine.CurrState() == stateWait
}

func (h *Helper) sendHlpPacket() {
	coeffs, payload := h.gen.Recode(h.rng)
	wire := append(append([]byte(nil), coeffs...), payload...)
	_ = h.sender.SendFrame(h.cfg.Ifindex, h.Key(), protocol.HlpPacket, 0, 0, wire)
	h.hlpPktCount++
	h.cnts.Inc("helper packets")
}

// sendHlpCredits is called directly from AddEncPacket, already holding
// the operational lock — unlike a recoder's budget burst, a helper
// never runs this as its own driven FSM state.
func (h *Helper) sendHlpCredits() {
	h.budget += h.credit

	if h.budget <= 0 {
		return
	}

	for ; h.budget >= 1 && h.hlpPktCount <= int(h.maxBudget); h.budget-- {
		h.sendHlpPacket()
	}
}

// AddEncPacket folds one overheard coded symbol into this helper's
// decoding state and starts emitting recoded packets once rank crosses
// the configured threshold.
func (h *Helper) AddEncPacket(payload []byte) error {
	want := h.cfg.G + h.cfg.SymbolSize
	if len(payload) != want {
		return fmt.Errorf("%w: got %d want %d", ErrPayloadTooLong, len(payload), want)
	}

	h.Lock()
	defer h.Unlock()

	if h.engine.CurrState() == stateDone {
		return nil
	}

	coeffs := payload[:h.cfg.G]
	coded := payload[h.cfg.G:]

	rankBefore := h.gen.Rank()
	if _, err := h.gen.AddCoded(coeffs, coded); err != nil {
		return fmt.Errorf("helper: add coded symbol: %w", err)
	}
	h.UpdateTimestamp()
	h.encPktCount++
	h.cnts.Inc("encoded received")

	if h.gen.Rank() == rankBefore {
		return nil
	}

	if float64(h.gen.Rank()) >= h.threshold {
		h.sendHlpCredits()
	}

	if h.hlpPktCount >= int(h.maxBudget) {
		h.engine.DispatchEvent(eventBudgetSent)
	}
	return nil
}

// AddAckPacket signals that the one-hop link has been acked, stopping
// any further helper packets.
func (h *Helper) AddAckPacket() {
	h.engine.DispatchEvent(eventAcked)
	h.cnts.Inc("acks received")
}

// AddReqPacket is a no-op for a helper, matching the reference design
// (helper.cpp's add_req_packet has an empty body: requests are handled
// by the encoder/recoder on the primary path, not by one-hop helpers).
func (h *Helper) AddReqPacket(rank, seq uint16) {}

// Process runs one housekeeping pass: times out a helper that has not
// heard anything in a while.
func (h *Helper) Process() bool {
	if h.engine.CurrState() == stateDone {
		return true
	}
	if h.IsTimedOut() {
		h.cnts.Inc("timeouts")
		h.engine.DispatchEvent(eventTimeout)
	}
	return false
}
