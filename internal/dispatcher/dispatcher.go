// Package dispatcher routes decoded netlink events to the coding role
// that owns them: a FRAME event reaches the right encoder/decoder/
// recoder/helper generation, and GET_LINK/GET_ONE_HOP/GET_RELAYS
// replies update the shared neighborhood database those roles consult
// at Init. Grounded on the reference design's fox.cpp (handle_packet,
// house_keeping_thread).
package dispatcher

import (
	"errors"
	"fmt"

	"github.com/batmesh/rlncd/internal/coder"
	"github.com/batmesh/rlncd/internal/decoder"
	"github.com/batmesh/rlncd/internal/encoder"
	"github.com/batmesh/rlncd/internal/helper"
	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/recoder"
	"github.com/batmesh/rlncd/internal/telemetry"
)

// ErrUnknownType is returned when a FRAME event carries a packet type
// this dispatcher does not recognize.
var ErrUnknownType = errors.New("dispatcher: unknown packet type")

// Dispatcher owns the four per-role registries and the neighborhood
// database every role's Init consults, and turns one inbound
// nlproto.Event into the right call against the right registry.
type Dispatcher struct {
	db *linkdb.DB

	encMap *coder.Map[*encoder.Encoder]
	decMap *coder.Map[*decoder.Decoder]
	recMap *coder.Map[*recoder.Recoder]
	hlpMap *coder.Map[*helper.Helper]

	log *telemetry.Logger

	benchmark bool
	sender    nlproto.Sender
	ifindex   uint32
}

// New builds a Dispatcher whose four registries construct coders with
// the given factories; each factory is expected to call New then Init
// for its role and return the ready coder, matching how coder_map's
// constructor paired a generation_size/symbol_size pair with a fresh
// instance on demand in the reference design.
func New(
	db *linkdb.DB,
	log *telemetry.Logger,
	benchmark bool,
	sender nlproto.Sender,
	ifindex uint32,
	encFactory func(protocol.Key) *encoder.Encoder,
	decFactory func(protocol.Key) *decoder.Decoder,
	recFactory func(protocol.Key) *recoder.Recoder,
	hlpFactory func(protocol.Key) *helper.Helper,
) *Dispatcher {
	return &Dispatcher{
		db:        db,
		log:       log,
		benchmark: benchmark,
		sender:    sender,
		ifindex:   ifindex,
		encMap:    coder.NewMap(encFactory),
		decMap:    coder.NewMap(decFactory),
		recMap:    coder.NewMap(recFactory),
		hlpMap:    coder.NewMap(hlpFactory),
	}
}

// EncMap, DecMap, RecMap, and HlpMap expose the underlying registries so
// a housekeeping loop can run ProcessCoders on each.
func (d *Dispatcher) EncMap() *coder.Map[*encoder.Encoder] { return d.encMap }
func (d *Dispatcher) DecMap() *coder.Map[*decoder.Decoder] { return d.decMap }
func (d *Dispatcher) RecMap() *coder.Map[*recoder.Recoder] { return d.recMap }
func (d *Dispatcher) HlpMap() *coder.Map[*helper.Helper]   { return d.hlpMap }

// Dispatch handles one decoded event. FRAME events are routed to the
// owning role by packet type; GET_LINK/GET_ONE_HOP/GET_RELAYS events
// update the neighborhood database instead of reaching a coder at all.
func (d *Dispatcher) Dispatch(ev nlproto.Event) error {
	switch ev.Command {
	case nlproto.CmdFrame:
		return d.handleFrame(ev)
	case nlproto.CmdGetLink:
		d.db.AddLink(ev.Addr, ev.TQ)
		return nil
	case nlproto.CmdGetOneHop:
		d.db.ClearOneHops(ev.Addr)
		for _, hm := range ev.Helpers {
			d.db.AddOneHop(ev.Addr, linkdb.HelperInfo(hm))
		}
		return nil
	case nlproto.CmdGetRelays:
		path := protocol.Key{Src: ev.Src, Dst: ev.Dst}.Path()
		d.db.ClearHelpers(path)
		for _, hm := range ev.Helpers {
			d.db.AddHelper(path, linkdb.HelperInfo(hm))
		}
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) handleFrame(ev nlproto.Event) error {
	key := protocol.Key{Src: ev.Src, Dst: ev.Dst, Block: ev.Block}

	// --benchmark bypasses RLNC coding entirely: every received frame,
	// whatever type it arrived as, is echoed straight back as a plain
	// packet instead of reaching any coder, for raw-throughput testing.
	if d.benchmark {
		return d.sender.SendFrame(d.ifindex, key, protocol.PlainPacket, 0, 0, ev.Payload)
	}

	switch ev.Type {
	case protocol.PlainPacket:
		e := d.encMap.GetLatestCoder(key.Path())
		return e.AddPlainPacket(ev.Payload)

	case protocol.EncPacket, protocol.RedPacket:
		// The reference dispatcher's switch has no RED_PACKET case at
		// all, even though encoder.cpp tags retransmitted packets with
		// it: a decoder's add_enc_packet doesn't care why a coded
		// symbol arrived, only that it did, so both types reach the
		// same decoder here rather than silently falling through to
		// the unknown-type branch.
		dec, ok := d.decMap.GetCoder(key)
		if !ok {
			return nil
		}
		return dec.AddEncPacket(ev.Payload)

	case protocol.RecPacket:
		rec, ok := d.recMap.GetCoder(key)
		if !ok {
			return nil
		}
		return rec.AddEncPacket(ev.Payload)

	case protocol.HlpPacket:
		hlp, ok := d.hlpMap.GetCoder(key)
		if !ok {
			return nil
		}
		return hlp.AddEncPacket(ev.Payload)

	case protocol.AckPacket:
		if e, ok := d.encMap.FindCoder(key); ok {
			e.AddAckPacket()
			return nil
		}
		if r, ok := d.recMap.FindCoder(key); ok {
			r.AddAckPacket()
			return nil
		}
		if h, ok := d.hlpMap.FindCoder(key); ok {
			h.AddAckPacket()
			return nil
		}
		return nil

	case protocol.ReqPacket:
		if e, ok := d.encMap.FindCoder(key); ok {
			e.AddReqPacket(ev.Rank, ev.Seq)
			return nil
		}
		if h, ok := d.hlpMap.FindCoder(key); ok {
			h.AddReqPacket(ev.Rank, ev.Seq)
			return nil
		}
		return nil

	default:
		if d.log != nil {
			d.log.Printf("dispatcher: unknown packet type %d", ev.Type)
		}
		return fmt.Errorf("%w: %d", ErrUnknownType, ev.Type)
	}
}

// ProcessAll runs one housekeeping pass over every registry, matching
// house_keeping_thread's per-tick sweep across all four coder_maps.
func (d *Dispatcher) ProcessAll() {
	d.encMap.ProcessCoders()
	d.decMap.ProcessCoders()
	d.recMap.ProcessCoders()
	d.hlpMap.ProcessCoders()
}
