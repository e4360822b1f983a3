package dispatcher

import (
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/batmesh/rlncd/internal/decoder"
	"github.com/batmesh/rlncd/internal/encoder"
	"github.com/batmesh/rlncd/internal/helper"
	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto"
	"github.com/batmesh/rlncd/internal/nlproto/nlprotomock"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/recoder"
	"github.com/batmesh/rlncd/internal/semaphore"
)

func testKey() protocol.Key {
	return protocol.Key{
		Src:   protocol.Addr{1, 1, 1, 1, 1, 1},
		Dst:   protocol.Addr{2, 2, 2, 2, 2, 2},
		Block: 0,
	}
}

func unitCoeffs(g, i int) []byte {
	c := make([]byte, g)
	c[i] = 1
	return c
}

var _ = Describe("Dispatcher", func() {
	var (
		ctrl   *gomock.Controller
		sender *nlprotomock.MockSender
		db     *linkdb.DB
		disp   *Dispatcher
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		sender = nlprotomock.NewMockSender(ctrl)
		db = linkdb.New(4)

		sender.EXPECT().ReadOneHops(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().ReadLink(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().ReadRelays(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().Block(gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().Unblock(gomock.Any()).Return(nil).AnyTimes()

		sem := semaphore.New(0)

		disp = New(db, nil, false, sender, 1,
			func(key protocol.Key) *encoder.Encoder {
				e := encoder.New(key, encoder.Config{
					G: 4, SymbolSize: 16, Ifindex: 1,
					Overshoot: 1.0, Systematic: true, Timeout: time.Second,
					Threshold: 2.0, FixedE1: 10, FixedE2: 10, FixedE3: 10,
				}, sender, db, nil, nil, sem)
				e.Init()
				return e
			},
			func(key protocol.Key) *decoder.Decoder {
				d := decoder.New(key, decoder.Config{
					G: 2, SymbolSize: 16, Ifindex: 1,
					Timeout: time.Second, PacketTimeout: time.Second, AckInterval: 3, FixedE3: 10,
				}, sender, nil, nil)
				d.Init()
				return d
			},
			func(key protocol.Key) *recoder.Recoder {
				r := recoder.New(key, recoder.Config{
					G: 2, SymbolSize: 16, Ifindex: 1,
					Overshoot: 1.0, Timeout: time.Second,
				}, sender, db, nil, nil)
				r.Init()
				return r
			},
			func(key protocol.Key) *helper.Helper {
				h := helper.New(key, helper.Config{
					G: 2, SymbolSize: 16, Ifindex: 1,
					Overshoot: 1.0, ThresholdFactor: 1.0, Timeout: time.Second,
					FixedE1: 10, FixedE2: 10, FixedE3: 10,
				}, sender, db, nil, nil)
				h.Init()
				return h
			},
		)
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("routes a plain packet to the encoder owning the latest block", func() {
		err := disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.PlainPacket,
			Src:     testKey().Src,
			Dst:     testKey().Dst,
			Payload: []byte("hello"),
		})
		Expect(err).NotTo(HaveOccurred())

		e, ok := disp.EncMap().FindCoder(testKey().WithBlock(1))
		Expect(ok).To(BeTrue())
		Expect(e.IsValid()).To(BeTrue())
	})

	It("treats a redundant packet the same as an encoded packet for the decoder", func() {
		payload := append(unitCoeffs(2, 0), make([]byte, 16)...)
		err := disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.EncPacket,
			Src:     testKey().Src,
			Dst:     testKey().Dst,
			Payload: payload,
		})
		Expect(err).NotTo(HaveOccurred())

		redundant := append(unitCoeffs(2, 0), make([]byte, 16)...)
		err = disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.RedPacket,
			Src:     testKey().Src,
			Dst:     testKey().Dst,
			Payload: redundant,
		})
		Expect(err).NotTo(HaveOccurred())

		_, ok := disp.DecMap().FindCoder(testKey())
		Expect(ok).To(BeTrue())
	})

	It("routes an ack packet to whichever role already owns the key", func() {
		payload := append(unitCoeffs(2, 0), make([]byte, 16)...)
		Expect(disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.RecPacket,
			Src:     testKey().Src,
			Dst:     testKey().Dst,
			Payload: payload,
		})).To(Succeed())

		ack := nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.AckPacket,
			Src:     testKey().Src,
			Dst:     testKey().Dst,
		}
		Expect(disp.Dispatch(ack)).To(Succeed())

		r, ok := disp.RecMap().FindCoder(testKey())
		Expect(ok).To(BeTrue())
		Eventually(func() bool {
			// The engine drops an event that arrives while the recoder's
			// RX transition is still pending, so the ACK is repeated
			// until the recoder has taken it.
			if r.IsValid() {
				Expect(disp.Dispatch(ack)).To(Succeed())
			}
			return r.IsValid() == false
		}, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	It("updates the link database from a GET_LINK event", func() {
		addr := protocol.Addr{9, 9, 9, 9, 9, 9}
		Expect(disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdGetLink,
			Addr:    addr,
			TQ:      200,
		})).To(Succeed())

		tq, ok := db.Link(addr)
		Expect(ok).To(BeTrue())
		Expect(tq).To(Equal(uint8(200)))
	})

	It("updates one-hop candidates from a GET_ONE_HOP event", func() {
		dst := testKey().Dst
		relay := protocol.Addr{3, 3, 3, 3, 3, 3}
		Expect(disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdGetOneHop,
			Addr:    dst,
			Helpers: []nlproto.HelperMsg{{Addr: relay, TQTotal: 180, TQSecondHop: 40}},
		})).To(Succeed())

		best, ok := db.BestOneHop(dst)
		Expect(ok).To(BeTrue())
		Expect(best.Addr).To(Equal(relay))
	})

	It("rejects an unrecognized frame type", func() {
		err := disp.Dispatch(nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.PacketType(200),
			Src:     testKey().Src,
			Dst:     testKey().Dst,
		})
		Expect(err).To(HaveOccurred())
	})

	It("echoes every frame back as a plain packet in benchmark mode, bypassing all coders", func() {
		bsender := nlprotomock.NewMockSender(ctrl)
		bdisp := New(db, nil, true, bsender, 7,
			func(key protocol.Key) *encoder.Encoder { panic("benchmark mode must not construct an encoder") },
			func(key protocol.Key) *decoder.Decoder { panic("benchmark mode must not construct a decoder") },
			func(key protocol.Key) *recoder.Recoder { panic("benchmark mode must not construct a recoder") },
			func(key protocol.Key) *helper.Helper { panic("benchmark mode must not construct a helper") },
		)

		bsender.EXPECT().SendFrame(uint32(7), testKey(), protocol.PlainPacket, uint16(0), uint16(0), []byte("raw")).Return(nil)

		Expect(bdisp.Dispatch(nlproto.Event{
			Command: nlproto.CmdFrame,
			Type:    protocol.EncPacket,
			Src:     testKey().Src,
			Dst:     testKey().Dst,
			Payload: []byte("raw"),
		})).To(Succeed())
	})
})
