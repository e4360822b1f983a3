package decoder

import (
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/batmesh/rlncd/internal/nlproto/nlprotomock"
	"github.com/batmesh/rlncd/internal/protocol"
)

func testKey() protocol.Key {
	return protocol.Key{
		Src:   protocol.Addr{1, 2, 3, 4, 5, 6},
		Dst:   protocol.Addr{6, 5, 4, 3, 2, 1},
		Block: 9,
	}
}

func testConfig(g int) Config {
	return Config{
		G:             g,
		SymbolSize:    32,
		Ifindex:       3,
		Timeout:       50 * time.Millisecond,
		PacketTimeout: 10 * time.Millisecond,
		AckInterval:   2,
		FixedE3:       10,
	}
}

func symbolBuffer(data []byte, symbolSize int) []byte {
	buf := make([]byte, symbolSize)
	buf[0] = byte(len(data) >> 8)
	buf[1] = byte(len(data))
	copy(buf[protocol.LenFieldSize:], data)
	return buf
}

func unitCoeffs(g, i int) []byte {
	c := make([]byte, g)
	c[i] = 1
	return c
}

func systematicPayload(i, g, symbolSize int, data []byte) []byte {
	return append(unitCoeffs(g, i), symbolBuffer(data, symbolSize)...)
}

var _ = Describe("Decoder", func() {
	var (
		ctrl   *gomock.Controller
		sender *nlprotomock.MockSender
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		sender = nlprotomock.NewMockSender(ctrl)
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("releases each systematic symbol as soon as it resolves, then acks once full rank", func() {
		cfg := testConfig(2)

		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.DecPacket, uint16(0), uint16(0), []byte("first")).Return(nil)
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.DecPacket, uint16(0), uint16(0), []byte("second")).Return(nil)
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.AckPacket, uint16(0), uint16(0), gomock.Nil()).Return(nil).AnyTimes()

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		Expect(d.AddEncPacket(systematicPayload(0, cfg.G, cfg.SymbolSize, []byte("first")))).To(Succeed())
		Expect(d.AddEncPacket(systematicPayload(1, cfg.G, cfg.SymbolSize, []byte("second")))).To(Succeed())

		Eventually(func() bool {
			return d.IsValid() == false
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		d.Close()
	})

	It("rejects a packet with the wrong wire length", func() {
		cfg := testConfig(2)
		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		Expect(d.AddEncPacket(make([]byte, 3))).To(HaveOccurred())

		d.Close()
	})

	It("counts non-innovative duplicates without changing rank", func() {
		cfg := testConfig(2)
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		payload := systematicPayload(0, cfg.G, cfg.SymbolSize, []byte("dup"))
		Expect(d.AddEncPacket(payload)).To(Succeed())
		Expect(d.AddEncPacket(payload)).To(Succeed())
		Expect(d.gen.Rank()).To(Equal(1))

		d.Close()
	})

	It("sends a periodic ack for redundant packets once the generation is already full", func() {
		cfg := testConfig(1)
		cfg.AckInterval = 1
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		Expect(d.AddEncPacket(systematicPayload(0, cfg.G, cfg.SymbolSize, []byte("only")))).To(Succeed())
		Eventually(func() bool { return d.engine.CurrState() == stateAcked }, time.Second, 5*time.Millisecond).Should(BeTrue())

		Expect(d.AddEncPacket(systematicPayload(0, cfg.G, cfg.SymbolSize, []byte("only")))).To(Succeed())

		d.Close()
	})

	It("times out an incomplete generation", func() {
		cfg := testConfig(2)
		cfg.Timeout = 5 * time.Millisecond
		cfg.PacketTimeout = time.Hour

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		Eventually(func() bool {
			return d.Process()
		}, time.Second, time.Millisecond).Should(BeTrue())

		d.Close()
	})

	It("abandons the generation when a decoded symbol's length prefix is corrupt", func() {
		cfg := testConfig(2)
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		badSymbol := make([]byte, cfg.SymbolSize)
		badSymbol[0] = 0xFF
		badSymbol[1] = 0xFF
		payload := append(unitCoeffs(cfg.G, 0), badSymbol...)

		Expect(d.AddEncPacket(payload)).To(Succeed())

		Eventually(func() bool {
			return d.engine.CurrState() == stateDone
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		d.Close()
	})

	It("re-requests symbols once the packet timer lapses even with zero rank", func() {
		cfg := testConfig(4)
		cfg.Timeout = time.Hour
		cfg.PacketTimeout = 5 * time.Millisecond
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.ReqPacket, uint16(0), gomock.Any(), gomock.Any()).Return(nil).MinTimes(1)

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		time.Sleep(2 * cfg.PacketTimeout)
		Eventually(func() bool {
			d.Process()
			return true
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		d.Close()
	})

	It("re-requests more symbols once the packet timer lapses without completing", func() {
		cfg := testConfig(2)
		cfg.Timeout = time.Hour
		cfg.PacketTimeout = 5 * time.Millisecond
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.DecPacket, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.ReqPacket, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).MinTimes(1)

		d := New(testKey(), cfg, sender, nil, nil)
		d.Init()

		Expect(d.AddEncPacket(systematicPayload(0, cfg.G, cfg.SymbolSize, []byte("partial")))).To(Succeed())

		time.Sleep(2 * cfg.PacketTimeout)
		Eventually(func() bool {
			d.Process()
			return true
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		d.Close()
	})
})
