package recoder

import (
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto/nlprotomock"
	"github.com/batmesh/rlncd/internal/protocol"
)

func testKey() protocol.Key {
	return protocol.Key{
		Src:   protocol.Addr{1, 1, 1, 1, 1, 1},
		Dst:   protocol.Addr{2, 2, 2, 2, 2, 2},
		Block: 4,
	}
}

func helperAddr() protocol.Addr {
	return protocol.Addr{3, 3, 3, 3, 3, 3}
}

func testConfig(g int) Config {
	return Config{
		G:          g,
		SymbolSize: 16,
		Ifindex:    5,
		Overshoot:  1.0,
		Timeout:    50 * time.Millisecond,
	}
}

func unitCoeffs(g, i int) []byte {
	c := make([]byte, g)
	c[i] = 1
	return c
}

var _ = Describe("Recoder", func() {
	var (
		ctrl   *gomock.Controller
		sender *nlprotomock.MockSender
		db     *linkdb.DB
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		sender = nlprotomock.NewMockSender(ctrl)
		db = linkdb.New(4)
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("falls back to a flat g*overshoot budget with no known one-hop", func() {
		cfg := testConfig(3)
		sender.EXPECT().ReadOneHops(cfg.Ifindex, testKey().Dst).Return(nil)

		r := New(testKey(), cfg, sender, db, nil, nil)
		r.Init()

		Expect(r.maxBudget).To(Equal(float64(cfg.G) * cfg.Overshoot))
		r.Close()
	})

	It("forwards a systematic symbol verbatim and immediately", func() {
		cfg := testConfig(2)
		sender.EXPECT().ReadOneHops(cfg.Ifindex, testKey().Dst).Return(nil)
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.RecPacket, uint16(0), uint16(0), gomock.Any()).Return(nil).AnyTimes()

		r := New(testKey(), cfg, sender, db, nil, nil)
		r.Init()

		payload := append(unitCoeffs(cfg.G, 0), make([]byte, cfg.SymbolSize)...)
		Expect(r.AddEncPacket(payload)).To(Succeed())

		r.Close()
	})

	It("rejects a packet with the wrong wire length", func() {
		cfg := testConfig(2)
		sender.EXPECT().ReadOneHops(cfg.Ifindex, testKey().Dst).Return(nil)

		r := New(testKey(), cfg, sender, db, nil, nil)
		r.Init()

		Expect(r.AddEncPacket(make([]byte, 1))).To(HaveOccurred())

		r.Close()
	})

	It("acks and completes once the generation reaches full rank", func() {
		cfg := testConfig(1)
		sender.EXPECT().ReadOneHops(cfg.Ifindex, testKey().Dst).Return(nil)
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.RecPacket, uint16(0), uint16(0), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.AckPacket, uint16(0), uint16(0), gomock.Nil()).Return(nil).AnyTimes()

		r := New(testKey(), cfg, sender, db, nil, nil)
		r.Init()

		payload := append(unitCoeffs(cfg.G, 0), make([]byte, cfg.SymbolSize)...)
		Expect(r.AddEncPacket(payload)).To(Succeed())

		Eventually(func() bool {
			return r.IsValid() == false
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		r.Close()
	})

	It("times out an idle generation", func() {
		cfg := testConfig(2)
		cfg.Timeout = 5 * time.Millisecond
		sender.EXPECT().ReadOneHops(cfg.Ifindex, testKey().Dst).Return(nil)

		r := New(testKey(), cfg, sender, db, nil, nil)
		r.Init()

		Eventually(func() bool {
			return r.Process()
		}, time.Second, time.Millisecond).Should(BeTrue())

		r.Close()
	})

	It("derives a budget from the best one-hop's link quality when known", func() {
		cfg := testConfig(4)
		db.AddLink(helperAddr(), 200)
		db.AddLink(testKey().Dst, 200)
		db.AddOneHop(testKey().Dst, linkdb.HelperInfo{Addr: helperAddr(), TQTotal: 200, TQSecondHop: 40})

		sender.EXPECT().ReadOneHops(cfg.Ifindex, testKey().Dst).Return(nil)
		sender.EXPECT().ReadLink(cfg.Ifindex, helperAddr()).Return(nil)
		sender.EXPECT().ReadLink(cfg.Ifindex, testKey().Dst).Return(nil)

		r := New(testKey(), cfg, sender, db, nil, nil)
		r.Init()

		Expect(r.maxBudget).To(BeNumerically(">", 0))
		e1, e2, e3 := r.Estimates()
		Expect(e1).To(BeNumerically("<", protocol.One))
		Expect(e2).To(BeNumerically("<", protocol.One))
		Expect(e3).To(BeNumerically("<", protocol.One))

		r.Close()
	})
})
