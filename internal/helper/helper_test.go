package helper

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
		Block: 7,
	}
}

func testConfig(g int) Config {
	return Config{
		G:               g,
		SymbolSize:      16,
		Ifindex:         9,
		Overshoot:       1.0,
		ThresholdFactor: 1.0,
		Timeout:         50 * time.Millisecond,
		FixedE1:         10,
		FixedE2:         10,
		FixedE3:         10,
	}
}

func unitCoeffs(g, i int) []byte {
	c := make([]byte, g)
	c[i] = 1
	return c
}

var _ = Describe("Helper", func() {
	var (
		ctrl   *gomock.Controller
		sender *nlprotomock.MockSender
		db     *linkdb.DB
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		sender = nlprotomock.NewMockSender(ctrl)
		db = linkdb.New(4)
		sender.EXPECT().ReadRelays(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		sender.EXPECT().ReadLink(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("stays below threshold without emitting helper packets", func() {
		cfg := testConfig(4)

		h := New(testKey(), cfg, sender, db, nil, nil)
		h.Init()

		Expect(h.AddEncPacket(append(unitCoeffs(cfg.G, 0), make([]byte, cfg.SymbolSize)...))).To(Succeed())

		Expect(h.IsValid()).To(BeTrue())
		h.Close()
	})

	It("starts emitting helper packets once rank crosses the threshold", func() {
		cfg := testConfig(2)
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.HlpPacket, uint16(0), uint16(0), gomock.Any()).Return(nil).MinTimes(1)

		h := New(testKey(), cfg, sender, db, nil, nil)
		h.Init()

		Expect(h.AddEncPacket(append(unitCoeffs(cfg.G, 0), make([]byte, cfg.SymbolSize)...))).To(Succeed())
		Expect(h.AddEncPacket(append(unitCoeffs(cfg.G, 1), make([]byte, cfg.SymbolSize)...))).To(Succeed())

		h.Close()
	})

	It("rejects a packet with the wrong wire length", func() {
		cfg := testConfig(2)
		h := New(testKey(), cfg, sender, db, nil, nil)
		h.Init()

		Expect(h.AddEncPacket(make([]byte, 1))).To(HaveOccurred())
		h.Close()
	})

	It("ignores request packets", func() {
		cfg := testConfig(2)
		h := New(testKey(), cfg, sender, db, nil, nil)
		h.Init()

		h.AddReqPacket(1, 1)
		Expect(h.IsValid()).To(BeTrue())
		h.Close()
	})

	It("finishes once acked", func() {
		cfg := testConfig(2)
		h := New(testKey(), cfg, sender, db, nil, nil)
		h.Init()

		h.AddAckPacket()

		Eventually(func() bool {
			return h.IsValid() == false
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		h.Close()
	})

	It("times out an idle helper", func() {
		cfg := testConfig(2)
		cfg.Timeout = 5 * time.Millisecond

		h := New(testKey(), cfg, sender, db, nil, nil)
		h.Init()

		Eventually(func() bool {
			return h.Process()
		}, time.Second, time.Millisecond).Should(BeTrue())

		h.Close()
	})
})
