package encoder

import (
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/batmesh/rlncd/internal/counterstore"
	"github.com/batmesh/rlncd/internal/linkdb"
	"github.com/batmesh/rlncd/internal/nlproto/nlprotomock"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/semaphore"
	"github.com/batmesh/rlncd/internal/telemetry"
)

func testKey() protocol.Key {
	return protocol.Key{
		Src:   protocol.Addr{1, 2, 3, 4, 5, 6},
		Dst:   protocol.Addr{6, 5, 4, 3, 2, 1},
		Block: 1,
	}
}

func testConfig(g int) Config {
	return Config{
		G:          g,
		SymbolSize: 64,
		Ifindex:    7,
		Overshoot:  1.0,
		Systematic: true,
		Timeout:    50 * time.Millisecond,
		Threshold:  0.5,
		FixedE1:    10,
		FixedE2:    10,
		FixedE3:    10,
	}
}

var _ = Describe("Encoder", func() {
	var (
		ctrl   *gomock.Controller
		sender *nlprotomock.MockSender
		db     *linkdb.DB
		sem    *semaphore.Semaphore
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		sender = nlprotomock.NewMockSender(ctrl)
		db = linkdb.New(4)
		sem = semaphore.New(0)
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("blocks the interface while waiting for plain packets, then sends a budget once full", func() {
		cfg := testConfig(3)
		sender.EXPECT().Block(cfg.Ifindex).Return(nil).Times(1)
		sender.EXPECT().Unblock(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(cfg.Ifindex, testKey(), protocol.EncPacket, uint16(0), uint16(0), gomock.Any()).Return(nil).MinTimes(1)

		enc := New(testKey(), cfg, sender, db, nil, nil, sem)
		enc.Init()

		Expect(enc.AddPlainPacket([]byte("one"))).To(Succeed())
		Expect(enc.AddPlainPacket([]byte("two"))).To(Succeed())
		Expect(enc.AddPlainPacket([]byte("three"))).To(Succeed())

		sem.Notify(1)

		Eventually(func() bool {
			return enc.engine.CurrState() == stateWaitAck
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		enc.Close()
	})

	It("rejects plain packets once the generation is full", func() {
		cfg := testConfig(1)
		sender.EXPECT().Block(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().Unblock(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		enc := New(testKey(), cfg, sender, db, nil, nil, sem)
		enc.Init()

		Expect(enc.AddPlainPacket([]byte("first"))).To(Succeed())
		Expect(enc.IsValid()).To(BeFalse())

		sem.Notify(1)
		enc.Close()
	})

	It("rejects a plain packet longer than the symbol size minus the length prefix", func() {
		cfg := testConfig(2)
		enc := New(testKey(), cfg, sender, db, nil, nil, sem)
		enc.Init()

		tooLong := make([]byte, cfg.SymbolSize)
		Expect(enc.AddPlainPacket(tooLong)).To(HaveOccurred())

		enc.Close()
	})

	It("finishes a generation once acked", func() {
		cfg := testConfig(1)
		sender.EXPECT().Block(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().Unblock(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		enc := New(testKey(), cfg, sender, db, nil, nil, sem)
		enc.Init()

		Expect(enc.AddPlainPacket([]byte("only"))).To(Succeed())
		sem.Notify(1)
		enc.AddAckPacket()

		Eventually(func() bool {
			return enc.Process()
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		enc.Close()
	})

	It("times out a generation blocked on a full symbol store", func() {
		cfg := testConfig(1)
		cfg.Timeout = 5 * time.Millisecond
		sender.EXPECT().Block(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().Unblock(cfg.Ifindex).Return(nil).AnyTimes()

		enc := New(testKey(), cfg, sender, db, nil, nil, sem)
		enc.Init()

		Expect(enc.AddPlainPacket([]byte("only"))).To(Succeed())

		Eventually(func() bool {
			return enc.Process()
		}, time.Second, time.Millisecond).Should(BeTrue())

		enc.Close()
	})

	It("credits telemetry and counters through a real logger and counter group", func() {
		log := telemetry.New("")
		cfg := testConfig(1)
		sender.EXPECT().Block(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().Unblock(cfg.Ifindex).Return(nil).AnyTimes()
		sender.EXPECT().SendFrame(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		var store *counterstore.Store
		enc := New(testKey(), cfg, sender, db, log, store, sem)
		enc.Init()

		Expect(enc.AddPlainPacket([]byte("only"))).To(Succeed())
		sem.Notify(1)
		enc.Close()
	})
})
