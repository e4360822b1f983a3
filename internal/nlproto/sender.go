package nlproto

import "github.com/batmesh/rlncd/internal/protocol"

// Sender is the narrow outbound interface every coding role depends on;
// it deliberately excludes Receive so role packages (and their tests)
// never need a full Transport, only something that can emit frames and
// request link/relay information — grounded on the reference design's
// io_api mixin, which gave every coder class the same send-only view of
// the shared io object.
type Sender interface {
	// SendFrame emits one FRAME command carrying a coded, plain, or
	// control payload for (src, dst, block).
	SendFrame(ifindex uint32, key protocol.Key, ptype protocol.PacketType, rank, seq uint16, payload []byte) error

	// Block and Unblock gate the kernel from handing this interface's
	// plain packets to the encoder while it waits for budget.
	Block(ifindex uint32) error
	Unblock(ifindex uint32) error

	// ReadLink and ReadOneHops ask batman_adv for fresh link-quality and
	// one-hop-candidate information; the answers arrive asynchronously
	// as GET_LINK/GET_ONE_HOP events routed through the dispatcher into
	// a linkdb.DB.
	ReadLink(ifindex uint32, addr protocol.Addr) error
	ReadOneHops(ifindex uint32, addr protocol.Addr) error
	ReadRelays(ifindex uint32, key protocol.Key) error
}
