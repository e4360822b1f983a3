package nlproto

import "github.com/batmesh/rlncd/internal/protocol"

// HelperMsg is one BATADV_HLP_A_HOP_LIST/BATADV_HLP_A_RLY_LIST entry: a
// candidate relay's address and its advertised link quality.
type HelperMsg struct {
	Addr        protocol.Addr
	TQTotal     uint8
	TQSecondHop uint8
}

// Event is one decoded inbound generic-netlink message, normalized so
// the dispatcher and role packages never touch raw attributes.
type Event struct {
	Command Command
	Ifindex uint32

	// Present on FRAME/BLOCK/UNBLOCK/GET_RELAYS events.
	Src, Dst protocol.Addr
	Block    uint16

	// Present on FRAME events.
	Type    protocol.PacketType
	Rank    uint16
	Seq     uint16
	Payload []byte

	// Present on GET_LINK responses.
	Addr protocol.Addr
	TQ   uint8

	// Present on GET_ONE_HOP/GET_RELAYS responses.
	Helpers []HelperMsg
}
