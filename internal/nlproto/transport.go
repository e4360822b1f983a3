package nlproto

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"

	"github.com/batmesh/rlncd/internal/protocol"
)

// multicastGroupName is the generic-netlink multicast group batman_adv's
// hlp family publishes unsolicited FRAME/GET_LINK/GET_ONE_HOP/GET_RELAYS
// replies on; rlncd joins it once at startup and otherwise only ever
// sends unicast requests on the family socket.
const multicastGroupName = "hlp_events"

// Transport is a live connection to the batman_adv generic-netlink
// family: it can both send commands (the Sender interface) and receive
// the family's events.
type Transport struct {
	conn   *genetlink.Conn
	family genetlink.Family
}

// Dial opens a generic-netlink connection, resolves the batman_adv
// family, registers this process with BATADV_HLP_C_REGISTER, and joins
// the family's event multicast group.
func Dial() (*Transport, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("nlproto: dial genetlink: %w", err)
	}

	family, err := conn.GetFamily(FamilyName)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nlproto: resolve family %s: %w", FamilyName, err)
	}

	t := &Transport{conn: conn, family: family}

	if _, err := t.send(CmdRegister, 0, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nlproto: register: %w", err)
	}

	for _, group := range family.Groups {
		if group.Name == multicastGroupName {
			if err := conn.JoinGroup(group.ID); err != nil {
				conn.Close()
				return nil, fmt.Errorf("nlproto: join group %s: %w", group.Name, err)
			}
			break
		}
	}

	return t, nil
}

// Close releases the underlying netlink socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) send(cmd Command, flags netlink.HeaderFlags, attrs []byte) (genetlink.Message, error) {
	req := genetlink.Message{
		Header: genetlink.Header{
			Command: uint8(cmd),
			Version: t.family.Version,
		},
		Data: attrs,
	}
	msgs, err := t.conn.Execute(req, t.family.ID, netlink.Request|flags)
	if err != nil {
		return genetlink.Message{}, err
	}
	if len(msgs) == 0 {
		return genetlink.Message{}, nil
	}
	return msgs[0], nil
}

func encodeKeyAttrs(ae *netlink.AttributeEncoder, ifindex uint32, key protocol.Key) {
	ae.Uint32(uint16(AttrIfindex), ifindex)
	ae.Bytes(uint16(AttrSrc), key.Src[:])
	ae.Bytes(uint16(AttrDst), key.Dst[:])
	ae.Uint16(uint16(AttrBlock), key.Block)
}

// SendFrame implements Sender.
func (t *Transport) SendFrame(ifindex uint32, key protocol.Key, ptype protocol.PacketType, rank, seq uint16, payload []byte) error {
	ae := netlink.NewAttributeEncoder()
	encodeKeyAttrs(ae, ifindex, key)
	ae.Uint8(uint16(AttrType), uint8(ptype))
	ae.Uint16(uint16(AttrRank), rank)
	ae.Uint16(uint16(AttrSeq), seq)
	ae.Bytes(uint16(AttrFrame), payload)

	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("nlproto: encode frame attrs: %w", err)
	}
	_, err = t.send(CmdFrame, 0, data)
	return err
}

// Block implements Sender.
func (t *Transport) Block(ifindex uint32) error {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(uint16(AttrIfindex), ifindex)
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("nlproto: encode block attrs: %w", err)
	}
	_, err = t.send(CmdBlock, 0, data)
	return err
}

// Unblock implements Sender.
func (t *Transport) Unblock(ifindex uint32) error {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(uint16(AttrIfindex), ifindex)
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("nlproto: encode unblock attrs: %w", err)
	}
	_, err = t.send(CmdUnblock, 0, data)
	return err
}

// ReadLink implements Sender.
func (t *Transport) ReadLink(ifindex uint32, addr protocol.Addr) error {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(uint16(AttrIfindex), ifindex)
	ae.Bytes(uint16(AttrAddr), addr[:])
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("nlproto: encode get_link attrs: %w", err)
	}
	_, err = t.send(CmdGetLink, 0, data)
	return err
}

// ReadOneHops implements Sender.
func (t *Transport) ReadOneHops(ifindex uint32, addr protocol.Addr) error {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(uint16(AttrIfindex), ifindex)
	ae.Bytes(uint16(AttrAddr), addr[:])
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("nlproto: encode get_one_hop attrs: %w", err)
	}
	_, err = t.send(CmdGetOneHop, 0, data)
	return err
}

// ReadRelays implements Sender.
func (t *Transport) ReadRelays(ifindex uint32, key protocol.Key) error {
	ae := netlink.NewAttributeEncoder()
	encodeKeyAttrs(ae, ifindex, key)
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("nlproto: encode get_relays attrs: %w", err)
	}
	_, err = t.send(CmdGetRelays, 0, data)
	return err
}

// Receive blocks until the next event arrives on the family's multicast
// group and returns it decoded.
func (t *Transport) Receive() (Event, error) {
	msgs, _, err := t.conn.Receive()
	if err != nil {
		return Event{}, fmt.Errorf("nlproto: receive: %w", err)
	}
	if len(msgs) == 0 {
		return Event{}, fmt.Errorf("nlproto: receive: empty message batch")
	}
	return decodeEvent(msgs[0])
}

func decodeEvent(msg genetlink.Message) (Event, error) {
	ev := Event{Command: Command(msg.Header.Command)}

	ad, err := netlink.NewAttributeDecoder(msg.Data)
	if err != nil {
		return Event{}, fmt.Errorf("nlproto: decode attrs: %w", err)
	}

	var hopList, rlyList []byte
	for ad.Next() {
		switch Attr(ad.Type()) {
		case AttrIfindex:
			ev.Ifindex = ad.Uint32()
		case AttrSrc:
			copy(ev.Src[:], ad.Bytes())
		case AttrDst:
			copy(ev.Dst[:], ad.Bytes())
		case AttrAddr:
			copy(ev.Addr[:], ad.Bytes())
		case AttrBlock:
			ev.Block = ad.Uint16()
		case AttrTQ:
			ev.TQ = ad.Uint8()
		case AttrType:
			ev.Type = protocol.PacketType(ad.Uint8())
		case AttrRank:
			ev.Rank = ad.Uint16()
		case AttrSeq:
			ev.Seq = ad.Uint16()
		case AttrFrame:
			ev.Payload = append([]byte(nil), ad.Bytes()...)
		case AttrHopList:
			hopList = append([]byte(nil), ad.Bytes()...)
		case AttrRlyList:
			rlyList = append([]byte(nil), ad.Bytes()...)
		}
	}
	if err := ad.Err(); err != nil {
		return Event{}, fmt.Errorf("nlproto: decode attrs: %w", err)
	}

	if hopList != nil {
		helpers, err := decodeHelperList(hopList)
		if err != nil {
			return Event{}, err
		}
		ev.Helpers = helpers
	}
	if rlyList != nil {
		helpers, err := decodeHelperList(rlyList)
		if err != nil {
			return Event{}, err
		}
		ev.Helpers = append(ev.Helpers, helpers...)
	}

	return ev, nil
}

// helperMsgWireSize is ETH_ALEN (6) + tq_total (1) + tq_second_hop (1).
const helperMsgWireSize = protocol.AddrLen + 2

func decodeHelperList(nested []byte) ([]HelperMsg, error) {
	ad, err := netlink.NewAttributeDecoder(nested)
	if err != nil {
		return nil, fmt.Errorf("nlproto: decode nested helper list: %w", err)
	}

	var out []HelperMsg
	for ad.Next() {
		raw := ad.Bytes()
		if len(raw) != helperMsgWireSize {
			continue
		}
		var hm HelperMsg
		copy(hm.Addr[:], raw[0:protocol.AddrLen])
		hm.TQTotal = raw[protocol.AddrLen]
		hm.TQSecondHop = raw[protocol.AddrLen+1]
		out = append(out, hm)
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("nlproto: decode nested helper list: %w", err)
	}
	return out, nil
}
