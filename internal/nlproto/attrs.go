// Package nlproto is rlncd's generic-netlink transport: the batman_adv
// "hlp" family's command and attribute space, a Sender narrow enough for
// the four coding roles to depend on, and a genetlink-backed
// implementation built on github.com/mdlayher/netlink and
// github.com/mdlayher/genetlink — the one dependency in this module with
// no counterpart anywhere in the example pack, wired in because generic
// netlink has no idiomatic pure-stdlib equivalent.
package nlproto

// FamilyName is the generic-netlink family rlncd registers against.
const FamilyName = "batman_adv"

// Command is a BATADV_HLP_C_* generic-netlink command.
type Command uint8

const (
	CmdUnspec Command = iota
	CmdRegister
	CmdGetRelays
	CmdGetLink
	CmdGetOneHop
	CmdFrame
	CmdBlock
	CmdUnblock
)

// Attr is a BATADV_HLP_A_* netlink attribute type.
type Attr uint16

const (
	AttrUnspec Attr = iota
	AttrIfname
	AttrIfindex
	AttrSrc
	AttrDst
	AttrAddr
	AttrTQ
	AttrHopList
	AttrRlyList
	AttrFrame
	AttrBlock
	AttrInt
	AttrType
	AttrRank
	AttrSeq
	AttrEncs
	AttrE1
	AttrE2
	AttrE3
)

// HopAttr is a BATADV_HLP_HOP_A_* attribute, nested inside AttrHopList.
type HopAttr uint16

const (
	HopAttrUnspec HopAttr = iota
	HopAttrInfo
)

// RlyAttr is a BATADV_HLP_RLY_A_* attribute, nested inside AttrRlyList.
type RlyAttr uint16

const (
	RlyAttrUnspec RlyAttr = iota
	RlyAttrInfo
)
