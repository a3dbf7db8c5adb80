package bridge

import (
	"fmt"
)

// ChainID identifies a blockchain network connected to the bridge. The well
// known networks have fixed values; additional networks get an identifier
// from the custom range via CustomChain.
type ChainID uint32

// The networks the bridge knows about.
const (
	Stellar ChainID = iota
	Ethereum
	Polygon
	Avalanche
	BSC
	Arbitrum
	Optimism
)

// customChainBase is the first identifier of the custom range. Everything
// below is reserved for well known networks.
const customChainBase ChainID = 1 << 16

// CustomChain returns the ChainID for the n-th custom network.
func CustomChain(n uint32) ChainID {
	return customChainBase + ChainID(n)
}

// IsCustom returns true for chain identifiers from the custom range.
func (c ChainID) IsCustom() bool {
	return c >= customChainBase
}

func (c ChainID) String() string {
	switch c {
	case Stellar:
		return "stellar"
	case Ethereum:
		return "ethereum"
	case Polygon:
		return "polygon"
	case Avalanche:
		return "avalanche"
	case BSC:
		return "bsc"
	case Arbitrum:
		return "arbitrum"
	case Optimism:
		return "optimism"
	}
	if c.IsCustom() {
		return fmt.Sprintf("custom-%d", uint32(c-customChainBase))
	}
	return fmt.Sprintf("chain-%d", uint32(c))
}

// ChainIDByName resolves the lower-case name of a well known network. It is
// used by the command line tools.
func ChainIDByName(name string) (ChainID, bool) {
	for c := Stellar; c <= Optimism; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// MessageType tells the receiving side how to interpret the payload a
// cross-chain message refers to. The set is closed: interpretation points
// switch exhaustively over these values.
type MessageType uint32

// All cross-chain message types.
const (
	RecordRequest MessageType = iota
	RecordResponse
	IdentityVerify
	IdentityConfirm
	AccessGrant
	AccessRevoke
	RecordSync
	EmergencyAccess
)

func (m MessageType) String() string {
	switch m {
	case RecordRequest:
		return "record_request"
	case RecordResponse:
		return "record_response"
	case IdentityVerify:
		return "identity_verify"
	case IdentityConfirm:
		return "identity_confirm"
	case AccessGrant:
		return "access_grant"
	case AccessRevoke:
		return "access_revoke"
	case RecordSync:
		return "record_sync"
	case EmergencyAccess:
		return "emergency_access"
	}
	return fmt.Sprintf("message-type-%d", uint32(m))
}

// Valid returns true if m is one of the defined message types.
func (m MessageType) Valid() bool {
	return m <= EmergencyAccess
}
