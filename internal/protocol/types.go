// Package protocol normalizes the three supported payment payload shapes
// (legacy flat, protocol v1, protocol v2) into a single canonical record
// that every downstream component consumes.
package protocol

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Version tags one of the three supported wire shapes.
type Version int

const (
	VersionUnknown Version = iota
	VersionLegacyV1
	VersionProtocolV1
	VersionProtocolV2
)

func (v Version) String() string {
	switch v {
	case VersionLegacyV1:
		return "legacy-v1"
	case VersionProtocolV1:
		return "protocol-v1"
	case VersionProtocolV2:
		return "protocol-v2"
	default:
		return "unknown"
	}
}

// Signature holds the split ECDSA signature parts. V is 27 or 28.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// RHex returns R as a 0x-prefixed 32-byte hex string.
func (s Signature) RHex() string { return fmt.Sprintf("0x%064x", s.R) }

// SHex returns S as a 0x-prefixed 32-byte hex string.
func (s Signature) SHex() string { return fmt.Sprintf("0x%064x", s.S) }

// Packed returns the 65-byte r‖s‖v form.
func (s Signature) Packed() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// Record is the canonical payment record. Extraction either yields a
// complete record or fails; no partial records reach downstream code.
type Record struct {
	Version     Version
	From        common.Address
	To          common.Address
	Value       *big.Int
	Nonce       string // canonical lowercase 0x-hex
	ValidAfter  int64
	ValidBefore int64
	ChainID     int64
	// ContractAddress is the token contract when the payload names one;
	// zero means "resolve the network default".
	ContractAddress common.Address
	Sig             Signature
}

// NonceBytes32 returns the nonce left-padded to the bytes32 the EIP-712
// struct hash expects.
func (r *Record) NonceBytes32() ([32]byte, error) {
	var out [32]byte
	n, err := parseNonce(r.Nonce)
	if err != nil {
		return out, err
	}
	n.FillBytes(out[:])
	return out, nil
}

// Authorization is the nested EIP-3009 authorization carried by protocol
// v1 and v2 payloads. All numerics travel as strings to avoid precision
// loss in JSON.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload is the protocol v1 inner payload: a packed hex signature
// plus the authorization it covers.
type ExactPayload struct {
	Signature     string         `json:"signature"`
	Authorization *Authorization `json:"authorization"`
}

// PaymentPayload is the union of every field any supported variant can
// carry. Version discrimination happens in DetectVersion; the raw fields
// are only interpreted during extraction.
type PaymentPayload struct {
	X402Version int           `json:"x402Version,omitempty"`
	Scheme      string        `json:"scheme,omitempty"`
	Network     string        `json:"network,omitempty"`
	Payload     *ExactPayload `json:"payload,omitempty"`

	// Protocol v2 and legacy shared fields. ChainID is a number (legacy)
	// or a CAIP-2 string (v2); Nonce is a hex string, decimal string, or
	// bare number; To must be a plain address string.
	ChainID        json.RawMessage `json:"chainId,omitempty"`
	AssetID        string          `json:"assetId,omitempty"`
	Signature      json.RawMessage `json:"signature,omitempty"`
	From           string          `json:"from,omitempty"`
	To             json.RawMessage `json:"to,omitempty"`
	Value          string          `json:"value,omitempty"`
	Nonce          json.RawMessage `json:"nonce,omitempty"`
	ValidAfterRaw  json.RawMessage `json:"validAfter,omitempty"`
	ValidBeforeRaw json.RawMessage `json:"validBefore,omitempty"`
	Expiry         int64           `json:"expiry,omitempty"`

	// Legacy flat signature parts and token contract.
	V               json.RawMessage `json:"v,omitempty"`
	R               string          `json:"r,omitempty"`
	S               string          `json:"s,omitempty"`
	ContractAddress string          `json:"contractAddress,omitempty"`
}

// PaymentRequirements is the union of the version-specific requirement
// shapes. Like PaymentPayload it is interpreted only during extraction.
type PaymentRequirements struct {
	Scheme            string       `json:"scheme,omitempty"`
	Network           string       `json:"network,omitempty"`
	MaxAmountRequired string       `json:"maxAmountRequired,omitempty"`
	Resource          string       `json:"resource,omitempty"`
	Description       string       `json:"description,omitempty"`
	MimeType          string       `json:"mimeType,omitempty"`
	PayTo             string       `json:"payTo,omitempty"`
	MaxTimeoutSeconds int64        `json:"maxTimeoutSeconds,omitempty"`
	Asset             string       `json:"asset,omitempty"`
	Extra             *DomainExtra `json:"extra,omitempty"`

	// Protocol v2.
	ChainID   json.RawMessage `json:"chainId,omitempty"`
	AssetID   string          `json:"assetId,omitempty"`
	Amount    string          `json:"amount,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Expiry    int64           `json:"expiry,omitempty"`

	// Legacy flat.
	To              string `json:"to,omitempty"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Deadline        int64  `json:"deadline,omitempty"`
}

// DomainExtra carries the EIP-712 domain override a resource server may
// attach to its requirements (protocol v1 "extra" object).
type DomainExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// RequirementsRecord is the canonical form of PaymentRequirements.
type RequirementsRecord struct {
	Version   Version
	Amount    *big.Int
	ChainID   int64
	Asset     string // raw identifier; resolved via the registry
	Recipient common.Address
	// Timeout is relative seconds (v1 maxTimeoutSeconds) or an absolute
	// unix deadline (legacy/v2) depending on HasDeadline.
	Timeout       int64
	HasDeadline   bool
	DomainName    string
	DomainVersion string
}
