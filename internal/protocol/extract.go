package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
)

// tokenDecimals is the stablecoin convention used when scaling fractional
// amount strings to atomic units.
const tokenDecimals = 6

// chainIDByNetworkName is the fixed lookup for protocol v1 payloads, which
// carry a human network name instead of a chain id.
var chainIDByNetworkName = map[string]int64{
	"ethereum":       1,
	"sepolia":        11155111,
	"base":           8453,
	"base-sepolia":   84532,
	"polygon":        137,
	"polygon-amoy":   80002,
	"avalanche":      43114,
	"avalanche-fuji": 43113,
}

// ExtractOptions tunes extraction. DefaultChainID, when non-zero, is used
// for protocol v1 payloads whose network name is not in the fixed table;
// without it unknown names fail extraction.
type ExtractOptions struct {
	DefaultChainID int64
}

// DetectVersion applies the discrimination rules in priority order:
// nested authorization+signature with a non-CAIP network string is
// protocol v1; CAIP chain/asset identifiers with a signature are protocol
// v2; flat v/r/s with a numeric chainId is legacy.
func DetectVersion(p *PaymentPayload) Version {
	if p == nil {
		return VersionUnknown
	}
	if p.Payload != nil && p.Payload.Authorization != nil && p.Payload.Signature != "" &&
		p.Network != "" && !registry.IsCAIP2(p.Network) {
		return VersionProtocolV1
	}
	if (isCAIP2Raw(p.ChainID) || strings.Contains(p.AssetID, "/erc20:")) && len(p.Signature) > 0 {
		return VersionProtocolV2
	}
	if len(p.V) > 0 && p.R != "" && p.S != "" && p.ContractAddress != "" && isNumericRaw(p.ChainID) {
		return VersionLegacyV1
	}
	return VersionUnknown
}

// Extract normalizes the payload into a canonical Record using default
// options.
func (p *PaymentPayload) Extract() (*Record, error) {
	return p.ExtractWithOptions(ExtractOptions{})
}

// ExtractWithOptions normalizes the payload, failing with an
// InvalidPayloadError that names the first missing or malformed field.
func (p *PaymentPayload) ExtractWithOptions(opts ExtractOptions) (*Record, error) {
	switch DetectVersion(p) {
	case VersionLegacyV1:
		return p.extractLegacy()
	case VersionProtocolV1:
		return p.extractV1(opts)
	case VersionProtocolV2:
		return p.extractV2()
	default:
		return nil, errdefs.NewInvalidPayload("payload", "unrecognized payment payload shape")
	}
}

func (p *PaymentPayload) extractLegacy() (*Record, error) {
	from, err := parseAddress("from", p.From)
	if err != nil {
		return nil, err
	}
	toStr, err := rawString(p.To)
	if err != nil {
		return nil, errdefs.NewInvalidPayload("to", "to must be a hex address string")
	}
	to, err := parseAddress("to", toStr)
	if err != nil {
		return nil, err
	}
	value, err := parseAmountField("value", p.Value)
	if err != nil {
		return nil, err
	}
	nonce, err := normalizeNonceRaw(p.Nonce)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseInt64Raw("validAfter", p.ValidAfterRaw)
	if err != nil {
		return nil, err
	}
	validBefore, err := parseInt64Raw("validBefore", p.ValidBeforeRaw)
	if err != nil {
		return nil, err
	}
	chainID, err := parseInt64Raw("chainId", p.ChainID)
	if err != nil {
		return nil, err
	}
	contract, err := parseAddress("contractAddress", p.ContractAddress)
	if err != nil {
		return nil, err
	}
	sig, err := parseSplitSignature(p.V, p.R, p.S)
	if err != nil {
		return nil, err
	}

	return &Record{
		Version:         VersionLegacyV1,
		From:            from,
		To:              to,
		Value:           value,
		Nonce:           nonce,
		ValidAfter:      validAfter,
		ValidBefore:     validBefore,
		ChainID:         chainID,
		ContractAddress: contract,
		Sig:             sig,
	}, nil
}

func (p *PaymentPayload) extractV1(opts ExtractOptions) (*Record, error) {
	chainID, ok := chainIDByNetworkName[strings.ToLower(p.Network)]
	if !ok {
		if opts.DefaultChainID == 0 {
			return nil, errdefs.NewInvalidPayload("network", fmt.Sprintf("unknown network name %q", p.Network))
		}
		chainID = opts.DefaultChainID
	}

	auth := p.Payload.Authorization
	rec, err := recordFromAuthorization(auth)
	if err != nil {
		return nil, err
	}
	sig, err := parsePackedSignature("signature", p.Payload.Signature)
	if err != nil {
		return nil, err
	}

	rec.Version = VersionProtocolV1
	rec.ChainID = chainID
	rec.Sig = sig
	return rec, nil
}

func (p *PaymentPayload) extractV2() (*Record, error) {
	chainID, contract, err := p.v2ChainAndContract()
	if err != nil {
		return nil, err
	}

	var rec *Record
	if p.Payload != nil && p.Payload.Authorization != nil {
		rec, err = recordFromAuthorization(p.Payload.Authorization)
		if err != nil {
			return nil, err
		}
		rec.Sig, err = parsePackedSignature("signature", p.Payload.Signature)
		if err != nil {
			return nil, err
		}
	} else {
		rec, err = p.recordFromFlatFields()
		if err != nil {
			return nil, err
		}
		rec.Sig, err = parseSignatureRaw(p.Signature)
		if err != nil {
			return nil, err
		}
	}

	rec.Version = VersionProtocolV2
	rec.ChainID = chainID
	rec.ContractAddress = contract
	return rec, nil
}

// v2ChainAndContract resolves chainId/assetId, cross-checking when both
// carry a chain id.
func (p *PaymentPayload) v2ChainAndContract() (int64, common.Address, error) {
	var chainID int64
	var contract common.Address

	if len(p.ChainID) > 0 {
		s, err := rawString(p.ChainID)
		if err != nil {
			return 0, contract, errdefs.NewInvalidPayload("chainId", "chainId must be a CAIP-2 string")
		}
		chainID, err = registry.ParseCAIP2(s)
		if err != nil {
			return 0, contract, errdefs.NewInvalidPayloadCause("chainId", "malformed CAIP-2 chain identifier", err)
		}
	}

	if p.AssetID != "" {
		assetChain, addr, err := registry.ParseCAIP19(p.AssetID)
		if err != nil {
			return 0, contract, errdefs.NewInvalidPayloadCause("assetId", "malformed CAIP-19 asset identifier", err)
		}
		if chainID != 0 && assetChain != chainID {
			return 0, contract, errdefs.NewInvalidPayload("assetId",
				fmt.Sprintf("assetId chain %d does not match chainId %d", assetChain, chainID))
		}
		chainID = assetChain
		contract = addr
	}

	if chainID == 0 {
		return 0, contract, errdefs.NewInvalidPayload("chainId", "missing chain identifier")
	}
	return chainID, contract, nil
}

// recordFromFlatFields reads the v2 flat authorization fields, including
// the expiry shorthand for validBefore.
func (p *PaymentPayload) recordFromFlatFields() (*Record, error) {
	from, err := parseAddress("from", p.From)
	if err != nil {
		return nil, err
	}

	toStr, err := rawString(p.To)
	if err != nil {
		return nil, errdefs.NewInvalidPayload("to", "structured recipient targets are not supported")
	}
	to, err := parseAddress("to", toStr)
	if err != nil {
		return nil, err
	}

	value, err := parseAmountField("value", p.Value)
	if err != nil {
		return nil, err
	}
	nonce, err := normalizeNonceRaw(p.Nonce)
	if err != nil {
		return nil, err
	}

	var validAfter, validBefore int64
	if len(p.ValidAfterRaw) > 0 {
		validAfter, err = parseInt64Raw("validAfter", p.ValidAfterRaw)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case len(p.ValidBeforeRaw) > 0:
		validBefore, err = parseInt64Raw("validBefore", p.ValidBeforeRaw)
		if err != nil {
			return nil, err
		}
	case p.Expiry > 0:
		validBefore = p.Expiry
	default:
		return nil, errdefs.NewInvalidPayload("validBefore", "missing validBefore/expiry")
	}

	return &Record{
		From:        from,
		To:          to,
		Value:       value,
		Nonce:       nonce,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
	}, nil
}

func recordFromAuthorization(auth *Authorization) (*Record, error) {
	from, err := parseAddress("from", auth.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("to", auth.To)
	if err != nil {
		return nil, err
	}
	value, err := parseAmountField("value", auth.Value)
	if err != nil {
		return nil, err
	}
	nonce, err := NormalizeNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseInt64String("validAfter", auth.ValidAfter)
	if err != nil {
		return nil, err
	}
	validBefore, err := parseInt64String("validBefore", auth.ValidBefore)
	if err != nil {
		return nil, err
	}
	return &Record{
		From:        from,
		To:          to,
		Value:       value,
		Nonce:       nonce,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
	}, nil
}

// ── Requirements extraction ─────────────────────────────────────────────────

// DetectRequirementsVersion mirrors the payload discrimination rules for
// the requirements shape.
func DetectRequirementsVersion(r *PaymentRequirements) Version {
	if r == nil {
		return VersionUnknown
	}
	if r.Network != "" && !registry.IsCAIP2(r.Network) && (r.MaxAmountRequired != "" || r.PayTo != "") {
		return VersionProtocolV1
	}
	if isCAIP2Raw(r.ChainID) || strings.Contains(r.AssetID, "/erc20:") {
		return VersionProtocolV2
	}
	if isNumericRaw(r.ChainID) && r.Amount != "" {
		return VersionLegacyV1
	}
	return VersionUnknown
}

// Extract normalizes the requirements into a canonical RequirementsRecord.
func (r *PaymentRequirements) Extract() (*RequirementsRecord, error) {
	version := DetectRequirementsVersion(r)
	switch version {
	case VersionProtocolV1:
		return r.extractV1()
	case VersionProtocolV2:
		return r.extractV2()
	case VersionLegacyV1:
		return r.extractLegacy()
	default:
		return nil, errdefs.NewInvalidPayload("paymentRequirements", "unrecognized payment requirements shape")
	}
}

func (r *PaymentRequirements) extractV1() (*RequirementsRecord, error) {
	chainID, ok := chainIDByNetworkName[strings.ToLower(r.Network)]
	if !ok {
		return nil, errdefs.NewInvalidPayload("network", fmt.Sprintf("unknown network name %q", r.Network))
	}
	amount, err := parseAmountField("maxAmountRequired", r.MaxAmountRequired)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("payTo", r.PayTo)
	if err != nil {
		return nil, err
	}
	if r.MaxTimeoutSeconds <= 0 {
		return nil, errdefs.NewInvalidPayload("maxTimeoutSeconds", "missing or non-positive maxTimeoutSeconds")
	}

	rec := &RequirementsRecord{
		Version:   VersionProtocolV1,
		Amount:    amount,
		ChainID:   chainID,
		Asset:     r.Asset,
		Recipient: recipient,
		Timeout:   r.MaxTimeoutSeconds,
	}
	if r.Extra != nil {
		rec.DomainName = r.Extra.Name
		rec.DomainVersion = r.Extra.Version
	}
	return rec, nil
}

func (r *PaymentRequirements) extractV2() (*RequirementsRecord, error) {
	var chainID int64
	asset := r.AssetID
	if len(r.ChainID) > 0 {
		s, err := rawString(r.ChainID)
		if err != nil {
			return nil, errdefs.NewInvalidPayload("chainId", "chainId must be a CAIP-2 string")
		}
		chainID, err = registry.ParseCAIP2(s)
		if err != nil {
			return nil, errdefs.NewInvalidPayloadCause("chainId", "malformed CAIP-2 chain identifier", err)
		}
	}
	if asset != "" {
		assetChain, _, err := registry.ParseCAIP19(asset)
		if err != nil {
			return nil, errdefs.NewInvalidPayloadCause("assetId", "malformed CAIP-19 asset identifier", err)
		}
		if chainID != 0 && assetChain != chainID {
			return nil, errdefs.NewInvalidPayload("assetId",
				fmt.Sprintf("assetId chain %d does not match chainId %d", assetChain, chainID))
		}
		chainID = assetChain
	}
	if chainID == 0 {
		return nil, errdefs.NewInvalidPayload("chainId", "missing chain identifier")
	}

	amount, err := parseAmountField("amount", r.Amount)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("recipient", r.Recipient)
	if err != nil {
		return nil, err
	}
	if r.Expiry <= 0 {
		return nil, errdefs.NewInvalidPayload("expiry", "missing or non-positive expiry")
	}

	return &RequirementsRecord{
		Version:     VersionProtocolV2,
		Amount:      amount,
		ChainID:     chainID,
		Asset:       asset,
		Recipient:   recipient,
		Timeout:     r.Expiry,
		HasDeadline: true,
	}, nil
}

func (r *PaymentRequirements) extractLegacy() (*RequirementsRecord, error) {
	chainID, err := parseInt64Raw("chainId", r.ChainID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountField("amount", r.Amount)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("to", r.To)
	if err != nil {
		return nil, err
	}
	if r.Deadline <= 0 {
		return nil, errdefs.NewInvalidPayload("deadline", "missing or non-positive deadline")
	}

	return &RequirementsRecord{
		Version:     VersionLegacyV1,
		Amount:      amount,
		ChainID:     chainID,
		Asset:       r.ContractAddress,
		Recipient:   recipient,
		Timeout:     r.Deadline,
		HasDeadline: true,
	}, nil
}

// ── Field parsing helpers ───────────────────────────────────────────────────

func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, errdefs.NewInvalidPayload(field, "missing "+field)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errdefs.NewInvalidPayload(field, fmt.Sprintf("%s is not a 20-byte hex address: %q", field, s))
	}
	return common.HexToAddress(s), nil
}

// ParseAmount converts a decimal amount string to atomic units. Integer
// strings pass through; a fractional part is zero-padded or truncated to
// six places (stablecoin convention). More than one dot fails.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	whole, frac, dotted := strings.Cut(s, ".")
	if strings.Contains(frac, ".") {
		return nil, fmt.Errorf("malformed decimal amount %q", s)
	}
	if !dotted {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("malformed amount %q", s)
		}
		if n.BitLen() > 256 {
			return nil, fmt.Errorf("amount %q exceeds 256 bits", s)
		}
		return n, nil
	}

	if len(frac) > tokenDecimals {
		frac = frac[:tokenDecimals]
	}
	frac += strings.Repeat("0", tokenDecimals-len(frac))
	if whole == "" {
		whole = "0"
	}
	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("amount %q exceeds 256 bits", s)
	}
	return n, nil
}

func parseAmountField(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, errdefs.NewInvalidPayload(field, "missing "+field)
	}
	n, err := ParseAmount(s)
	if err != nil {
		return nil, errdefs.NewInvalidPayloadCause(field, "malformed "+field, err)
	}
	return n, nil
}

// NormalizeNonce maps the heterogeneous nonce forms (0x-hex string,
// decimal string, bare number) onto one canonical lowercase 0x-hex key so
// equivalent nonces collide in the tracker.
func NormalizeNonce(s string) (string, error) {
	n, err := parseNonce(s)
	if err != nil {
		return "", errdefs.NewInvalidPayloadCause("nonce", "malformed nonce", err)
	}
	return "0x" + n.Text(16), nil
}

func parseNonce(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return nil, fmt.Errorf("empty nonce")
	}
	var n *big.Int
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		v, ok := new(big.Int).SetString(rest, 16)
		if !ok {
			return nil, fmt.Errorf("malformed hex nonce %q", s)
		}
		n = v
	} else {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("malformed nonce %q", s)
		}
		n = v
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative nonce %q", s)
	}
	// The nonce must fit the bytes32 slot of the EIP-712 struct hash.
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("nonce %q exceeds 32 bytes", s)
	}
	return n, nil
}

func normalizeNonceRaw(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errdefs.NewInvalidPayload("nonce", "missing nonce")
	}
	if s, err := rawString(raw); err == nil {
		return NormalizeNonce(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errdefs.NewInvalidPayload("nonce", "nonce must be a string or number")
	}
	return NormalizeNonce(n.String())
}

// ── Signature parsing ───────────────────────────────────────────────────────

// parsePackedSignature splits a 65-byte r‖s‖v hex blob. v must already be
// 27 or 28; anything else is a validation failure.
func parsePackedSignature(field, s string) (Signature, error) {
	var sig Signature
	hexStr := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return sig, errdefs.NewInvalidPayloadCause(field, "signature is not valid hex", err)
	}
	if len(raw) != 65 {
		return sig, errdefs.NewInvalidPayload(field, fmt.Sprintf("packed signature must be 65 bytes, got %d", len(raw)))
	}
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	if sig.V != 27 && sig.V != 28 {
		return sig, errdefs.NewInvalidPayload(field, fmt.Sprintf("signature v must be 27 or 28, got %d", sig.V))
	}
	return sig, nil
}

// vrsObject is the structured signature form carried by protocol v2.
type vrsObject struct {
	V json.Number `json:"v"`
	R string      `json:"r"`
	S string      `json:"s"`
}

func parseSignatureRaw(raw json.RawMessage) (Signature, error) {
	var sig Signature
	if len(raw) == 0 {
		return sig, errdefs.NewInvalidPayload("signature", "missing signature")
	}
	if s, err := rawString(raw); err == nil {
		return parsePackedSignature("signature", s)
	}
	var obj vrsObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return sig, errdefs.NewInvalidPayloadCause("signature", "signature must be a packed hex string or a {v,r,s} object", err)
	}
	v, err := obj.V.Int64()
	if err != nil {
		return sig, errdefs.NewInvalidPayload("v", "signature v must be an integer")
	}
	return buildSplitSignature(v, obj.R, obj.S)
}

func parseSplitSignature(vRaw json.RawMessage, r, s string) (Signature, error) {
	var sig Signature
	v, err := parseInt64Raw("v", vRaw)
	if err != nil {
		return sig, err
	}
	return buildSplitSignature(v, r, s)
}

func buildSplitSignature(v int64, r, s string) (Signature, error) {
	var sig Signature
	if v != 27 && v != 28 {
		return sig, errdefs.NewInvalidPayload("v", fmt.Sprintf("signature v must be 27 or 28, got %d", v))
	}
	rBytes, err := parseHash32("r", r)
	if err != nil {
		return sig, err
	}
	sBytes, err := parseHash32("s", s)
	if err != nil {
		return sig, err
	}
	sig.V = uint8(v)
	sig.R = rBytes
	sig.S = sBytes
	return sig, nil
}

func parseHash32(field, s string) ([32]byte, error) {
	var out [32]byte
	hexStr := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, errdefs.NewInvalidPayloadCause(field, field+" is not valid hex", err)
	}
	if len(raw) != 32 {
		return out, errdefs.NewInvalidPayload(field, fmt.Sprintf("%s must be 32 bytes, got %d", field, len(raw)))
	}
	copy(out[:], raw)
	return out, nil
}

// ── Raw JSON helpers ────────────────────────────────────────────────────────

func rawString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func isCAIP2Raw(raw json.RawMessage) bool {
	s, err := rawString(raw)
	if err != nil {
		return false
	}
	return registry.IsCAIP2(s)
}

func isNumericRaw(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return false
	}
	_, err := n.Int64()
	return err == nil
}

// parseInt64Raw accepts either a JSON number or a decimal string. Every
// int64 field on the wire (timestamps, chain ids, v) is non-negative, and
// negatives would later panic big.Int.FillBytes during digest encoding.
func parseInt64Raw(field string, raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errdefs.NewInvalidPayload(field, "missing "+field)
	}
	if s, err := rawString(raw); err == nil {
		return parseInt64String(field, s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errdefs.NewInvalidPayload(field, field+" must be a number or decimal string")
	}
	v, err := n.Int64()
	if err != nil {
		return 0, errdefs.NewInvalidPayloadCause(field, field+" is not an integer", err)
	}
	if v < 0 {
		return 0, errdefs.NewInvalidPayload(field, field+" must not be negative")
	}
	return v, nil
}

func parseInt64String(field, s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errdefs.NewInvalidPayloadCause(field, field+" is not an integer", err)
	}
	if v < 0 {
		return 0, errdefs.NewInvalidPayload(field, field+" must not be negative")
	}
	return v, nil
}
