// Package eip3009 builds and recovers EIP-712 signatures for the
// TransferWithAuthorization struct (EIP-3009). It performs no I/O; every
// function is a pure computation over its inputs.
package eip3009

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
)

var transferTypeHash = crypto.Keccak256Hash([]byte(
	"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
))

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Domain is the EIP-712 signing domain of the token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// separator computes the EIP-712 domain separator.
func separator(d Domain) [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address)
	// Each element occupies a 32-byte slot; addresses are right-aligned.
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// Digest computes the final 0x1901-prefixed EIP-712 digest for a canonical
// payment record under the given domain.
func Digest(rec *protocol.Record, d Domain) ([32]byte, error) {
	nonce, err := rec.NonceBytes32()
	if err != nil {
		return [32]byte{}, err
	}

	// structHash = keccak256(typeHash || abi.encode(fields))
	encoded := make([]byte, 7*32)
	copy(encoded[0:32], transferTypeHash[:])
	copy(encoded[44:64], rec.From.Bytes())
	copy(encoded[76:96], rec.To.Bytes())
	rec.Value.FillBytes(encoded[96:128])
	big.NewInt(rec.ValidAfter).FillBytes(encoded[128:160])
	big.NewInt(rec.ValidBefore).FillBytes(encoded[160:192])
	copy(encoded[192:224], nonce[:])

	structHash := crypto.Keccak256Hash(encoded)
	sep := separator(d)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg), nil
}

// Recover returns the address that signed the record's authorization under
// the given domain. Callers compare it against rec.From.
func Recover(rec *protocol.Record, d Domain) (common.Address, error) {
	digest, err := Digest(rec, d)
	if err != nil {
		return common.Address{}, err
	}

	sig := rec.Sig.Packed()
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces the split signature for a record under the given domain.
// Used by tests and client tooling; the facilitator itself only recovers.
func Sign(rec *protocol.Record, privKey *ecdsa.PrivateKey, d Domain) (protocol.Signature, error) {
	digest, err := Digest(rec, d)
	if err != nil {
		return protocol.Signature{}, err
	}
	raw, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return protocol.Signature{}, err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	raw[64] += 27

	var sig protocol.Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	return sig, nil
}
