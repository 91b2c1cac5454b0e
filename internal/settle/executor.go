// Package settle turns verified payment authorizations into on-chain
// transfers: an executor that submits transferWithAuthorization and
// classifies failures, a retrying in-memory job queue, and the background
// workers that drain it.
package settle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/chain"
	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
)

// Submitter submits a transferWithAuthorization call on a given chain.
// chain.Pool satisfies it; tests use a stub.
type Submitter interface {
	Submit(ctx context.Context, chainID int64, token common.Address, args chain.AuthArgs) (common.Hash, error)
}

// Receipt is the success outcome of a settlement.
type Receipt struct {
	TxHash common.Hash
}

// Executor settles payment payloads. It re-extracts canonical fields from
// the raw payload so settlement stays safe even when verification happened
// out-of-process, e.g. after a queue round-trip.
type Executor struct {
	submitter   Submitter
	registry    *registry.Registry
	extractOpts protocol.ExtractOptions
}

func NewExecutor(submitter Submitter, reg *registry.Registry) *Executor {
	return &Executor{submitter: submitter, registry: reg}
}

// SetDefaultChainID sets the fallback chain id applied to protocol v1
// payloads whose network name is not recognized. Zero leaves unknown
// names failing extraction. Call during wiring, before Settle traffic.
func (e *Executor) SetDefaultChainID(chainID int64) {
	e.extractOpts.DefaultChainID = chainID
}

// Settle validates the payload, resolves the target token contract, and
// submits the transfer. A non-zero override replaces the resolved token
// contract address.
func (e *Executor) Settle(ctx context.Context, payload *protocol.PaymentPayload, override common.Address) (*Receipt, error) {
	rec, err := payload.ExtractWithOptions(e.extractOpts)
	if err != nil {
		var invalid *errdefs.InvalidPayloadError
		if errors.As(err, &invalid) {
			return nil, errdefs.NewInvalidPayment("invalid payment payload", err)
		}
		return nil, err
	}

	if time.Now().Unix() > rec.ValidBefore {
		return nil, errdefs.NewAuthorizationExpired("authorization validBefore has passed", nil)
	}

	network, err := e.registry.NetworkByChainID(rec.ChainID)
	if err != nil {
		return nil, errdefs.NewNetworkNotFound(rec.ChainID)
	}

	token := network.USDC
	if rec.ContractAddress != (common.Address{}) {
		token = rec.ContractAddress
	}
	if override != (common.Address{}) {
		token = override
	}

	nonce, err := rec.NonceBytes32()
	if err != nil {
		return nil, errdefs.NewInvalidPayment("malformed nonce", err)
	}

	txHash, err := e.submitter.Submit(ctx, rec.ChainID, token, chain.AuthArgs{
		From:        rec.From,
		To:          rec.To,
		Value:       rec.Value,
		ValidAfter:  big.NewInt(rec.ValidAfter),
		ValidBefore: big.NewInt(rec.ValidBefore),
		Nonce:       nonce,
		V:           rec.Sig.V,
		R:           rec.Sig.R,
		S:           rec.Sig.S,
	})
	if err != nil {
		return nil, classifyContractError(err)
	}
	return &Receipt{TxHash: txHash}, nil
}

// classifyContractError maps node/contract failures onto the typed
// settlement errors by revert reason substring, falling back to a generic
// ContractExecutionError carrying whatever reason could be extracted.
func classifyContractError(err error) error {
	var notFound *errdefs.NetworkNotFoundError
	if errors.As(err, &notFound) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "expired"):
		return errdefs.NewAuthorizationExpired("authorization expired", err)
	case strings.Contains(msg, "signature"):
		return errdefs.NewInvalidSignature("contract rejected signature", err)
	case strings.Contains(msg, "nonce") && (strings.Contains(msg, "used") || strings.Contains(msg, "replay")):
		return errdefs.NewNonceAlreadyUsed("contract rejected nonce", err)
	default:
		return errdefs.NewContractExecution(revertReason(err), err)
	}
}

// revertReason pulls the human-readable reason out of a node error like
// "execution reverted: FiatTokenV2: caller must be the payee".
func revertReason(err error) string {
	msg := err.Error()
	for _, marker := range []string{"execution reverted:", "reverted:"} {
		if idx := strings.Index(msg, marker); idx >= 0 {
			return strings.TrimSpace(msg[idx+len(marker):])
		}
	}
	return ""
}
