// Package verify implements the facilitator's payment verification engine:
// structural validation, version agreement, EIP-712 signature recovery,
// validity-window enforcement, replay protection, and balance checking.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/eip3009"
	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
	"github.com/TheGreatAxios/x402-facilitator/internal/nonce"
	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
)

// BalanceReader reads an ERC-20 balance over RPC. Implementations must
// return an UnsupportedNetworkError for chains they cannot query and
// honor context deadlines.
type BalanceReader interface {
	BalanceOf(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error)
}

// Options tunes a single Verify call. The skip flags let callers check
// signature/window/nonce without an RPC round-trip, e.g. for fast
// pre-checks before queuing settlement.
type Options struct {
	SkipBalanceCheck bool
	SkipNonceCheck   bool
	// GracePeriod tolerates authorizations expired up to this long ago.
	GracePeriod time.Duration
}

// Result is the success outcome of a Verify call. Balance is nil when the
// balance check was skipped.
type Result struct {
	Payer    common.Address
	Balance  *big.Int
	Required *big.Int
}

// Engine orchestrates the verification checks. It is stateless beyond the
// shared nonce tracker, so concurrent Verify calls are safe.
type Engine struct {
	tracker     nonce.Tracker
	balances    BalanceReader
	registry    *registry.Registry
	extractOpts protocol.ExtractOptions
}

func NewEngine(tracker nonce.Tracker, balances BalanceReader, reg *registry.Registry) *Engine {
	return &Engine{tracker: tracker, balances: balances, registry: reg}
}

// SetDefaultChainID sets the fallback chain id applied to protocol v1
// payloads whose network name is not recognized. Zero leaves unknown
// names failing extraction. Call during wiring, before Verify traffic.
func (e *Engine) SetDefaultChainID(chainID int64) {
	e.extractOpts.DefaultChainID = chainID
}

// Verify runs the check sequence against a payload/requirements pair and
// returns either a success Result or one typed error from the
// verification hierarchy. The nonce is marked used only after the
// signature and window checks pass.
func (e *Engine) Verify(ctx context.Context, payload *protocol.PaymentPayload, reqs *protocol.PaymentRequirements, opts Options) (*Result, error) {
	// Structural check: both sides must extract completely.
	rec, err := payload.ExtractWithOptions(e.extractOpts)
	if err != nil {
		return nil, err
	}
	reqRec, err := reqs.Extract()
	if err != nil {
		return nil, err
	}

	// Version agreement: mismatches are a hard failure, never coerced.
	if rec.Version != reqRec.Version {
		return nil, errdefs.NewInvalidPayload("version",
			fmt.Sprintf("payload version %s does not match requirements version %s", rec.Version, reqRec.Version))
	}
	if rec.ChainID != reqRec.ChainID {
		return nil, errdefs.NewInvalidPayload("chainId",
			fmt.Sprintf("payload chain id %d does not match requirements chain id %d", rec.ChainID, reqRec.ChainID))
	}
	if rec.Value.Cmp(reqRec.Amount) < 0 {
		return nil, errdefs.NewInvalidPayload("value",
			fmt.Sprintf("authorized value %s is below required amount %s", rec.Value, reqRec.Amount))
	}

	// Signature recovery against the token's EIP-712 domain.
	contract, token, err := e.resolveContract(rec, reqRec)
	if err != nil {
		return nil, err
	}
	domainName, domainVersion := token.Domain()
	if reqRec.DomainName != "" {
		domainName = reqRec.DomainName
	}
	if reqRec.DomainVersion != "" {
		domainVersion = reqRec.DomainVersion
	}
	recovered, err := eip3009.Recover(rec, eip3009.Domain{
		Name:              domainName,
		Version:           domainVersion,
		ChainID:           big.NewInt(rec.ChainID),
		VerifyingContract: contract,
	})
	if err != nil {
		return nil, errdefs.NewInvalidSignature("signature recovery failed", err)
	}
	if !strings.EqualFold(recovered.Hex(), rec.From.Hex()) {
		return nil, errdefs.NewInvalidSignature(
			fmt.Sprintf("recovered signer %s does not match payer %s", recovered.Hex(), rec.From.Hex()), nil)
	}

	// Validity window.
	now := time.Now().Unix()
	if now < rec.ValidAfter {
		return nil, errdefs.NewPaymentNotYetValid(rec.ValidAfter)
	}
	if now > rec.ValidBefore+int64(opts.GracePeriod.Seconds()) {
		return nil, errdefs.NewPaymentExpired(rec.ValidBefore)
	}

	// Replay protection: atomic check-and-set, only after the checks above.
	if !opts.SkipNonceCheck {
		if err := e.tracker.MarkUsed(ctx, rec.Nonce); err != nil {
			var used *errdefs.NonceAlreadyUsedError
			if errors.As(err, &used) {
				return nil, errdefs.NewNonceUsed(rec.Nonce)
			}
			return nil, err
		}
	}

	result := &Result{Payer: rec.From, Required: reqRec.Amount}

	// Balance check over RPC; a timeout surfaces as a verification
	// failure, never a crash.
	if !opts.SkipBalanceCheck {
		balance, err := e.balances.BalanceOf(ctx, rec.ChainID, contract, rec.From)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(reqRec.Amount) < 0 {
			return nil, errdefs.NewInsufficientBalance(reqRec.Amount, balance)
		}
		result.Balance = balance
	}

	return result, nil
}

// resolveContract decides which token contract the signature is verified
// against: the payload's explicit contract, then the requirements' asset,
// then the network's default USDC.
func (e *Engine) resolveContract(rec *protocol.Record, reqRec *protocol.RequirementsRecord) (common.Address, registry.Token, error) {
	if rec.ContractAddress != (common.Address{}) {
		token, err := e.registry.ResolveToken(rec.ContractAddress.Hex(), rec.ChainID)
		if err != nil {
			return common.Address{}, registry.Token{}, err
		}
		return rec.ContractAddress, token, nil
	}
	if reqRec.Asset != "" {
		token, err := e.registry.ResolveToken(reqRec.Asset, rec.ChainID)
		if err != nil {
			return common.Address{}, registry.Token{}, err
		}
		return token.Address, token, nil
	}
	network, err := e.registry.NetworkByChainID(rec.ChainID)
	if err != nil {
		return common.Address{}, registry.Token{}, err
	}
	token, err := e.registry.ResolveToken(network.USDC.Hex(), rec.ChainID)
	if err != nil {
		return common.Address{}, registry.Token{}, err
	}
	return network.USDC, token, nil
}
