package settle

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/chain"
	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
)

// stubSubmitter records the last submission and returns a canned result.
// Safe for concurrent use so worker tests can share it.
type stubSubmitter struct {
	mu      sync.Mutex
	txHash  common.Hash
	err     error
	chainID int64
	token   common.Address
	args    chain.AuthArgs
	calls   int
}

func (s *stubSubmitter) Submit(_ context.Context, chainID int64, token common.Address, args chain.AuthArgs) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.chainID = chainID
	s.token = token
	s.args = args
	if s.err != nil {
		return common.Hash{}, s.err
	}
	return s.txHash, nil
}

func settlePayload(t *testing.T, validBefore int64) *protocol.PaymentPayload {
	t.Helper()
	raw := `{
		"x402Version": 1,
		"scheme": "exact",
		"network": "base",
		"payload": {
			"signature": "0x1100000000000000000000000000000000000000000000000000000000000000220000000000000000000000000000000000000000000000000000000000000000",
			"authorization": {
				"from": "0x1111111111111111111111111111111111111111",
				"to": "0x2222222222222222222222222222222222222222",
				"value": "1000000",
				"validAfter": "0",
				"validBefore": "` + strconv.FormatInt(validBefore, 10) + `",
				"nonce": "0x2a"
			}
		}
	}`
	// Patch in a valid packed signature (r || s || v=27).
	var p protocol.PaymentPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	p.Payload.Signature = "0x" +
		"1100000000000000000000000000000000000000000000000000000000000000" +
		"2200000000000000000000000000000000000000000000000000000000000000" +
		"1b"
	return &p
}

func TestSettleSuccess(t *testing.T) {
	sub := &stubSubmitter{txHash: common.HexToHash("0xdeadbeef")}
	ex := NewExecutor(sub, registry.New())

	receipt, err := ex.Settle(context.Background(), settlePayload(t, time.Now().Unix()+600), common.Address{})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if receipt.TxHash != common.HexToHash("0xdeadbeef") {
		t.Errorf("txHash = %s", receipt.TxHash.Hex())
	}
	if sub.chainID != 8453 {
		t.Errorf("chainId = %d", sub.chainID)
	}
	// No explicit contract in the payload: settles against base's USDC.
	if sub.token != common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913") {
		t.Errorf("token = %s", sub.token.Hex())
	}
	if sub.args.Value.String() != "1000000" {
		t.Errorf("value = %s", sub.args.Value)
	}
	if sub.args.Nonce[31] != 0x2a {
		t.Errorf("nonce last byte = %#x", sub.args.Nonce[31])
	}
	if sub.args.V != 27 {
		t.Errorf("v = %d", sub.args.V)
	}
}

func TestSettleTokenOverride(t *testing.T) {
	sub := &stubSubmitter{txHash: common.HexToHash("0x1")}
	ex := NewExecutor(sub, registry.New())

	override := common.HexToAddress("0x7777777777777777777777777777777777777777")
	if _, err := ex.Settle(context.Background(), settlePayload(t, time.Now().Unix()+600), override); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if sub.token != override {
		t.Errorf("token = %s, want override", sub.token.Hex())
	}
}

func TestSettleMalformedPayload(t *testing.T) {
	sub := &stubSubmitter{}
	ex := NewExecutor(sub, registry.New())

	_, err := ex.Settle(context.Background(), &protocol.PaymentPayload{}, common.Address{})
	var invalid *errdefs.InvalidPaymentError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidPaymentError, got %v", err)
	}
	if sub.calls != 0 {
		t.Errorf("submitter called %d times on invalid payload", sub.calls)
	}
}

func TestSettleExpiredAuthorization(t *testing.T) {
	sub := &stubSubmitter{}
	ex := NewExecutor(sub, registry.New())

	_, err := ex.Settle(context.Background(), settlePayload(t, time.Now().Unix()-30), common.Address{})
	var expired *errdefs.AuthorizationExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("want AuthorizationExpiredError, got %v", err)
	}
	if sub.calls != 0 {
		t.Errorf("submitter called on expired authorization")
	}
}

func TestSettleUnknownNetwork(t *testing.T) {
	sub := &stubSubmitter{}
	reg := registry.New()
	ex := NewExecutor(sub, reg)

	p := settlePayload(t, time.Now().Unix()+600)
	p.Network = "moonchain"
	_, err := ex.Settle(context.Background(), p, common.Address{})
	// Unknown network names fail extraction before network lookup.
	var invalid *errdefs.InvalidPaymentError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidPaymentError, got %v", err)
	}
}

func TestSettleDefaultChainID(t *testing.T) {
	sub := &stubSubmitter{txHash: common.HexToHash("0x2")}
	ex := NewExecutor(sub, registry.New())
	ex.SetDefaultChainID(8453)

	p := settlePayload(t, time.Now().Unix()+600)
	p.Network = "moonchain"
	if _, err := ex.Settle(context.Background(), p, common.Address{}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if sub.chainID != 8453 {
		t.Errorf("chainId = %d, want default fallback", sub.chainID)
	}
}

// A nonce wider than bytes32 is rejected during extraction and never
// reaches the submitter.
func TestSettleOversizedNonce(t *testing.T) {
	sub := &stubSubmitter{}
	ex := NewExecutor(sub, registry.New())

	p := settlePayload(t, time.Now().Unix()+600)
	p.Payload.Authorization.Nonce = "0x01" + strings.Repeat("00", 32)
	_, err := ex.Settle(context.Background(), p, common.Address{})
	var invalid *errdefs.InvalidPaymentError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidPaymentError, got %v", err)
	}
	if sub.calls != 0 {
		t.Errorf("submitter called with an oversized nonce")
	}
}

// ── Contract error classification ───────────────────────────────────────────

func TestClassifyContractErrors(t *testing.T) {
	now := time.Now().Unix() + 600
	cases := []struct {
		name    string
		nodeErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:    "expired",
			nodeErr: errors.New("execution reverted: FiatTokenV2: authorization is expired"),
			check: func(t *testing.T, err error) {
				var e *errdefs.AuthorizationExpiredError
				if !errors.As(err, &e) {
					t.Fatalf("want AuthorizationExpiredError, got %v", err)
				}
			},
		},
		{
			name:    "bad signature",
			nodeErr: errors.New("execution reverted: FiatTokenV2: invalid signature"),
			check: func(t *testing.T, err error) {
				var e *errdefs.InvalidSignatureError
				if !errors.As(err, &e) {
					t.Fatalf("want InvalidSignatureError, got %v", err)
				}
			},
		},
		{
			name:    "nonce used",
			nodeErr: errors.New("execution reverted: FiatTokenV2: authorization nonce is used"),
			check: func(t *testing.T, err error) {
				var e *errdefs.NonceAlreadyUsedError
				if !errors.As(err, &e) {
					t.Fatalf("want NonceAlreadyUsedError, got %v", err)
				}
			},
		},
		{
			name:    "other revert",
			nodeErr: errors.New("execution reverted: FiatTokenV2: caller must be the payee"),
			check: func(t *testing.T, err error) {
				var e *errdefs.ContractExecutionError
				if !errors.As(err, &e) {
					t.Fatalf("want ContractExecutionError, got %v", err)
				}
				if e.RevertReason != "FiatTokenV2: caller must be the payee" {
					t.Errorf("revertReason = %q", e.RevertReason)
				}
			},
		},
		{
			name:    "no reason",
			nodeErr: errors.New("context deadline exceeded"),
			check: func(t *testing.T, err error) {
				var e *errdefs.ContractExecutionError
				if !errors.As(err, &e) {
					t.Fatalf("want ContractExecutionError, got %v", err)
				}
				if e.RevertReason != "" {
					t.Errorf("revertReason = %q, want empty", e.RevertReason)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &stubSubmitter{err: tc.nodeErr}
			ex := NewExecutor(sub, registry.New())
			_, err := ex.Settle(context.Background(), settlePayload(t, now), common.Address{})
			if err == nil {
				t.Fatal("Settle succeeded with a failing submitter")
			}
			tc.check(t, err)
		})
	}
}

func TestSettleNetworkNotFoundPassthrough(t *testing.T) {
	sub := &stubSubmitter{err: errdefs.NewNetworkNotFound(8453)}
	ex := NewExecutor(sub, registry.New())

	_, err := ex.Settle(context.Background(), settlePayload(t, time.Now().Unix()+600), common.Address{})
	var notFound *errdefs.NetworkNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("want NetworkNotFoundError, got %v", err)
	}
}
