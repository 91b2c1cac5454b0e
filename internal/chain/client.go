// Package chain wraps go-ethereum RPC access for the facilitator: ERC-20
// balance reads and EIP-3009 transferWithAuthorization submissions.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// eip3009ABI covers the two token methods the facilitator touches.
const eip3009ABI = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
     {"name":"from","type":"address"},
     {"name":"to","type":"address"},
     {"name":"value","type":"uint256"},
     {"name":"validAfter","type":"uint256"},
     {"name":"validBefore","type":"uint256"},
     {"name":"nonce","type":"bytes32"},
     {"name":"v","type":"uint8"},
     {"name":"r","type":"bytes32"},
     {"name":"s","type":"bytes32"}
   ],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// AuthArgs are the on-chain call arguments for transferWithAuthorization.
type AuthArgs struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	V           uint8
	R           [32]byte
	S           [32]byte
}

// Client talks to one EVM network.
type Client struct {
	eth       *ethclient.Client
	tokenABI  abi.ABI
	chainID   *big.Int
	walletKey *ecdsa.PrivateKey
}

// NewClient dials the RPC endpoint and parses the facilitator wallet key
// used to submit settlement transactions.
func NewClient(rpcURL string, chainID int64, walletKeyHex string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rpcURL, err)
	}

	walletKey, err := crypto.HexToECDSA(strings.TrimPrefix(walletKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(eip3009ABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	return &Client{
		eth:       eth,
		tokenABI:  parsed,
		chainID:   big.NewInt(chainID),
		walletKey: walletKey,
	}, nil
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return c.chainID }

// WalletAddress returns the facilitator's settlement wallet address.
func (c *Client) WalletAddress() common.Address {
	return crypto.PubkeyToAddress(c.walletKey.PublicKey)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

func (c *Client) bound(token common.Address) *bind.BoundContract {
	return bind.NewBoundContract(token, c.tokenABI, c.eth, c.eth, c.eth)
}

// BalanceOf reads the ERC-20 balance of owner on the given token contract.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.bound(token).Call(opts, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	balance := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return balance, nil
}

// transactOpts builds a *bind.TransactOpts signed by the wallet key.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.walletKey, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

// TransferWithAuthorization submits the pre-signed transfer to the token
// contract and waits for it to mine.
func (c *Client) TransferWithAuthorization(ctx context.Context, token common.Address, args AuthArgs) (common.Hash, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build tx opts: %w", err)
	}

	tx, err := c.bound(token).Transact(opts, "transferWithAuthorization",
		args.From, args.To, args.Value, args.ValidAfter, args.ValidBefore, args.Nonce, args.V, args.R, args.S)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transferWithAuthorization tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return common.Hash{}, fmt.Errorf("tx reverted: %s", tx.Hash().Hex())
	}
	return tx.Hash(), nil
}
