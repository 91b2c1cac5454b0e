// Command balance prints an ERC-20 balance through the facilitator's chain
// client. Operator tool for checking payer funds and the settlement wallet.
//
//	RPC_URL=... WALLET_PRIVATE_KEY=... balance <network> [owner] [token]
//
// network is a name, decimal chain id, or CAIP-2 identifier. owner defaults
// to the settlement wallet; token defaults to the network's USDC.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/chain"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: balance <network> [owner] [token]")
		os.Exit(2)
	}

	rpcURL := os.Getenv("RPC_URL")
	walletKey := os.Getenv("WALLET_PRIVATE_KEY")
	if rpcURL == "" || walletKey == "" {
		fmt.Fprintln(os.Stderr, "RPC_URL and WALLET_PRIVATE_KEY must be set")
		os.Exit(2)
	}

	network, err := registry.New().ResolveNetwork(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve network: %v\n", err)
		os.Exit(1)
	}

	client, err := chain.NewClient(rpcURL, network.ChainID, walletKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	owner := client.WalletAddress()
	if len(os.Args) > 2 {
		if !common.IsHexAddress(os.Args[2]) {
			fmt.Fprintf(os.Stderr, "bad owner address %q\n", os.Args[2])
			os.Exit(2)
		}
		owner = common.HexToAddress(os.Args[2])
	}
	token := network.USDC
	if len(os.Args) > 3 {
		if !common.IsHexAddress(os.Args[3]) {
			fmt.Fprintf(os.Stderr, "bad token address %q\n", os.Args[3])
			os.Exit(2)
		}
		token = common.HexToAddress(os.Args[3])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	balance, err := client.BalanceOf(ctx, token, owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balanceOf: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("network: %s (%d)\n", network.Name, network.ChainID)
	fmt.Printf("token:   %s\n", token.Hex())
	fmt.Printf("owner:   %s\n", owner.Hex())
	fmt.Printf("balance: %s (%s atomic)\n", scale(balance, network.Decimals), balance)
}

// scale renders atomic units with the token's decimal point.
func scale(v *big.Int, decimals uint8) string {
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, div, new(big.Int))
	return fmt.Sprintf("%s.%0*d", whole, decimals, frac)
}
