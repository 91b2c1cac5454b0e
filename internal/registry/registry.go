// Package registry resolves network and token identifiers to canonical
// records. It replaces ambient global lookup tables with an explicitly
// constructed store so tests stay isolated and registration is
// concurrency-safe.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
)

// Default EIP-712 domain used by the canonical USDC deployments. Individual
// token registrations may override both values.
const (
	DefaultDomainName    = "USD Coin"
	DefaultDomainVersion = "2"
)

// Network is the canonical record for a supported chain.
type Network struct {
	Name    string
	ChainID int64
	// USDC is the default EIP-3009 token contract for this chain.
	USDC     common.Address
	Decimals uint8
	Testnet  bool
}

// CAIP2 returns the CAIP-2 identifier, e.g. "eip155:8453".
func (n Network) CAIP2() string {
	return fmt.Sprintf("eip155:%d", n.ChainID)
}

// Token is the canonical record for a registered ERC-20 token.
type Token struct {
	Address  common.Address
	ChainID  int64
	Symbol   string
	Decimals uint8
	// DomainName/DomainVersion override the EIP-712 domain when set.
	DomainName    string
	DomainVersion string
}

// Registry holds the known networks and any custom token registrations.
// The zero value is not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	networks map[int64]Network
	byName   map[string]int64
	tokens   map[string]Token // key: "<chainID>:<lowercase addr>"
}

// New returns a registry seeded with the canonical USDC deployments on the
// supported mainnets and testnets.
func New() *Registry {
	r := &Registry{
		networks: make(map[int64]Network),
		byName:   make(map[string]int64),
		tokens:   make(map[string]Token),
	}
	for _, n := range defaultNetworks {
		r.networks[n.ChainID] = n
		r.byName[n.Name] = n.ChainID
	}
	return r
}

var defaultNetworks = []Network{
	{Name: "ethereum", ChainID: 1, USDC: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
	{Name: "sepolia", ChainID: 11155111, USDC: common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"), Decimals: 6, Testnet: true},
	{Name: "base", ChainID: 8453, USDC: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6},
	{Name: "base-sepolia", ChainID: 84532, USDC: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), Decimals: 6, Testnet: true},
	{Name: "polygon", ChainID: 137, USDC: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"), Decimals: 6},
	{Name: "polygon-amoy", ChainID: 80002, USDC: common.HexToAddress("0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"), Decimals: 6, Testnet: true},
	{Name: "avalanche", ChainID: 43114, USDC: common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"), Decimals: 6},
	{Name: "avalanche-fuji", ChainID: 43113, USDC: common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"), Decimals: 6, Testnet: true},
}

// Networks returns all registered networks, ordered by chain id ascending.
func (r *Registry) Networks() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Network, 0, len(r.networks))
	for _, n := range defaultNetworks {
		if got, ok := r.networks[n.ChainID]; ok {
			out = append(out, got)
		}
	}
	return out
}

// ResolveNetwork accepts a human network name ("base-sepolia"), a decimal
// chain id ("84532"), or a CAIP-2 identifier ("eip155:84532").
func (r *Registry) ResolveNetwork(identifier string) (Network, error) {
	id := strings.TrimSpace(strings.ToLower(identifier))
	if id == "" {
		return Network{}, errdefs.NewInvalidPayload("network", "empty network identifier")
	}

	if chainID, err := ParseCAIP2(id); err == nil {
		return r.networkByChainID(chainID)
	}
	if chainID, err := strconv.ParseInt(id, 10, 64); err == nil {
		return r.networkByChainID(chainID)
	}

	r.mu.RLock()
	chainID, ok := r.byName[id]
	r.mu.RUnlock()
	if !ok {
		return Network{}, errdefs.NewInvalidPayload("network", fmt.Sprintf("unknown network %q", identifier))
	}
	return r.networkByChainID(chainID)
}

// NetworkByChainID returns the network for a bare chain id.
func (r *Registry) NetworkByChainID(chainID int64) (Network, error) {
	return r.networkByChainID(chainID)
}

func (r *Registry) networkByChainID(chainID int64) (Network, error) {
	r.mu.RLock()
	n, ok := r.networks[chainID]
	r.mu.RUnlock()
	if !ok {
		return Network{}, errdefs.NewUnsupportedNetwork(chainID)
	}
	return n, nil
}

// RegisterNetwork adds or replaces a network record.
func (r *Registry) RegisterNetwork(n Network) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks[n.ChainID] = n
	r.byName[strings.ToLower(n.Name)] = n.ChainID
}

// RegisterToken adds a custom token so ResolveToken can find it and so the
// EIP-712 domain override applies during verification.
func (r *Registry) RegisterToken(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tokenKey(t.ChainID, t.Address)] = t
}

// ResolveToken accepts a bare contract address (chainID disambiguates) or a
// CAIP-19-like identifier "eip155:<id>/erc20:<address>". Unregistered
// addresses on a known network resolve to a USDC-shaped default token.
func (r *Registry) ResolveToken(identifier string, chainID int64) (Token, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Token{}, errdefs.NewInvalidPayload("asset", "empty asset identifier")
	}

	if caipChain, addr, err := ParseCAIP19(id); err == nil {
		if chainID != 0 && caipChain != chainID {
			return Token{}, errdefs.NewInvalidPayload("asset",
				fmt.Sprintf("asset chain id %d does not match payload chain id %d", caipChain, chainID))
		}
		return r.tokenByAddress(caipChain, addr)
	}

	if !common.IsHexAddress(id) {
		return Token{}, errdefs.NewInvalidPayload("asset", fmt.Sprintf("malformed asset identifier %q", identifier))
	}
	return r.tokenByAddress(chainID, common.HexToAddress(id))
}

func (r *Registry) tokenByAddress(chainID int64, addr common.Address) (Token, error) {
	r.mu.RLock()
	t, ok := r.tokens[tokenKey(chainID, addr)]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	n, err := r.networkByChainID(chainID)
	if err != nil {
		return Token{}, err
	}
	return Token{
		Address:       addr,
		ChainID:       chainID,
		Symbol:        "USDC",
		Decimals:      n.Decimals,
		DomainName:    DefaultDomainName,
		DomainVersion: DefaultDomainVersion,
	}, nil
}

// Domain returns the EIP-712 domain name and version to verify against for
// a token, falling back to the USDC defaults.
func (t Token) Domain() (name, version string) {
	name, version = t.DomainName, t.DomainVersion
	if name == "" {
		name = DefaultDomainName
	}
	if version == "" {
		version = DefaultDomainVersion
	}
	return name, version
}

func tokenKey(chainID int64, addr common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(addr.Hex()))
}

// ── CAIP identifier parsing ─────────────────────────────────────────────────

// ParseCAIP2 parses "eip155:<chainId>".
func ParseCAIP2(s string) (int64, error) {
	rest, ok := strings.CutPrefix(s, "eip155:")
	if !ok {
		return 0, fmt.Errorf("not a CAIP-2 eip155 identifier: %q", s)
	}
	chainID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || chainID <= 0 {
		return 0, fmt.Errorf("malformed CAIP-2 chain id: %q", s)
	}
	return chainID, nil
}

// ParseCAIP19 parses "eip155:<chainId>/erc20:<address>".
func ParseCAIP19(s string) (int64, common.Address, error) {
	chainPart, assetPart, ok := strings.Cut(s, "/")
	if !ok {
		return 0, common.Address{}, fmt.Errorf("not a CAIP-19 identifier: %q", s)
	}
	chainID, err := ParseCAIP2(chainPart)
	if err != nil {
		return 0, common.Address{}, err
	}
	addrHex, ok := strings.CutPrefix(assetPart, "erc20:")
	if !ok || !common.IsHexAddress(addrHex) {
		return 0, common.Address{}, fmt.Errorf("malformed CAIP-19 asset reference: %q", s)
	}
	return chainID, common.HexToAddress(addrHex), nil
}

// IsCAIP2 reports whether s looks like an eip155 CAIP-2 identifier.
func IsCAIP2(s string) bool {
	_, err := ParseCAIP2(s)
	return err == nil
}
