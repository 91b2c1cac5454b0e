package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
)

// Pool holds one Client per configured network, keyed by chain id. It
// satisfies the verification engine's BalanceReader.
type Pool struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

func NewPool() *Pool {
	return &Pool{clients: make(map[int64]*Client)}
}

// Add registers a client for its chain id, replacing any existing one.
func (p *Pool) Add(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[c.ChainID().Int64()] = c
}

// Get returns the client for a chain id.
func (p *Pool) Get(chainID int64) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[chainID]
	return c, ok
}

// ChainIDs lists the configured chain ids.
func (p *Pool) ChainIDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int64, 0, len(p.clients))
	for id := range p.clients {
		out = append(out, id)
	}
	return out
}

// BalanceOf reads a token balance on the given chain, failing with an
// UnsupportedNetworkError when no client is configured for it.
func (p *Pool) BalanceOf(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error) {
	c, ok := p.Get(chainID)
	if !ok {
		return nil, errdefs.NewUnsupportedNetwork(chainID)
	}
	return c.BalanceOf(ctx, token, owner)
}

// Submit sends a transferWithAuthorization call on the given chain,
// failing with a NetworkNotFoundError when no client is configured.
func (p *Pool) Submit(ctx context.Context, chainID int64, token common.Address, args AuthArgs) (common.Hash, error) {
	c, ok := p.Get(chainID)
	if !ok {
		return common.Hash{}, errdefs.NewNetworkNotFound(chainID)
	}
	return c.TransferWithAuthorization(ctx, token, args)
}

// Close releases every client connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.Close()
	}
	p.clients = make(map[int64]*Client)
}
