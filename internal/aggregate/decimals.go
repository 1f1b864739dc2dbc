package aggregate

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DecimalsResolver looks up the asset decimals of a vault.
type DecimalsResolver interface {
	AssetDecimals(ctx context.Context, vault common.Address) (uint8, error)
}

// DecimalsCache caches asset decimals by vault address.
type DecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{data: make(map[common.Address]uint8)}
}

func (c *DecimalsCache) Get(vault common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[vault]
	c.mu.RUnlock()
	return decimals, ok
}

func (c *DecimalsCache) Set(vault common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[vault] = decimals
	c.mu.Unlock()
}
