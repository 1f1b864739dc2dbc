package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps a go-ethereum RPC connection for log streaming and read-only
// contract calls.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	maxRetries   int
	retryBackoff time.Duration

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient dials rpcURL. Calls are retried maxRetries times with doubling backoff.
func NewClient(ctx context.Context, rpcURL string, maxRetries int, retryBackoff time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		tsCache:      make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := withRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		id, err = c.ethClient.ChainID(ctx)
		return err
	})
	return id, err
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := withRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		number, err = c.ethClient.BlockNumber(ctx)
		return err
	})
	return number, err
}

// CallContract performs an eth_call against to with the given calldata.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte, blockNumber *big.Int) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	var out []byte
	err := withRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		out, err = c.ethClient.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	var header *types.Header
	err := withRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		header, err = c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.tsCache[number] = header.Time
	c.mu.Unlock()
	return header.Time, nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	var logs []types.Log
	err := withRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = c.ethClient.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}
