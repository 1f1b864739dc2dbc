package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"vaultledger/internal/errs"
)

// DefaultChainID is the chain id used when none is configured.
const DefaultChainID = 31337

// Snapshotter is implemented by accounts whose state must roll back when a
// transaction fails. Snapshot must return a deep copy.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}

// Env is an in-process, single-writer execution environment. Every mutating
// call runs inside a transaction opened by Atomic; a failing transaction
// restores all deployed accounts and drops the logs it emitted.
type Env struct {
	chainID uint64
	logger  *zap.Logger

	mu         sync.Mutex
	accounts   map[common.Address]any
	order      []common.Address
	logs       []types.Log
	blockTimes map[uint64]uint64
	txCount    uint64

	clockMu sync.RWMutex
	now     time.Time
}

// NewEnv creates an environment whose clock starts at start.
func NewEnv(chainID uint64, start time.Time, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chainID == 0 {
		chainID = DefaultChainID
	}
	return &Env{
		chainID:    chainID,
		logger:     logger,
		accounts:   make(map[common.Address]any),
		blockTimes: make(map[uint64]uint64),
		now:        start.UTC(),
	}
}

// ChainID returns the configured chain id.
func (e *Env) ChainID() uint64 { return e.chainID }

// Logger returns the environment logger.
func (e *Env) Logger() *zap.Logger { return e.logger }

// Now returns the current block time.
func (e *Env) Now() time.Time {
	e.clockMu.RLock()
	defer e.clockMu.RUnlock()
	return e.now
}

// Advance moves the clock forward by d.
func (e *Env) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	e.clockMu.Lock()
	e.now = e.now.Add(d)
	e.clockMu.Unlock()
}

type txKey struct{}

type txState struct {
	env    *Env
	number uint64
	hash   common.Hash
	block  common.Hash
	time   uint64
}

func (e *Env) current(ctx context.Context) *txState {
	tx, ok := ctx.Value(txKey{}).(*txState)
	if !ok || tx.env != e {
		return nil
	}
	return tx
}

// InTx reports whether ctx carries an open transaction of this environment.
func (e *Env) InTx(ctx context.Context) bool {
	return e.current(ctx) != nil
}

// Atomic runs fn as a transaction. When ctx already carries a transaction of
// this environment, fn joins it and any error unwinds the outer transaction.
func (e *Env) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.InTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snapshot()
	number := e.txCount + 1
	ts := uint64(e.Now().Unix())
	tx := &txState{
		env:    e,
		number: number,
		hash:   crypto.Keccak256Hash([]byte("tx"), uint64Bytes(number)),
		block:  crypto.Keccak256Hash([]byte("block"), uint64Bytes(number)),
		time:   ts,
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		e.restore(snap)
		return err
	}

	e.txCount = number
	e.blockTimes[number] = ts
	return nil
}

// View runs a read-only fn under the environment lock, or directly when ctx
// already carries a transaction.
func (e *Env) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.InTx(ctx) {
		return fn(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, &txState{env: e, time: uint64(e.Now().Unix())}))
}

// Deploy registers obj at addr. Deploying over an existing account fails.
func (e *Env) Deploy(ctx context.Context, addr common.Address, obj any) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: deploy to zero address", errs.ErrInvalidArgument)
	}
	return e.Atomic(ctx, func(ctx context.Context) error {
		if _, ok := e.accounts[addr]; ok {
			return fmt.Errorf("%w: %s", errs.ErrAddressCollision, addr.Hex())
		}
		e.accounts[addr] = obj
		e.order = append(e.order, addr)
		e.logger.Debug("account deployed", zap.String("address", addr.Hex()), zap.String("type", fmt.Sprintf("%T", obj)))
		return nil
	})
}

// Account returns the object deployed at addr.
func (e *Env) Account(ctx context.Context, addr common.Address) (any, bool) {
	var (
		obj any
		ok  bool
	)
	_ = e.View(ctx, func(context.Context) error {
		obj, ok = e.accounts[addr]
		return nil
	})
	return obj, ok
}

// HasCode reports whether an account is deployed at addr.
func (e *Env) HasCode(ctx context.Context, addr common.Address) bool {
	_, ok := e.Account(ctx, addr)
	return ok
}

// EmitLog appends a log to the open transaction.
func (e *Env) EmitLog(ctx context.Context, addr common.Address, topics []common.Hash, data []byte) error {
	tx := e.current(ctx)
	if tx == nil || tx.number == 0 {
		return fmt.Errorf("emit log outside transaction")
	}
	e.logs = append(e.logs, types.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: tx.number,
		TxHash:      tx.hash,
		BlockHash:   tx.block,
		Index:       uint(len(e.logs)),
	})
	return nil
}

// Logs returns a copy of the committed logs starting at offset.
func (e *Env) Logs(offset int) []types.Log {
	e.mu.Lock()
	defer e.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(e.logs) {
		return nil
	}
	out := make([]types.Log, len(e.logs)-offset)
	copy(out, e.logs[offset:])
	return out
}

// BlockTimestamp returns the unix time of a committed transaction's block.
func (e *Env) BlockTimestamp(number uint64) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.blockTimes[number]
	return ts, ok
}

// BlockNumber returns the number of committed transactions.
func (e *Env) BlockNumber() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txCount
}

type envSnapshot struct {
	accounts map[common.Address]any
	order    []common.Address
	states   []any
	logs     int
}

func (e *Env) snapshot() envSnapshot {
	accounts := make(map[common.Address]any, len(e.accounts))
	for addr, obj := range e.accounts {
		accounts[addr] = obj
	}
	order := append([]common.Address(nil), e.order...)
	states := make([]any, len(order))
	for i, addr := range order {
		if s, ok := accounts[addr].(Snapshotter); ok {
			states[i] = s.Snapshot()
		}
	}
	return envSnapshot{accounts: accounts, order: order, states: states, logs: len(e.logs)}
}

func (e *Env) restore(snap envSnapshot) {
	e.accounts = snap.accounts
	e.order = snap.order
	for i, addr := range snap.order {
		if s, ok := snap.accounts[addr].(Snapshotter); ok {
			s.Restore(snap.states[i])
		}
	}
	e.logs = e.logs[:snap.logs]
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
