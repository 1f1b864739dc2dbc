package events

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event names emitted by the ledger contracts.
const (
	Transfer = "Transfer"
	Approval = "Approval"

	Deposit            = "Deposit"
	Withdraw           = "Withdraw"
	StrategyAdded      = "StrategyAdded"
	StrategyRemoved    = "StrategyRemoved"
	DebtUpdated        = "DebtUpdated"
	DebtCeilingUpdated = "DebtCeilingUpdated"
	StrategyReported   = "StrategyReported"
	StrategyShutdown   = "StrategyShutdown"
	UpdateManager      = "UpdateManager"
	Paused             = "Paused"
	Unpaused           = "Unpaused"

	Deposited          = "Deposited"
	Withdrawn          = "Withdrawn"
	Reported           = "Reported"
	Shutdown           = "Shutdown"
	EmergencyWithdrawn = "EmergencyWithdrawn"

	NewVault           = "NewVault"
	UpdateProtocolFee  = "UpdateProtocolFee"
	UpdateFeeRecipient = "UpdateFeeRecipient"
	FactoryShutdown    = "FactoryShutdown"
	OwnershipTransfer  = "OwnershipTransferred"
)

const ledgerABIJSON = `[
  {"anonymous": false, "name": "Transfer", "type": "event", "inputs": [
    {"indexed": true, "name": "from", "type": "address"},
    {"indexed": true, "name": "to", "type": "address"},
    {"indexed": false, "name": "value", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "Approval", "type": "event", "inputs": [
    {"indexed": true, "name": "owner", "type": "address"},
    {"indexed": true, "name": "spender", "type": "address"},
    {"indexed": false, "name": "value", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "Deposit", "type": "event", "inputs": [
    {"indexed": true, "name": "sender", "type": "address"},
    {"indexed": true, "name": "owner", "type": "address"},
    {"indexed": false, "name": "assets", "type": "uint256"},
    {"indexed": false, "name": "shares", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "Withdraw", "type": "event", "inputs": [
    {"indexed": true, "name": "sender", "type": "address"},
    {"indexed": true, "name": "receiver", "type": "address"},
    {"indexed": true, "name": "owner", "type": "address"},
    {"indexed": false, "name": "assets", "type": "uint256"},
    {"indexed": false, "name": "shares", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "StrategyAdded", "type": "event", "inputs": [
    {"indexed": true, "name": "strategy", "type": "address"},
    {"indexed": false, "name": "debtCeiling", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "StrategyRemoved", "type": "event", "inputs": [
    {"indexed": true, "name": "strategy", "type": "address"}
  ]},
  {"anonymous": false, "name": "DebtUpdated", "type": "event", "inputs": [
    {"indexed": true, "name": "strategy", "type": "address"},
    {"indexed": false, "name": "currentDebt", "type": "uint256"},
    {"indexed": false, "name": "newDebt", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "DebtCeilingUpdated", "type": "event", "inputs": [
    {"indexed": true, "name": "strategy", "type": "address"},
    {"indexed": false, "name": "debtCeiling", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "StrategyReported", "type": "event", "inputs": [
    {"indexed": true, "name": "strategy", "type": "address"},
    {"indexed": false, "name": "gain", "type": "uint256"},
    {"indexed": false, "name": "loss", "type": "uint256"},
    {"indexed": false, "name": "currentDebt", "type": "uint256"},
    {"indexed": false, "name": "protocolFees", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "StrategyShutdown", "type": "event", "inputs": [
    {"indexed": true, "name": "strategy", "type": "address"}
  ]},
  {"anonymous": false, "name": "UpdateManager", "type": "event", "inputs": [
    {"indexed": true, "name": "manager", "type": "address"}
  ]},
  {"anonymous": false, "name": "Paused", "type": "event", "inputs": [
    {"indexed": false, "name": "account", "type": "address"}
  ]},
  {"anonymous": false, "name": "Unpaused", "type": "event", "inputs": [
    {"indexed": false, "name": "account", "type": "address"}
  ]},
  {"anonymous": false, "name": "Deposited", "type": "event", "inputs": [
    {"indexed": true, "name": "vault", "type": "address"},
    {"indexed": false, "name": "assets", "type": "uint256"},
    {"indexed": false, "name": "shares", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "Withdrawn", "type": "event", "inputs": [
    {"indexed": true, "name": "receiver", "type": "address"},
    {"indexed": false, "name": "assets", "type": "uint256"},
    {"indexed": false, "name": "shares", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "Reported", "type": "event", "inputs": [
    {"indexed": false, "name": "gain", "type": "uint256"},
    {"indexed": false, "name": "loss", "type": "uint256"},
    {"indexed": false, "name": "performanceFeeBps", "type": "uint16"}
  ]},
  {"anonymous": false, "name": "Shutdown", "type": "event", "inputs": []},
  {"anonymous": false, "name": "EmergencyWithdrawn", "type": "event", "inputs": [
    {"indexed": false, "name": "assets", "type": "uint256"}
  ]},
  {"anonymous": false, "name": "NewVault", "type": "event", "inputs": [
    {"indexed": true, "name": "vaultAddress", "type": "address"},
    {"indexed": true, "name": "asset", "type": "address"},
    {"indexed": false, "name": "name", "type": "string"},
    {"indexed": false, "name": "symbol", "type": "string"},
    {"indexed": false, "name": "manager", "type": "address"}
  ]},
  {"anonymous": false, "name": "UpdateProtocolFee", "type": "event", "inputs": [
    {"indexed": false, "name": "oldFeeBps", "type": "uint16"},
    {"indexed": false, "name": "newFeeBps", "type": "uint16"}
  ]},
  {"anonymous": false, "name": "UpdateFeeRecipient", "type": "event", "inputs": [
    {"indexed": true, "name": "oldRecipient", "type": "address"},
    {"indexed": true, "name": "newRecipient", "type": "address"}
  ]},
  {"anonymous": false, "name": "FactoryShutdown", "type": "event", "inputs": []},
  {"anonymous": false, "name": "OwnershipTransferred", "type": "event", "inputs": [
    {"indexed": true, "name": "previousOwner", "type": "address"},
    {"indexed": true, "name": "newOwner", "type": "address"}
  ]}
]`

var (
	ledgerABI     abi.ABI
	ledgerABIOnce sync.Once
	ledgerABIErr  error
)

// LedgerABI returns the parsed event ABI shared by tokens, vaults, strategies
// and the factory.
func LedgerABI() (abi.ABI, error) {
	ledgerABIOnce.Do(func() {
		ledgerABI, ledgerABIErr = abi.JSON(strings.NewReader(ledgerABIJSON))
	})
	return ledgerABI, ledgerABIErr
}
