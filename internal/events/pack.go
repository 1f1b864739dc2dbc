package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pack encodes an event into log topics and data. Args follow the ABI input
// order; *uint256.Int values are converted to *big.Int for the ABI encoder.
func Pack(name string, args ...interface{}) ([]common.Hash, []byte, error) {
	ledger, err := LedgerABI()
	if err != nil {
		return nil, nil, fmt.Errorf("parse ledger abi: %w", err)
	}
	event, ok := ledger.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown event: %s", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, nil, fmt.Errorf("event %s: want %d args, got %d", name, len(event.Inputs), len(args))
	}

	topics := []common.Hash{event.ID}
	nonIndexed := make([]interface{}, 0, len(args))
	for i, input := range event.Inputs {
		value := normalize(args[i])
		if !input.Indexed {
			nonIndexed = append(nonIndexed, value)
			continue
		}
		topic, err := topicFor(value)
		if err != nil {
			return nil, nil, fmt.Errorf("event %s arg %s: %w", name, input.Name, err)
		}
		topics = append(topics, topic)
	}

	data, err := event.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", name, err)
	}
	return topics, data, nil
}

func normalize(v interface{}) interface{} {
	switch typed := v.(type) {
	case *uint256.Int:
		if typed == nil {
			return new(big.Int)
		}
		return typed.ToBig()
	case uint256.Int:
		return typed.ToBig()
	default:
		return v
	}
}

func topicFor(v interface{}) (common.Hash, error) {
	switch typed := v.(type) {
	case common.Address:
		return common.BytesToHash(typed.Bytes()), nil
	case *big.Int:
		return common.BigToHash(typed), nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported indexed type %T", v)
	}
}
