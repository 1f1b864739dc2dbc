package events

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"vaultledger/internal/model"
)

// Decoder converts raw ledger log records into typed events.
type Decoder struct {
	ledgerABI   abi.ABI
	topicToName map[string]string
}

// NewDecoder builds a decoder for every event in the ledger ABI.
func NewDecoder() (*Decoder, error) {
	ledger, err := LedgerABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, len(ledger.Events))
	for name, event := range ledger.Events {
		topicToName[strings.ToLower(event.ID.Hex())] = name
	}

	return &Decoder{
		ledgerABI:   ledger,
		topicToName: topicToName,
	}, nil
}

// CanDecode checks if the topic0 is a ledger event.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent.
func (d *Decoder) Decode(log model.LogRecord) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}

	event := d.ledgerABI.Events[name]
	values := make(map[string]interface{}, len(event.Inputs))

	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	if len(indexedTopics) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexedArguments(event.Inputs), indexedTopics); err != nil {
			return nil, fmt.Errorf("parse %s topics: %w", name, err)
		}
	}

	data, err := hexutil.Decode(normalizeHex(log.Data))
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(values, data); err != nil {
		return nil, fmt.Errorf("unpack %s data: %w", name, err)
	}

	decoded := make(map[string]string, len(values))
	for key, value := range values {
		decoded[key] = formatValue(value)
	}

	return &model.TypedEvent{
		RunID:       log.RunID,
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     common.HexToAddress(log.Address).Hex(),
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		Raw:         &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data},
	}, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexed := indexedArguments(event.Inputs)
	if len(topics) != len(indexed)+1 {
		return nil, fmt.Errorf("event %s: want %d topics, got %d", event.Name, len(indexed)+1, len(topics))
	}
	out := make([]common.Hash, 0, len(indexed))
	for _, topic := range topics[1:] {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic %s: %w", topic, err)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("invalid topic length: %s", topic)
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	out := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}

func normalizeHex(data string) string {
	if data == "" {
		return "0x"
	}
	if !strings.HasPrefix(data, "0x") && !strings.HasPrefix(data, "0X") {
		return "0x" + data
	}
	return data
}

func formatValue(value interface{}) string {
	switch typed := value.(type) {
	case *big.Int:
		return typed.String()
	case common.Address:
		return typed.Hex()
	case common.Hash:
		return typed.Hex()
	case string:
		return typed
	case bool:
		if typed {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", typed)
	}
}
