package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"vaultledger/internal/model"
)

func buildLogRecord(address common.Address, topics []common.Hash, data []byte) model.LogRecord {
	hexTopics := make([]string, 0, len(topics))
	for _, topic := range topics {
		hexTopics = append(hexTopics, topic.Hex())
	}
	return model.LogRecord{
		ChainID:     31337,
		BlockNumber: 9,
		TxHash:      common.HexToHash("0x99").Hex(),
		LogIndex:    2,
		Address:     address.Hex(),
		Topics:      hexTopics,
		Data:        hexutil.Encode(data),
		Timestamp:   1767225600,
	}
}

func TestDecodeStrategyReported(t *testing.T) {
	vault := common.HexToAddress("0x1111111111111111111111111111111111111111")
	strategy := common.HexToAddress("0x2222222222222222222222222222222222222222")

	topics, data, err := Pack(StrategyReported, strategy, uint256.NewInt(41), uint256.NewInt(0), uint256.NewInt(141), uint256.NewInt(4))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}

	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	record := buildLogRecord(vault, topics, data)
	if !decoder.CanDecode(record.Topics[0]) {
		t.Fatalf("decoder should accept topic0 %s", record.Topics[0])
	}

	event, err := decoder.Decode(record)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.EventName != StrategyReported {
		t.Fatalf("event name mismatch: %s", event.EventName)
	}
	want := map[string]string{
		"strategy":     strategy.Hex(),
		"gain":         "41",
		"loss":         "0",
		"currentDebt":  "141",
		"protocolFees": "4",
	}
	for key, value := range want {
		if event.Decoded[key] != value {
			t.Fatalf("%s mismatch: %q != %q", key, event.Decoded[key], value)
		}
	}
}

func TestDecodeWithdrawAndNewVault(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	sender := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	receiver := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	owner := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	topics, data, err := Pack(Withdraw, sender, receiver, owner, uint256.NewInt(1), uint256.NewInt(1))
	if err != nil {
		t.Fatalf("pack withdraw: %v", err)
	}
	event, err := decoder.Decode(buildLogRecord(common.HexToAddress("0x01"), topics, data))
	if err != nil {
		t.Fatalf("decode withdraw: %v", err)
	}
	if event.Decoded["owner"] != owner.Hex() || event.Decoded["receiver"] != receiver.Hex() {
		t.Fatalf("withdraw addresses mismatch: %+v", event.Decoded)
	}

	topics, data, err = Pack(NewVault, common.HexToAddress("0x02"), common.HexToAddress("0x03"), "Vault USDC", "vUSDC", owner)
	if err != nil {
		t.Fatalf("pack new vault: %v", err)
	}
	event, err = decoder.Decode(buildLogRecord(common.HexToAddress("0x04"), topics, data))
	if err != nil {
		t.Fatalf("decode new vault: %v", err)
	}
	if event.Decoded["name"] != "Vault USDC" || event.Decoded["symbol"] != "vUSDC" {
		t.Fatalf("new vault strings mismatch: %+v", event.Decoded)
	}
}

func TestDecodeEmptyEvent(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	topics, data, err := Pack(FactoryShutdown)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	event, err := decoder.Decode(buildLogRecord(common.HexToAddress("0x05"), topics, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(event.Decoded) != 0 {
		t.Fatalf("expected no fields, got %+v", event.Decoded)
	}
}

func TestPackRejectsWrongArity(t *testing.T) {
	if _, _, err := Pack(Deposit, common.Address{}); err == nil {
		t.Fatalf("expected arity error")
	}
	if _, _, err := Pack("Nope"); err == nil {
		t.Fatalf("expected unknown event error")
	}
}

func TestDecodeRejectsTopicCountMismatch(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	topics, data, err := Pack(Transfer, common.HexToAddress("0x01"), common.HexToAddress("0x02"), uint256.NewInt(5))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	record := buildLogRecord(common.HexToAddress("0x06"), topics[:2], data)
	if _, err := decoder.Decode(record); err == nil {
		t.Fatalf("expected topic count error")
	}
}
