package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestLogRecordJSONFieldNames(t *testing.T) {
	original := LogRecord{
		RunID:       "7f1c8f1e-54a4-4e8f-9a53-0c6d1b2a9f10",
		ChainID:     31337,
		BlockNumber: 12,
		BlockHash:   "0xabc123",
		TxHash:      "0xdef456",
		LogIndex:    3,
		Address:     "0x1111111111111111111111111111111111111111",
		Topics:      []string{"0xaaa", "0xbbb"},
		Data:        "0xdeadbeef",
		Timestamp:   1767225600,
		IngestedAt:  "2026-01-01T00:00:00Z",
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal map failed: %v", err)
	}
	for _, key := range []string{"run_id", "chain_id", "block_number", "tx_hash", "log_index", "topics", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %s in %s", key, b)
		}
	}

	var decoded LogRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("decode mismatch: %+v != %+v", original, decoded)
	}
	if decoded.Topic0() != "0xaaa" || decoded.Key() != "31337:0xdef456:3" {
		t.Fatalf("topic0 %q key %q", decoded.Topic0(), decoded.Key())
	}
	if (LogRecord{}).Topic0() != "" {
		t.Fatalf("anonymous log should have no topic0")
	}
}
