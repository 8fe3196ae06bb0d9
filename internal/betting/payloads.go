package betting

import (
	"encoding/json"
	"fmt"
)

// Stage payloads are the candidate values proposed for cross-replica
// agreement. Their JSON encoding is the canonical byte form submitted to the
// coordinator: field order is fixed by the struct definitions and the sender
// identity stays in the coordinator envelope, so replicas that computed the
// same facts serialise to identical bytes.

// DataPullPayload bundles the three facts gathered by the data pull stage.
type DataPullPayload struct {
	BettingResult   bool   `json:"betting_result"`
	BettingIPFSHash string `json:"betting_ipfs_hash"`
	HasPlacedBet    bool   `json:"has_placed_bet"`
}

// DecisionMakingPayload carries the decided transition event.
type DecisionMakingPayload struct {
	Event string `json:"event"`
}

// TxPreparationPayload carries the computed, not yet signed transaction
// hash. TxHash is empty when the stage could not produce one.
type TxPreparationPayload struct {
	TxSubmitter string `json:"tx_submitter"`
	TxHash      string `json:"tx_hash"`
}

func encodePayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化阶段负载失败: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte, payload any) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("解析已达成负载失败: %w", err)
	}
	return nil
}
