package betting

import (
	"math/big"
	"sync"
)

// Params 是一轮运行期间只读的外部参数集合，在进程启动时装配一次，
// 随后以显式依赖的形式传入各阶段，绝不作为全局状态访问。
type Params struct {
	BettingContractAddress string
	MultisendAddress       string
	TransferTargetAddress  string
	MatchKey               string
	BettingAmount          *big.Int
	SafeContractAddress    string
}

// SynchronizedData is the replicated single source of truth. Fields
// accumulate monotonically across stages within one run and are only written
// through the coordinator's agreement commit, never by stages directly.
type SynchronizedData struct {
	BettingResult       bool   `json:"betting_result"`
	BettingIPFSHash     string `json:"betting_ipfs_hash"`
	HasPlacedBet        bool   `json:"has_placed_bet"`
	SafeContractAddress string `json:"safe_contract_address"`
	TxHash              string `json:"tx_hash,omitempty"`
	TxSubmitter         string `json:"tx_submitter,omitempty"`
}

// Store holds the synchronized data with single-writer discipline: stages
// read snapshots, only the sequencer commits agreed payloads.
type Store struct {
	mu   sync.RWMutex
	data SynchronizedData
}

// NewStore 构造同步数据存储，safe 合约地址由外部提供且整轮不变。
func NewStore(safeContractAddress string) *Store {
	return &Store{
		data: SynchronizedData{SafeContractAddress: safeContractAddress},
	}
}

// Snapshot returns a copy of the current synchronized data.
func (s *Store) Snapshot() SynchronizedData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Reset clears all per-run fields before a new run starts. The safe contract
// address survives resets.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	safe := s.data.SafeContractAddress
	s.data = SynchronizedData{SafeContractAddress: safe}
}

func (s *Store) commitDataPull(p DataPullPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.BettingResult = p.BettingResult
	s.data.BettingIPFSHash = p.BettingIPFSHash
	s.data.HasPlacedBet = p.HasPlacedBet
}

func (s *Store) commitTxPreparation(p TxPreparationPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TxHash = p.TxHash
	s.data.TxSubmitter = p.TxSubmitter
}
