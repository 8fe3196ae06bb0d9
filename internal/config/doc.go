// Package config provides centralized configuration management for the
// AgentBet runtime, covering the on-chain ledger connection, the replica
// coordinator backends, storage, oracle specs and the betting parameters
// shared by every stage.
package config
