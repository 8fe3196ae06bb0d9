package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentbet.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
	"ledger": {"rpc_url": "https://rpc.test"},
	"betting": {
		"betting_contract_address": "0x2222222222222222222222222222222222222222",
		"safe_contract_address": "0x5555555555555555555555555555555555555555",
		"match_key": "match-1"
	}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %q", cfg.Server.Address)
	}
	if cfg.Storage.RunStore.Driver != "memory" {
		t.Fatalf("unexpected run store driver: %q", cfg.Storage.RunStore.Driver)
	}
	if cfg.Ledger.ChainID != 100 {
		t.Fatalf("unexpected default chain id: %d", cfg.Ledger.ChainID)
	}
	if cfg.Coordinator.Driver != "memory" || cfg.Coordinator.Threshold != 1 {
		t.Fatalf("unexpected coordinator defaults: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.ReplicaID == "" {
		t.Fatal("replica id must default to something stable")
	}
	if cfg.Oracle.Spec != "betting_signal" {
		t.Fatalf("unexpected oracle spec: %q", cfg.Oracle.Spec)
	}
	if !filepath.IsAbs(cfg.Runtime.DataDir) {
		t.Fatalf("data dir must resolve to an absolute path: %q", cfg.Runtime.DataDir)
	}

	amount, err := cfg.BettingAmount()
	if err != nil {
		t.Fatalf("betting amount failed: %v", err)
	}
	if amount.Cmp(big.NewInt(1000000000000000)) != 0 {
		t.Fatalf("unexpected default amount: %s", amount)
	}
	if cfg.RunInterval().Seconds() != 60 {
		t.Fatalf("unexpected run interval: %s", cfg.RunInterval())
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{
			name: "missing rpc url",
			content: `{
				"betting": {
					"betting_contract_address": "0x2222222222222222222222222222222222222222",
					"safe_contract_address": "0x5555555555555555555555555555555555555555",
					"match_key": "match-1"
				}
			}`,
		},
		{
			name: "missing match key",
			content: `{
				"ledger": {"rpc_url": "https://rpc.test"},
				"betting": {
					"betting_contract_address": "0x2222222222222222222222222222222222222222",
					"safe_contract_address": "0x5555555555555555555555555555555555555555"
				}
			}`,
		},
		{
			name: "bad betting amount",
			content: `{
				"ledger": {"rpc_url": "https://rpc.test"},
				"betting": {
					"betting_contract_address": "0x2222222222222222222222222222222222222222",
					"safe_contract_address": "0x5555555555555555555555555555555555555555",
					"match_key": "match-1",
					"betting_amount_wei": "-5"
				}
			}`,
		},
		{
			name: "unknown coordinator driver",
			content: `{
				"ledger": {"rpc_url": "https://rpc.test"},
				"coordinator": {"driver": "zookeeper"},
				"betting": {
					"betting_contract_address": "0x2222222222222222222222222222222222222222",
					"safe_contract_address": "0x5555555555555555555555555555555555555555",
					"match_key": "match-1"
				}
			}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for an empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
