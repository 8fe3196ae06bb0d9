package betting

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"AgentBet-Chain/internal/contracts/safe"
	xerrors "AgentBet-Chain/internal/errors"
)

func TestStripHashMarker(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("ab", 32)

	t.Run("accepts a well formed hash", func(t *testing.T) {
		got, err := StripHashMarker("0x" + valid)
		if err != nil {
			t.Fatalf("strip failed: %v", err)
		}
		if got != valid {
			t.Fatalf("unexpected stripped hash: %q", got)
		}
	})

	t.Run("rejects wrong lengths", func(t *testing.T) {
		for _, hash := range []string{
			"",
			"0x",
			"0x" + valid[:62],
			"0x" + valid + "ff",
		} {
			if _, err := StripHashMarker(hash); err == nil {
				t.Fatalf("expected error for %q", hash)
			} else if !errors.Is(err, xerrors.New(xerrors.CodeInvalidHash, "")) {
				t.Fatalf("expected invalid hash code for %q, got %v", hash, err)
			}
		}
	})

	t.Run("rejects non hex content", func(t *testing.T) {
		if _, err := StripHashMarker("0x" + strings.Repeat("zz", 32)); err == nil {
			t.Fatal("expected error for non hex hash")
		}
	})
}

func TestHashPayloadToHexLayout(t *testing.T) {
	t.Parallel()

	hash := strings.Repeat("ab", 32)
	to := "0x40A2aCCbd92BCA938b02010E17A5b8929b49130D"
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	got, err := HashPayloadToHex(hash, big.NewInt(255), 0, to, data, safe.OperationCall)
	if err != nil {
		t.Fatalf("hash payload failed: %v", err)
	}

	wantLen := 64 + 64 + 64 + 2 + 40 + len(data)*2
	if len(got) != wantLen {
		t.Fatalf("unexpected length: got %d want %d", len(got), wantLen)
	}
	if !strings.HasPrefix(got, hash) {
		t.Fatalf("payload must start with the stripped hash: %q", got[:64])
	}
	value := got[64:128]
	if value != strings.Repeat("0", 62)+"ff" {
		t.Fatalf("unexpected value field: %q", value)
	}
	gas := got[128:192]
	if gas != strings.Repeat("0", 64) {
		t.Fatalf("unexpected gas field: %q", gas)
	}
	if got[192:194] != "00" {
		t.Fatalf("unexpected operation field: %q", got[192:194])
	}
	if got[194:234] != strings.ToLower(to[2:]) {
		t.Fatalf("unexpected address field: %q", got[194:234])
	}
	if got[234:] != "deadbeef" {
		t.Fatalf("unexpected data suffix: %q", got[234:])
	}
}

func TestHashPayloadToHexDeterminism(t *testing.T) {
	t.Parallel()

	hash := strings.Repeat("0a", 32)
	to := "0x1111111111111111111111111111111111111111"

	first, err := HashPayloadToHex(hash, big.NewInt(1), 0, to, nil, safe.OperationDelegateCall)
	if err != nil {
		t.Fatalf("first encoding failed: %v", err)
	}
	second, err := HashPayloadToHex(hash, big.NewInt(1), 0, strings.ToUpper(to[:2])+to[2:], nil, safe.OperationDelegateCall)
	if err != nil {
		t.Fatalf("second encoding failed: %v", err)
	}
	if first != second {
		t.Fatalf("encodings diverged:\n%s\n%s", first, second)
	}
	if got := first[192:194]; got != "01" {
		t.Fatalf("unexpected delegate call marker: %q", got)
	}
}

func TestHashPayloadToHexRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := HashPayloadToHex("abc", nil, 0, "0x1111111111111111111111111111111111111111", nil, safe.OperationCall); err == nil {
		t.Fatal("expected error for short hash")
	}
	if _, err := HashPayloadToHex(strings.Repeat("ab", 32), nil, 0, "not-an-address", nil, safe.OperationCall); err == nil {
		t.Fatal("expected error for invalid address")
	}
}
