package betting

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"AgentBet-Chain/internal/contracts/safe"
	xerrors "AgentBet-Chain/internal/errors"
)

const (
	// TxHashLength is the exact stripped length every wallet hash must have.
	// A 32-byte hash renders to 64 hex characters; anything else is rejected
	// outright so a truncated or padded value can never reach agreement.
	TxHashLength = 64

	// hashMarkerLength is the size of the "0x" marker prefix on wallet
	// returned hashes.
	hashMarkerLength = 2
)

// StripHashMarker removes the 2-character marker prefix and validates the
// remaining hash. Any other length or non-hex content is a fatal condition.
func StripHashMarker(hash string) (string, error) {
	if len(hash) < hashMarkerLength {
		return "", xerrors.New(xerrors.CodeInvalidHash, fmt.Sprintf("钱包返回的哈希过短: %q", hash))
	}
	stripped := hash[hashMarkerLength:]
	if len(stripped) != TxHashLength {
		return "", xerrors.New(xerrors.CodeInvalidHash,
			fmt.Sprintf("钱包返回的哈希长度非法: 期望 %d, 实际 %d", TxHashLength, len(stripped)))
	}
	if _, err := hex.DecodeString(stripped); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidHash, err, "钱包返回的哈希不是十六进制")
	}
	return stripped, nil
}

// HashPayloadToHex combines the stripped wallet hash with every field the
// settlement layer needs into one canonical hex string. The layout is fixed:
// hash (64) | value (64) | gas (64) | operation (2) | to (40, lowercase) |
// data hex. Replicas must reproduce this byte for byte, so no field may be
// formatted differently anywhere.
func HashPayloadToHex(safeTxHash string, etherValue *big.Int, safeTxGas uint64, toAddress string, data []byte, operation safe.Operation) (string, error) {
	if len(safeTxHash) != TxHashLength {
		return "", xerrors.New(xerrors.CodeInvalidHash,
			fmt.Sprintf("交易哈希长度非法: 期望 %d, 实际 %d", TxHashLength, len(safeTxHash)))
	}
	if _, err := hex.DecodeString(safeTxHash); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidHash, err, "交易哈希不是十六进制")
	}
	if !common.IsHexAddress(toAddress) {
		return "", xerrors.New(xerrors.CodeInvalidHash, fmt.Sprintf("目标地址非法: %s", toAddress))
	}
	if etherValue == nil {
		etherValue = big.NewInt(0)
	}

	var builder strings.Builder
	builder.WriteString(strings.ToLower(safeTxHash))
	builder.WriteString(fmt.Sprintf("%064x", etherValue))
	builder.WriteString(fmt.Sprintf("%064x", safeTxGas))
	builder.WriteString(fmt.Sprintf("%02x", uint8(operation)))
	builder.WriteString(strings.ToLower(common.HexToAddress(toAddress).Hex()[2:]))
	builder.WriteString(hex.EncodeToString(data))
	return builder.String(), nil
}
