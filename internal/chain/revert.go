package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertReason extracts a decoded revert reason from a JSON-RPC error that
// carries revert data.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	return DecodeRevertData(raw)
}

// DecodeRevertData decodes Error(string) and Panic(uint256) payloads. Other
// payloads are reported by their 4-byte custom error selector.
func DecodeRevertData(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0x" {
		return "", false
	}
	data, err := hexutil.Decode(raw)
	if err != nil || len(data) < 4 {
		return "", false
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return fmt.Sprintf("custom error 0x%x", data[:4]), true
	}
	return reason, true
}
