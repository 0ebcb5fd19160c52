package paymaster

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const accountABIJSON = `[
	{"type":"function","name":"execute","inputs":[
		{"name":"dest","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"func","type":"bytes"}]},
	{"type":"function","name":"executeBatch","inputs":[
		{"name":"dest","type":"address[]"},
		{"name":"value","type":"uint256[]"},
		{"name":"func","type":"bytes[]"}]}
]`

const tokenABIJSON = `[
	{"type":"function","name":"approve","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"mint","inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}]}
]`

var (
	accountABI = mustParseABI(accountABIJSON)
	tokenABI   = mustParseABI(tokenABIJSON)
)

var ErrUndecodableCall = errors.New("paymaster: undecodable call data")

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Call is one inner call an account operation will make.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// DecodeCalls decodes account call data built with execute or executeBatch.
func DecodeCalls(callData []byte) ([]Call, error) {
	if len(callData) < 4 {
		return nil, fmt.Errorf("%w: no selector", ErrUndecodableCall)
	}
	method, err := accountABI.MethodById(callData[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableCall, err)
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndecodableCall, method.Name, err)
	}
	switch method.Name {
	case "execute":
		return []Call{{
			Target: args[0].(common.Address),
			Value:  args[1].(*big.Int),
			Data:   args[2].([]byte),
		}}, nil
	case "executeBatch":
		dests := args[0].([]common.Address)
		values := args[1].([]*big.Int)
		datas := args[2].([][]byte)
		if len(dests) != len(datas) || (len(values) != 0 && len(values) != len(dests)) {
			return nil, fmt.Errorf("%w: executeBatch length mismatch", ErrUndecodableCall)
		}
		calls := make([]Call, len(dests))
		for i := range dests {
			v := new(big.Int)
			if len(values) != 0 {
				v = values[i]
			}
			calls[i] = Call{Target: dests[i], Value: v, Data: datas[i]}
		}
		return calls, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUndecodableCall, method.Name)
}

// EncodeExecute builds account call data for a single call.
func EncodeExecute(c Call) ([]byte, error) {
	return accountABI.Pack("execute", c.Target, valueOrZero(c.Value), c.Data)
}

// EncodeExecuteBatch builds account call data for several calls.
func EncodeExecuteBatch(calls []Call) ([]byte, error) {
	dests := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	datas := make([][]byte, len(calls))
	for i, c := range calls {
		dests[i], values[i], datas[i] = c.Target, valueOrZero(c.Value), c.Data
	}
	return accountABI.Pack("executeBatch", dests, values, datas)
}

// EncodeApprove and EncodeMint build the inner token calls the carve-outs
// recognise.
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("approve", spender, amount)
}

func EncodeMint(to common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("mint", to, amount)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// tokenCall decodes an inner approve or mint call.
func tokenCall(data []byte, name string) (common.Address, *big.Int, bool) {
	m := tokenABI.Methods[name]
	if len(data) < 4 || !bytes.Equal(data[:4], m.ID) {
		return common.Address{}, nil, false
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, false
	}
	return args[0].(common.Address), args[1].(*big.Int), true
}

// isActivationCallData reports whether every call is a zero-value approve
// on an accepted currency naming spender.
func isActivationCallData(callData []byte, spender common.Address, accepted func(common.Address) bool) bool {
	calls, err := DecodeCalls(callData)
	if err != nil || len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if c.Value.Sign() != 0 || !accepted(c.Target) {
			return false
		}
		to, _, ok := tokenCall(c.Data, "approve")
		if !ok || to != spender {
			return false
		}
	}
	return true
}

// isFaucetCallData reports whether every call is a zero-value mint on
// currency.
func isFaucetCallData(callData []byte, currency common.Address) bool {
	calls, err := DecodeCalls(callData)
	if err != nil || len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if c.Value.Sign() != 0 || c.Target != currency {
			return false
		}
		if _, _, ok := tokenCall(c.Data, "mint"); !ok {
			return false
		}
	}
	return true
}
