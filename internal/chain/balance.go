package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// batchSize bounds one JSON-RPC batch request.
const batchSize = 100

// BalanceReader reads raw token balances (base units).
type BalanceReader interface {
	Balances(ctx context.Context, addresses []string) (map[string]*big.Int, error)
}

// TokenBalances reads an ERC-20 balanceOf for many holders, batching the
// eth_call requests into as few round trips as possible.
type TokenBalances struct {
	client  *rpc.Client
	token   common.Address
	abi     abi.ABI
	timeout time.Duration
}

func DialTokenBalances(ctx context.Context, rpcURL string, token string, timeout time.Duration) (*TokenBalances, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewTokenBalances(client, token, timeout)
}

func NewTokenBalances(client *rpc.Client, token string, timeout time.Duration) (*TokenBalances, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address %q", token)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenBalances{client: client, token: common.HexToAddress(token), abi: parsed, timeout: timeout}, nil
}

func (t *TokenBalances) Close() {
	if t != nil && t.client != nil {
		t.client.Close()
	}
}

type callArgs struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Balances returns balances keyed by the lower-cased address. Any failed
// element fails the whole call.
func (t *TokenBalances) Balances(ctx context.Context, addresses []string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	for start := 0; start < len(addresses); start += batchSize {
		end := start + batchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		chunk := addresses[start:end]
		results := make([]hexutil.Bytes, len(chunk))
		elems := make([]rpc.BatchElem, len(chunk))
		for i, addr := range chunk {
			data, err := t.abi.Pack("balanceOf", common.HexToAddress(addr))
			if err != nil {
				return nil, err
			}
			elems[i] = rpc.BatchElem{
				Method: "eth_call",
				Args:   []any{callArgs{To: t.token, Data: data}, "latest"},
				Result: &results[i],
			}
		}
		if err := t.client.BatchCallContext(ctx, elems); err != nil {
			return nil, err
		}
		for i, addr := range chunk {
			if elems[i].Error != nil {
				return nil, fmt.Errorf("balanceOf %s: %w", addr, elems[i].Error)
			}
			vals, err := t.abi.Unpack("balanceOf", results[i])
			if err != nil {
				return nil, fmt.Errorf("balanceOf %s: %w", addr, err)
			}
			bal, ok := vals[0].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("balanceOf %s: unexpected result type %T", addr, vals[0])
			}
			out[strings.ToLower(addr)] = bal
		}
	}
	return out, nil
}

// PackTransfer encodes an ERC-20 transfer call for the relayer.
func (t *TokenBalances) PackTransfer(to string, amount *big.Int) ([]byte, error) {
	return t.abi.Pack("transfer", common.HexToAddress(to), amount)
}

func (t *TokenBalances) Token() string {
	return t.token.Hex()
}
