package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

func TestGenerateWallet_RoundTrip(t *testing.T) {
	priv, addr, err := GenerateWallet()
	if err != nil {
		t.Fatalf("generate err=%v", err)
	}
	key, err := ParsePrivateKey(priv)
	if err != nil {
		t.Fatalf("parse err=%v", err)
	}
	if got := AddressOf(key); got != addr {
		t.Fatalf("address=%s want=%s", got, addr)
	}
	if !ValidAddress(addr) {
		t.Fatalf("generated address %s rejected", addr)
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	for _, raw := range []string{"", "0x1234", strings.Repeat("zz", 32), "0x" + strings.Repeat("0", 64)} {
		if _, err := ParsePrivateKey(raw); err == nil {
			t.Fatalf("key %q accepted", raw)
		}
	}
}

func TestValidAddress(t *testing.T) {
	cases := map[string]bool{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed": true,
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed": true,
		"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED": true,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD": false,
		"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed":   false,
		"0x1234": false,
	}
	for addr, want := range cases {
		if got := ValidAddress(addr); got != want {
			t.Fatalf("ValidAddress(%s)=%v want=%v", addr, got, want)
		}
	}
}

func TestRawConversion(t *testing.T) {
	raw := ToRaw(decimal.RequireFromString("55.1234567"), 6)
	if raw.String() != "55123456" {
		t.Fatalf("raw=%s want=55123456", raw)
	}
	if got := FromRaw(big.NewInt(55_000000), 6); !got.Equal(decimal.NewFromInt(55)) {
		t.Fatalf("fromRaw=%s want=55", got)
	}
	if !FitsDecimals(decimal.RequireFromString("1.000001"), 6) || FitsDecimals(decimal.RequireFromString("1.0000009"), 6) {
		t.Fatalf("FitsDecimals boundary wrong")
	}
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func TestTokenBalances_Batched(t *testing.T) {
	batches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Errorf("decode batch err=%v", err)
			return
		}
		batches++
		resp := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			var call struct {
				Data string `json:"data"`
			}
			_ = json.Unmarshal(req.Params[0], &call)
			// Last byte of the holder address doubles as the balance.
			last := call.Data[len(call.Data)-2:]
			resp = append(resp, map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  "0x" + strings.Repeat("0", 62) + last,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := rpc.DialHTTP(srv.URL)
	if err != nil {
		t.Fatalf("dial err=%v", err)
	}
	tb, err := NewTokenBalances(client, "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", time.Second)
	if err != nil {
		t.Fatalf("new err=%v", err)
	}
	defer tb.Close()

	var addrs []string
	for i := 1; i <= 120; i++ {
		addrs = append(addrs, fmt.Sprintf("0x%040x", i%256))
	}
	got, err := tb.Balances(context.Background(), addrs)
	if err != nil {
		t.Fatalf("balances err=%v", err)
	}
	if batches != 2 {
		t.Fatalf("batches=%d want=2", batches)
	}
	if got[strings.ToLower(addrs[41])].Int64() != 42 {
		t.Fatalf("balance=%s want=42", got[strings.ToLower(addrs[41])])
	}
}
