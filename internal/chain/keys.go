// Package chain covers the on-chain side: key handling, address checks,
// token unit conversion and ERC-20 balance reads over JSON-RPC.
package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var ErrInvalidKey = errors.New("invalid private key")

// ValidAddress accepts 0x-prefixed 20-byte hex. Mixed-case input must carry
// a valid EIP-55 checksum.
func ValidAddress(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

// NormalizeAddress returns the checksummed form.
func NormalizeAddress(s string) string {
	return common.HexToAddress(strings.TrimSpace(s)).Hex()
}

func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(raw) != 64 {
		return nil, ErrInvalidKey
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// AddressOf returns the checksummed address of key.
func AddressOf(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// EncodePrivateKey returns the 0x-prefixed hex form.
func EncodePrivateKey(key *ecdsa.PrivateKey) string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

// GenerateWallet creates a fresh secp256k1 key.
func GenerateWallet() (privHex string, address string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", err
	}
	return EncodePrivateKey(key), AddressOf(key), nil
}

// ToRaw converts a token amount into base units, truncating extra places.
func ToRaw(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FitsDecimals reports whether amount has no digits beyond decimals.
func FitsDecimals(amount decimal.Decimal, decimals int32) bool {
	return amount.Shift(decimals).IsInteger()
}

func FromRaw(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
