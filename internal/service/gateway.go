package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"pmbots/internal/models"
	"pmbots/internal/relayer"
	"pmbots/internal/vault"
)

// WalletGateway performs the on-chain side of wallet operations.
type WalletGateway interface {
	// Activate deploys the wallet's Safe and approves the exchange spenders.
	// It returns the hash of the last mined transaction.
	Activate(ctx context.Context, w models.Wallet) (string, error)
	// Withdraw submits a token transfer and returns the relayer transaction id.
	Withdraw(ctx context.Context, w models.Wallet, to string, amount *big.Int) (string, error)
}

// TransferPacker encodes ERC-20 transfer calls.
type TransferPacker interface {
	PackTransfer(to string, amount *big.Int) ([]byte, error)
	Token() string
}

// RelayerGateway signs relayer requests with the wallet's own key.
type RelayerGateway struct {
	Relayer      *relayer.Client
	Vault        *vault.Vault
	Packer       TransferPacker
	Spenders     []string
	PollInterval time.Duration
}

var errGatewayNotConfigured = errors.New("relayer gateway not configured")

func (g *RelayerGateway) Activate(ctx context.Context, w models.Wallet) (string, error) {
	if g == nil || g.Relayer == nil || g.Vault == nil || g.Packer == nil {
		return "", errGatewayNotConfigured
	}
	key, err := openKey(g.Vault, w)
	if err != nil {
		return "", err
	}

	deployID, err := g.Relayer.DeploySafe(ctx, key)
	if err != nil {
		return "", err
	}
	if _, err := g.Relayer.Wait(ctx, deployID, g.PollInterval); err != nil {
		return "", err
	}

	approveID, err := g.Relayer.Approve(ctx, key, g.Packer.Token(), g.Spenders)
	if err != nil {
		return "", err
	}
	tx, err := g.Relayer.Wait(ctx, approveID, g.PollInterval)
	if err != nil {
		return "", err
	}
	return tx.Hash, nil
}

func (g *RelayerGateway) Withdraw(ctx context.Context, w models.Wallet, to string, amount *big.Int) (string, error) {
	if g == nil || g.Relayer == nil || g.Vault == nil || g.Packer == nil {
		return "", errGatewayNotConfigured
	}
	key, err := openKey(g.Vault, w)
	if err != nil {
		return "", err
	}
	data, err := g.Packer.PackTransfer(to, amount)
	if err != nil {
		return "", err
	}
	return g.Relayer.Transfer(ctx, key, g.Packer.Token(), to, amount.String(), data)
}
