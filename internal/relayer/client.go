// Package relayer talks to the gasless relayer that deploys Safe wallets and
// submits token approvals and transfers on their behalf.
package relayer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	StatePending   = "PENDING"
	StateMined     = "MINED"
	StateConfirmed = "CONFIRMED"
	StateFailed    = "FAILED"
)

var ErrTransactionFailed = errors.New("relayer transaction failed")

type Client struct {
	BaseURL string
	APIKey  string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	HTTP *http.Client
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (c *Client) Login(ctx context.Context) error {
	base := c.base()
	if base == "" {
		return errors.New("relayer base url is empty")
	}
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return errors.New("relayer api key is empty")
	}

	var lr loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", map[string]any{"api_key": apiKey}, "", &lr); err != nil {
		return fmt.Errorf("relayer login: %w", err)
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(lr.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.RLock()
	tok := c.token
	exp := c.expiresAt
	c.mu.RUnlock()
	if strings.TrimSpace(tok) == "" {
		return c.Login(ctx)
	}
	if !exp.IsZero() && time.Until(exp) < 2*time.Minute {
		return c.Login(ctx)
	}
	return nil
}

type Transaction struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Hash  string `json:"hash"`
	Error string `json:"error"`
}

func (t Transaction) Done() bool {
	return t.State == StateMined || t.State == StateConfirmed || t.State == StateFailed
}

type submitResponse struct {
	TransactionID string `json:"transactionId"`
}

type signedRequest struct {
	Owner     string   `json:"owner"`
	Token     string   `json:"token,omitempty"`
	Spenders  []string `json:"spenders,omitempty"`
	To        string   `json:"to,omitempty"`
	Amount    string   `json:"amount,omitempty"`
	Data      string   `json:"data,omitempty"`
	Nonce     int64    `json:"nonce"`
	Signature string   `json:"signature"`
}

// DeploySafe asks the relayer to deploy the Safe owned by key.
func (c *Client) DeploySafe(ctx context.Context, key *ecdsa.PrivateKey) (string, error) {
	req := signedRequest{Owner: crypto.PubkeyToAddress(key.PublicKey).Hex()}
	return c.submit(ctx, "/safes", "deploy", key, req)
}

// Approve grants spenders an unlimited allowance of token.
func (c *Client) Approve(ctx context.Context, key *ecdsa.PrivateKey, token string, spenders []string) (string, error) {
	req := signedRequest{
		Owner:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Token:    token,
		Spenders: spenders,
	}
	return c.submit(ctx, "/approvals", "approve", key, req)
}

// Transfer sends amount (base units) of token to the given address. data is
// the encoded ERC-20 transfer call.
func (c *Client) Transfer(ctx context.Context, key *ecdsa.PrivateKey, token, to, amount string, data []byte) (string, error) {
	req := signedRequest{
		Owner:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Token:  token,
		To:     to,
		Amount: amount,
		Data:   hexutil.Encode(data),
	}
	return c.submit(ctx, "/transfers", "transfer", key, req)
}

func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	if err := c.do(ctx, http.MethodGet, "/transactions/"+id, nil, c.Token(), &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Wait polls until the transaction is mined or failed, or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, every time.Duration) (Transaction, error) {
	if every <= 0 {
		every = 3 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		tx, err := c.GetTransaction(ctx, id)
		if err != nil {
			return Transaction{}, err
		}
		if tx.Done() {
			if tx.State == StateFailed {
				return tx, fmt.Errorf("%w: %s", ErrTransactionFailed, tx.Error)
			}
			return tx, nil
		}
		select {
		case <-ctx.Done():
			return tx, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) submit(ctx context.Context, path, action string, key *ecdsa.PrivateKey, req signedRequest) (string, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return "", err
	}
	req.Nonce = time.Now().UnixMilli()
	sig, err := signRequest(action, req, key)
	if err != nil {
		return "", err
	}
	req.Signature = sig

	var out submitResponse
	if err := c.do(ctx, http.MethodPost, path, req, c.Token(), &out); err != nil {
		return "", fmt.Errorf("relayer %s: %w", action, err)
	}
	if strings.TrimSpace(out.TransactionID) == "" {
		return "", fmt.Errorf("relayer %s: empty transaction id", action)
	}
	return out.TransactionID, nil
}

// signRequest signs "pmbots:<action>:" + the JSON request (signature
// omitted) as an EIP-191 personal message.
func signRequest(action string, req signedRequest, key *ecdsa.PrivateKey) (string, error) {
	req.Signature = ""
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	msg := append([]byte("pmbots:"+action+":"), payload...)
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, token string, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		// Force a fresh login on the next call.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (c *Client) base() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}
