// Package thorchain talks to a THORChain node over its LCD and Tendermint RPC
// interfaces. It covers the small surface the payout workflow needs: account
// lookup, funding detection, transaction construction, and broadcast.
package thorchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// NativeDenom is the base unit denom for RUNE (1e8 base units per RUNE).
	NativeDenom = "rune"

	// ChainID is the THORChain mainnet chain id.
	ChainID = "thorchain-1"

	// MsgSendType is the proto type url for a bank send message.
	MsgSendType = "/types.MsgSend"

	// TxFee is the native transaction fee in base units (0.02 RUNE).
	TxFee = 2_000_000

	// GasLimit is the gas wanted for a simple send.
	GasLimit = 500_000_000
)

type Config struct {
	Logger *slog.Logger

	// LCDURL is the Cosmos REST endpoint, e.g. https://daemon.thorchain.shapeshift.com/lcd.
	LCDURL string

	// RPCURL is the Tendermint RPC endpoint, e.g. https://daemon.thorchain.shapeshift.com/rpc.
	RPCURL string

	HTTPClient *http.Client
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LCDURL == "" {
		return errors.New("lcd url is required")
	}
	if cfg.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

type Client struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

// Account holds the signing identity for an address.
type Account struct {
	AccountNumber uint64
	Sequence      uint64
}

// RejectedError marks a broadcast the node refused. Resubmitting the same
// bytes will fail the same way, so it must not be retried.
type RejectedError struct {
	Code int
	Log  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction rejected with code %d: %s", e.Code, e.Log)
}

func (e *RejectedError) Rejected() bool { return true }

// Account fetches the account number and current sequence for address.
func (c *Client) Account(ctx context.Context, address string) (Account, error) {
	u := fmt.Sprintf("%s/cosmos/auth/v1beta1/accounts/%s", c.cfg.LCDURL, url.PathEscape(address))

	var result struct {
		Account struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"account"`
	}
	if err := c.getJSON(ctx, u, &result); err != nil {
		return Account{}, fmt.Errorf("failed to fetch account %s: %w", address, err)
	}

	accountNumber, err := strconv.ParseUint(result.Account.AccountNumber, 10, 64)
	if err != nil {
		return Account{}, fmt.Errorf("invalid account number %q: %w", result.Account.AccountNumber, err)
	}
	sequence, err := strconv.ParseUint(result.Account.Sequence, 10, 64)
	if err != nil {
		return Account{}, fmt.Errorf("invalid sequence %q: %w", result.Account.Sequence, err)
	}

	return Account{AccountNumber: accountNumber, Sequence: sequence}, nil
}

// SearchFundingTx looks for a confirmed transfer of exactly amount base units
// to address. It returns the transaction id, or "" when no match exists yet.
func (c *Client) SearchFundingTx(ctx context.Context, address string, amount *big.Int) (string, error) {
	query := fmt.Sprintf("transfer.recipient='%s' AND transfer.amount='%s%s'", address, amount.String(), NativeDenom)
	u := fmt.Sprintf("%s/tx_search?query=%s", c.cfg.RPCURL, url.QueryEscape(strconv.Quote(query)))

	var result struct {
		Result struct {
			Txs []struct {
				Hash     string `json:"hash"`
				TxResult struct {
					Code int `json:"code"`
				} `json:"tx_result"`
			} `json:"txs"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, u, &result); err != nil {
		return "", fmt.Errorf("funding search failed: %w", err)
	}

	for _, tx := range result.Result.Txs {
		if tx.TxResult.Code == 0 {
			return tx.Hash, nil
		}
	}
	return "", nil
}

// Broadcast submits signed transaction bytes via broadcast_tx_sync and returns
// the transaction hash. A non-zero response code is a RejectedError.
func (c *Client) Broadcast(ctx context.Context, signedTx []byte) (string, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "broadcast_tx_sync",
		"params":  map[string]string{"tx": string(signedTx)},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &statusError{status: resp.StatusCode, body: string(msg)}
	}

	var result struct {
		Result struct {
			Code int    `json:"code"`
			Log  string `json:"log"`
			Hash string `json:"hash"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
			Data    string `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode broadcast response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("broadcast rpc error: %s: %s", result.Error.Message, result.Error.Data)
	}
	if result.Result.Code != 0 {
		return "", &RejectedError{Code: result.Result.Code, Log: result.Result.Log}
	}

	c.log.Info("broadcast transaction", "txid", result.Result.Hash)
	return result.Result.Hash, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("thorchain node returned status %d: %s", e.status, e.body)
}

func (e *statusError) StatusCode() int { return e.status }

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{status: resp.StatusCode, body: string(msg)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
