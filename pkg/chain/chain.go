// Package chain reads the rFOX staking contract on Arbitrum: filtered logs,
// block headers, and historical contract state. All RPC traffic flows through
// a shared rate limiter so replay and validation stay inside provider limits.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

const callABIJSON = `[
	{"type":"function","name":"earned","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"stakingInfo","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"stakingBalance","type":"uint256"},{"name":"unstakingBalance","type":"uint256"},{"name":"earnedRewards","type":"uint256"},{"name":"rewardPerTokenStored","type":"uint256"},{"name":"runeAddress","type":"string"}]}
]`

var callABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(callABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid staking call abi: %v", err))
	}
	return parsed
}()

// EthereumRPC is the subset of the execution-client API the reader uses.
// *ethclient.Client satisfies it.
type EthereumRPC interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	Logger *slog.Logger
	RPC    EthereumRPC

	// Contract is the staking proxy contract address.
	Contract common.Address

	// RequestsPerSecond caps outbound RPC calls.
	RequestsPerSecond float64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("ethereum rpc client is required")
	}
	if cfg.Contract == (common.Address{}) {
		return errors.New("staking contract address is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	return nil
}

type Client struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// Dial connects to an execution client over url.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum rpc %s: %w", url, err)
	}
	return client, nil
}

// Logs returns contract logs matching topics in the inclusive range [from, to].
func (c *Client) Logs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.cfg.RPC.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.cfg.Contract},
		Topics:    [][]common.Hash{topics},
	})
}

// BlockTime returns the timestamp of block number.
func (c *Client) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	header, err := c.header(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := c.header(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func (c *Client) header(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	header, err := c.cfg.RPC.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header %v: %w", number, err)
	}
	return header, nil
}

// Earned returns the contract's cumulative reward units for account at block.
func (c *Client) Earned(ctx context.Context, account common.Address, block uint64) (*big.Int, error) {
	out, err := c.call(ctx, "earned", block, account)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// StakingInfo is the contract's per-account state.
type StakingInfo struct {
	StakingBalance       *big.Int
	UnstakingBalance     *big.Int
	EarnedRewards        *big.Int
	RewardPerTokenStored *big.Int
	RuneAddress          string
}

// StakingInfo returns the contract's per-account state for account at block.
func (c *Client) StakingInfo(ctx context.Context, account common.Address, block uint64) (StakingInfo, error) {
	out, err := c.call(ctx, "stakingInfo", block, account)
	if err != nil {
		return StakingInfo{}, err
	}
	return StakingInfo{
		StakingBalance:       out[0].(*big.Int),
		UnstakingBalance:     out[1].(*big.Int),
		EarnedRewards:        out[2].(*big.Int),
		RewardPerTokenStored: out[3].(*big.Int),
		RuneAddress:          out[4].(string),
	}, nil
}

func (c *Client) call(ctx context.Context, method string, block uint64, args ...any) ([]any, error) {
	data, err := callABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.cfg.RPC.CallContract(ctx, ethereum.CallMsg{
		To:   &c.cfg.Contract,
		Data: data,
	}, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, fmt.Errorf("%s call failed at block %d: %w", method, block, err)
	}

	out, err := callABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}
