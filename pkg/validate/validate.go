// Package validate cross-checks the off-chain reward replay against the
// authoritative on-chain staking contract before any payout is allowed to
// proceed.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shapeshift/rfox/pkg/chain"
	"github.com/shapeshift/rfox/pkg/ledger"
)

// EarnedReader reads an account's cumulative earned rewards from the staking
// contract at a historical block.
type EarnedReader interface {
	Earned(ctx context.Context, account common.Address, block uint64) (*big.Int, error)
}

// MismatchError reports a divergence between the replayed and on-chain
// reward delta for one account. Any mismatch is fatal: it means either a
// replay bug or an on-chain state transition the replay does not model, and
// the distribution must not proceed.
type MismatchError struct {
	Account    common.Address
	StartBlock uint64
	EndBlock   uint64
	Replayed   *big.Int
	OnChain    *big.Int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reward mismatch for account %s over blocks %d-%d: replayed %s, on-chain %s",
		e.Account, e.StartBlock, e.EndBlock, e.Replayed, e.OnChain)
}

type Config struct {
	Logger *slog.Logger
	Reader EarnedReader
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Reader == nil {
		return errors.New("earned reader is required")
	}
	return nil
}

type Validator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{log: cfg.Logger, cfg: cfg}, nil
}

// CheckDeltas re-derives each account's epoch reward from the contract as
// earned(endBlock) - earned(startBlock-1) and requires bit-exact equality
// with the replayed delta. Reads are sequential: historical contract queries
// are the rate-limited resource here, and the first mismatch aborts anyway.
func (v *Validator) CheckDeltas(ctx context.Context, deltas []ledger.Delta, startBlock, endBlock uint64) error {
	prevEpochEnd := startBlock - 1

	for i, d := range deltas {
		previous, err := v.cfg.Reader.Earned(ctx, d.Account, prevEpochEnd)
		if err != nil {
			return fmt.Errorf("failed to read earned rewards for %s at block %d: %w", d.Account, prevEpochEnd, err)
		}
		current, err := v.cfg.Reader.Earned(ctx, d.Account, endBlock)
		if err != nil {
			return fmt.Errorf("failed to read earned rewards for %s at block %d: %w", d.Account, endBlock, err)
		}

		onChain := new(big.Int).Sub(current, previous)
		if onChain.Cmp(d.RewardUnits) != 0 {
			return &MismatchError{
				Account:    d.Account,
				StartBlock: startBlock,
				EndBlock:   endBlock,
				Replayed:   new(big.Int).Set(d.RewardUnits),
				OnChain:    onChain,
			}
		}

		v.log.Debug("validated account rewards", "account", d.Account.Hex(), "progress", fmt.Sprintf("%d/%d", i+1, len(deltas)))
	}

	v.log.Info("cross-validation passed", "accounts", len(deltas), "startBlock", startBlock, "endBlock", endBlock)
	return nil
}

// CheckTotalUnits compares the replay's total epoch reward units against the
// contract's nominal emission (rate * epoch seconds). The totals legitimately
// differ by truncation dust and by intervals with zero stake, so this is a
// sanity margin, not an equality: a deviation beyond 0.01% is flagged for the
// operator.
func CheckTotalUnits(totalUnits *big.Int, secondsInEpoch uint64) (expected *big.Int, ok bool) {
	expected = new(big.Int).Mul(ledger.RewardRate, new(big.Int).SetUint64(secondsInEpoch))

	diff := new(big.Int).Sub(expected, totalUnits)
	diff.Abs(diff)

	// margin = expected / 10000
	margin := new(big.Int).Div(expected, big.NewInt(10_000))
	return expected, diff.Cmp(margin) <= 0
}

// StakingInfoReader reads the contract's per-account state at a historical
// block.
type StakingInfoReader interface {
	StakingInfo(ctx context.Context, account common.Address, block uint64) (chain.StakingInfo, error)
}

// CheckRewardAddresses verifies each delta's payout address against the
// contract's stakingInfo at the epoch's end block. The replay tracks
// addresses from events; the contract state is authoritative, and a
// divergence means RUNE would be sent to the wrong place.
func (v *Validator) CheckRewardAddresses(ctx context.Context, reader StakingInfoReader, deltas []ledger.Delta, endBlock uint64) error {
	for _, d := range deltas {
		info, err := reader.StakingInfo(ctx, d.Account, endBlock)
		if err != nil {
			return fmt.Errorf("failed to read staking info for %s at block %d: %w", d.Account, endBlock, err)
		}
		if info.RuneAddress != d.RuneAddress {
			return fmt.Errorf("reward address mismatch for account %s at block %d: replayed %q, on-chain %q",
				d.Account, endBlock, d.RuneAddress, info.RuneAddress)
		}
	}

	v.log.Info("reward addresses verified", "accounts", len(deltas), "block", endBlock)
	return nil
}
