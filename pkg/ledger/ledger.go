// Package ledger replays staking events off-chain to reproduce the staking
// contract's reward accounting: a global reward-per-staked-unit accumulator
// advances with elapsed time proportional to total stake, and each account
// settles against it on every balance change. Replaying to an epoch's
// boundary blocks yields per-account earned-reward deltas without a contract
// call per account per block.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shapeshift/rfox/pkg/events"
)

var (
	// PrecisionScale is the fixed-point scale (WAD) used by the staking
	// contract for the reward-per-token accumulator.
	PrecisionScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// RewardRate is the contract's reward units emitted per second across
	// all stakers.
	RewardRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
)

var (
	// ErrNegativeBalance marks an unstake larger than the account's tracked
	// balance: a data-integrity failure, never clamped.
	ErrNegativeBalance = errors.New("unstake exceeds tracked balance")

	// ErrTimeRegression marks an event stream whose timestamps go backwards.
	ErrTimeRegression = errors.New("event timestamp precedes last accumulator update")
)

// AccountState tracks one staking account during replay. Accounts are never
// deleted: a balance may fall to zero and rise again.
type AccountState struct {
	// Balance is the currently staked amount in base units.
	Balance *big.Int

	// Checkpoint is the global accumulator value this account last settled
	// against.
	Checkpoint *big.Int

	// Earned is the cumulative reward units settled so far. Non-decreasing.
	Earned *big.Int

	// RuneAddress is the latest THORChain reward address observed for the
	// account (set by Stake, updated by SetRuneAddress).
	RuneAddress string
}

// State is the full replay state: a pure value threaded through Apply so the
// replay is a deterministic function of (events, initial state).
type State struct {
	// Accumulator is the global reward-per-staked-unit value, scaled by
	// PrecisionScale. Monotonically non-decreasing.
	Accumulator *big.Int

	// TotalStaked is the sum of all account balances in base units.
	TotalStaked *big.Int

	// LastUpdated is the timestamp of the last accumulator update.
	LastUpdated uint64

	accounts map[common.Address]*AccountState
	order    []common.Address // first-seen order, for deterministic iteration
}

// NewState returns the replay state as of contract creation: empty, with the
// accumulator clock starting at the creation timestamp.
func NewState(contractCreatedAt uint64) *State {
	return &State{
		Accumulator: new(big.Int),
		TotalStaked: new(big.Int),
		LastUpdated: contractCreatedAt,
		accounts:    make(map[common.Address]*AccountState),
	}
}

func (s *State) account(addr common.Address) *AccountState {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &AccountState{
			Balance:    new(big.Int),
			Checkpoint: new(big.Int),
			Earned:     new(big.Int),
		}
		s.accounts[addr] = acct
		s.order = append(s.order, addr)
	}
	return acct
}

// Account returns a copy of the state for addr, if it has ever been seen.
func (s *State) Account(addr common.Address) (AccountState, bool) {
	acct, ok := s.accounts[addr]
	if !ok {
		return AccountState{}, false
	}
	return AccountState{
		Balance:     new(big.Int).Set(acct.Balance),
		Checkpoint:  new(big.Int).Set(acct.Checkpoint),
		Earned:      new(big.Int).Set(acct.Earned),
		RuneAddress: acct.RuneAddress,
	}, true
}

// advance moves the accumulator forward to ts. While nothing is staked the
// accumulator does not move: no rewards accrue, and no division by zero.
func (s *State) advance(ts uint64) {
	if ts <= s.LastUpdated {
		return
	}
	if s.TotalStaked.Sign() > 0 {
		elapsed := new(big.Int).SetUint64(ts - s.LastUpdated)
		accrued := new(big.Int).Mul(RewardRate, elapsed)
		accrued.Mul(accrued, PrecisionScale)
		accrued.Div(accrued, s.TotalStaked)
		s.Accumulator.Add(s.Accumulator, accrued)
	}
	s.LastUpdated = ts
}

// settle credits an account with rewards accrued since its checkpoint and
// moves the checkpoint to the current accumulator.
func (s *State) settle(acct *AccountState) {
	diff := new(big.Int).Sub(s.Accumulator, acct.Checkpoint)
	if diff.Sign() > 0 && acct.Balance.Sign() > 0 {
		owed := new(big.Int).Mul(acct.Balance, diff)
		owed.Div(owed, PrecisionScale)
		acct.Earned.Add(acct.Earned, owed)
	}
	acct.Checkpoint.Set(s.Accumulator)
}

// Apply folds one staking event into the state: advance the accumulator,
// settle the affected account, then apply the balance delta.
func (s *State) Apply(ev events.Event) error {
	if ev.Timestamp < s.LastUpdated {
		return fmt.Errorf("%w: %s event for %s at block %d (t=%d, last update t=%d)",
			ErrTimeRegression, ev.Kind, ev.Account, ev.BlockNumber, ev.Timestamp, s.LastUpdated)
	}

	s.advance(ev.Timestamp)

	acct := s.account(ev.Account)
	s.settle(acct)

	switch ev.Kind {
	case events.KindStake:
		acct.Balance.Add(acct.Balance, ev.Amount)
		s.TotalStaked.Add(s.TotalStaked, ev.Amount)
		acct.RuneAddress = ev.RuneAddress

	case events.KindUnstake:
		if new(big.Int).Add(acct.Balance, ev.Amount).Sign() < 0 {
			return fmt.Errorf("%w: account %s balance %s, unstake %s at block %d",
				ErrNegativeBalance, ev.Account, acct.Balance, new(big.Int).Neg(ev.Amount), ev.BlockNumber)
		}
		acct.Balance.Add(acct.Balance, ev.Amount)
		s.TotalStaked.Add(s.TotalStaked, ev.Amount)

	case events.KindSetRuneAddress:
		acct.RuneAddress = ev.RuneAddress

	default:
		return fmt.Errorf("unknown event kind %s at block %d", ev.Kind, ev.BlockNumber)
	}

	return nil
}

// SettleAt advances the accumulator to ts and settles every account, so each
// account's Earned reflects rewards accrued up to that instant. Used at epoch
// boundaries where earned values are captured between events.
func (s *State) SettleAt(ts uint64) error {
	if ts < s.LastUpdated {
		return fmt.Errorf("%w: settle at t=%d, last update t=%d", ErrTimeRegression, ts, s.LastUpdated)
	}
	s.advance(ts)
	for _, addr := range s.order {
		s.settle(s.accounts[addr])
	}
	return nil
}

// Replay folds all events up to and including untilBlock into a fresh state
// and settles it at untilTime (that block's timestamp). Events must already
// be in (block, log index) ascending order with timestamps attached.
func Replay(contractCreatedAt uint64, evs []events.Event, untilBlock, untilTime uint64) (*State, error) {
	s := NewState(contractCreatedAt)
	for _, ev := range evs {
		if ev.BlockNumber > untilBlock {
			break
		}
		if err := s.Apply(ev); err != nil {
			return nil, err
		}
	}
	if err := s.SettleAt(untilTime); err != nil {
		return nil, err
	}
	return s, nil
}
