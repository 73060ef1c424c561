package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/shapeshift/rfox/pkg/events"
)

var (
	accountA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	accountB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func stake(account common.Address, block, ts uint64, amount int64, runeAddress string) events.Event {
	return events.Event{
		Kind:        events.KindStake,
		Account:     account,
		BlockNumber: block,
		Timestamp:   ts,
		Amount:      big.NewInt(amount),
		RuneAddress: runeAddress,
	}
}

func unstake(account common.Address, block, ts uint64, amount int64) events.Event {
	return events.Event{
		Kind:        events.KindUnstake,
		Account:     account,
		BlockNumber: block,
		Timestamp:   ts,
		Amount:      big.NewInt(-amount),
	}
}

func setRuneAddress(account common.Address, block, ts uint64, addr string) events.Event {
	return events.Event{
		Kind:        events.KindSetRuneAddress,
		Account:     account,
		BlockNumber: block,
		Timestamp:   ts,
		RuneAddress: addr,
	}
}

// rate * seconds, the reward units accrued by a sole staker over an interval.
func unitsFor(seconds int64) *big.Int {
	return new(big.Int).Mul(RewardRate, big.NewInt(seconds))
}

func TestRFox_Ledger_SingleStakerAccruesFullRate(t *testing.T) {
	t.Parallel()

	evs := []events.Event{stake(accountA, 10, 100, 100, "thor1a")}

	s, err := Replay(0, evs, 20, 200)
	require.NoError(t, err)

	acct, ok := s.Account(accountA)
	require.True(t, ok)
	require.Equal(t, unitsFor(100), acct.Earned)
	require.Equal(t, "thor1a", acct.RuneAddress)
}

func TestRFox_Ledger_ProportionalAccrual(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 1, 0, 100, "thor1a"),
		stake(accountB, 10, 100, 100, "thor1b"),
	}

	s, err := Replay(0, evs, 20, 200)
	require.NoError(t, err)

	// A staked alone for 100s, then split the rate evenly for 100s.
	acctA, _ := s.Account(accountA)
	require.Equal(t, unitsFor(150), acctA.Earned)

	acctB, _ := s.Account(accountB)
	require.Equal(t, unitsFor(50), acctB.Earned)
}

func TestRFox_Ledger_ZeroStakeIntervalAccruesNothing(t *testing.T) {
	t.Parallel()

	// Nothing staked until t=500: the accumulator must not move, and must
	// not divide by zero.
	evs := []events.Event{stake(accountA, 50, 500, 100, "thor1a")}

	s, err := Replay(0, evs, 100, 1000)
	require.NoError(t, err)

	acct, _ := s.Account(accountA)
	require.Equal(t, unitsFor(500), acct.Earned)
}

func TestRFox_Ledger_StakeAndFullUnstakeWithinEpochStillAccrues(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 100, 100, "thor1a"),
		unstake(accountA, 20, 200, 100),
	}

	s, err := Replay(0, evs, 30, 300)
	require.NoError(t, err)

	acct, _ := s.Account(accountA)
	require.Equal(t, big.NewInt(0).String(), acct.Balance.String())
	require.Equal(t, unitsFor(100), acct.Earned)

	// The post-unstake interval has zero total stake and accrues nothing.
	start := NewState(0)
	deltas, err := EpochDeltas(start, s)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, accountA, deltas[0].Account)
	require.Equal(t, unitsFor(100), deltas[0].RewardUnits)
}

func TestRFox_Ledger_UnstakeBeyondBalanceIsFatal(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 100, 100, "thor1a"),
		unstake(accountA, 20, 200, 101),
	}

	_, err := Replay(0, evs, 30, 300)
	require.ErrorIs(t, err, ErrNegativeBalance)
}

func TestRFox_Ledger_TimestampRegressionIsFatal(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 200, 100, "thor1a"),
		stake(accountB, 20, 100, 100, "thor1b"),
	}

	_, err := Replay(0, evs, 30, 300)
	require.ErrorIs(t, err, ErrTimeRegression)
}

func TestRFox_Ledger_SameTimestampEventsDoNotDoubleAdvance(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 100, 60, "thor1a"),
		stake(accountB, 10, 100, 40, "thor1b"),
	}

	s, err := Replay(0, evs, 20, 200)
	require.NoError(t, err)

	acctA, _ := s.Account(accountA)
	acctB, _ := s.Account(accountB)

	total := new(big.Int).Add(acctA.Earned, acctB.Earned)
	require.Equal(t, unitsFor(100), total)
}

func TestRFox_Ledger_RuneAddressLatestWins(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 100, 100, "thor1old"),
		setRuneAddress(accountA, 20, 200, "thor1new"),
	}

	s, err := Replay(0, evs, 30, 300)
	require.NoError(t, err)

	acct, _ := s.Account(accountA)
	require.Equal(t, "thor1new", acct.RuneAddress)
}

func TestRFox_Ledger_EpochDeltas(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 100, 100, "thor1a"),
		stake(accountB, 110, 1100, 100, "thor1b"),
	}

	// Epoch covers blocks 101-200 (t=1000 to t=2000).
	start, err := Replay(0, evs, 100, 1000)
	require.NoError(t, err)
	end, err := Replay(0, evs, 200, 2000)
	require.NoError(t, err)

	deltas, err := EpochDeltas(start, end)
	require.NoError(t, err)
	require.Len(t, deltas, 2)

	// A: sole staker t=1000..1100 plus half rate t=1100..2000.
	require.Equal(t, accountA, deltas[0].Account)
	require.Equal(t, unitsFor(100+450), deltas[0].RewardUnits)
	// A's cumulative includes the 900s before the epoch.
	require.Equal(t, unitsFor(900+100+450), deltas[0].TotalRewardUnits)

	// B: half rate t=1100..2000, no prior state.
	require.Equal(t, accountB, deltas[1].Account)
	require.Equal(t, unitsFor(450), deltas[1].RewardUnits)

	require.Equal(t, unitsFor(1000), TotalRewardUnits(deltas))
}

func TestRFox_Ledger_EpochDeltasExcludesInactiveAccounts(t *testing.T) {
	t.Parallel()

	// A unstakes fully before the epoch begins; only B accrues within it.
	evs := []events.Event{
		stake(accountA, 10, 100, 100, "thor1a"),
		unstake(accountA, 20, 200, 100),
		stake(accountB, 30, 300, 100, "thor1b"),
	}

	start, err := Replay(0, evs, 100, 1000)
	require.NoError(t, err)
	end, err := Replay(0, evs, 200, 2000)
	require.NoError(t, err)

	deltas, err := EpochDeltas(start, end)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, accountB, deltas[0].Account)
	require.Equal(t, unitsFor(1000), deltas[0].RewardUnits)
}

func TestRFox_Ledger_EarnedIsMonotonic(t *testing.T) {
	t.Parallel()

	evs := []events.Event{
		stake(accountA, 10, 100, 500, "thor1a"),
		stake(accountB, 20, 200, 300, "thor1b"),
		unstake(accountA, 30, 300, 400),
		stake(accountA, 40, 400, 50, "thor1a"),
		unstake(accountB, 50, 500, 300),
	}

	// Accounts absent at a boundary have earned nothing yet.
	earnedOrZero := func(s *State, addr common.Address) *big.Int {
		acct, ok := s.Account(addr)
		if !ok {
			return new(big.Int)
		}
		return acct.Earned
	}

	prevA, prevB := new(big.Int), new(big.Int)
	for _, boundary := range []struct{ block, ts uint64 }{
		{15, 150}, {25, 250}, {35, 350}, {45, 450}, {55, 550}, {100, 1000},
	} {
		s, err := Replay(0, evs, boundary.block, boundary.ts)
		require.NoError(t, err)

		earnedA := earnedOrZero(s, accountA)
		earnedB := earnedOrZero(s, accountB)
		require.GreaterOrEqual(t, earnedA.Cmp(prevA), 0)
		require.GreaterOrEqual(t, earnedB.Cmp(prevB), 0)
		prevA, prevB = earnedA, earnedB
	}
}
