package allocate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	accountA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	accountB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	accountC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func earners(units ...int64) []Earner {
	accounts := []common.Address{accountA, accountB, accountC}
	out := make([]Earner, len(units))
	for i, u := range units {
		out[i] = Earner{Account: accounts[i], RewardUnits: big.NewInt(u)}
	}
	return out
}

func sum(allocations map[common.Address]*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range allocations {
		total.Add(total, a)
	}
	return total
}

func TestRFox_Allocate_ExactDivision(t *testing.T) {
	t.Parallel()

	allocations, err := Distribute(big.NewInt(100), earners(60, 40))
	require.NoError(t, err)
	require.Equal(t, "60", allocations[accountA].String())
	require.Equal(t, "40", allocations[accountB].String())
}

func TestRFox_Allocate_RemainderGoesToLargestShare(t *testing.T) {
	t.Parallel()

	// 101 across equal shares: base 50+50, the odd unit goes to the first
	// of the tied accounts.
	allocations, err := Distribute(big.NewInt(101), earners(50, 50))
	require.NoError(t, err)
	require.Equal(t, "51", allocations[accountA].String())
	require.Equal(t, "50", allocations[accountB].String())
	require.Equal(t, "101", sum(allocations).String())
}

func TestRFox_Allocate_SingleAccount(t *testing.T) {
	t.Parallel()

	allocations, err := Distribute(big.NewInt(100), earners(100))
	require.NoError(t, err)
	require.Equal(t, "100", allocations[accountA].String())
}

func TestRFox_Allocate_ZeroTotal(t *testing.T) {
	t.Parallel()

	allocations, err := Distribute(big.NewInt(0), earners(50, 50, 0))
	require.NoError(t, err)
	require.Len(t, allocations, 3)
	require.Equal(t, "0", sum(allocations).String())
}

func TestRFox_Allocate_NoEarnersRejected(t *testing.T) {
	t.Parallel()

	_, err := Distribute(big.NewInt(100), nil)
	require.ErrorIs(t, err, ErrNoEarners)

	_, err = Distribute(big.NewInt(100), earners(0, 0))
	require.ErrorIs(t, err, ErrNoEarners)
}

func TestRFox_Allocate_ZeroEarnerReceivesZero(t *testing.T) {
	t.Parallel()

	allocations, err := Distribute(big.NewInt(101), earners(50, 50, 0))
	require.NoError(t, err)
	require.Equal(t, "0", allocations[accountC].String())
	require.Equal(t, "101", sum(allocations).String())
}

func TestRFox_Allocate_ThreeWaySplitConserves(t *testing.T) {
	t.Parallel()

	// 10 across three equal shares: 3.33.. each rounds to 3, remainder 1
	// goes to the first account.
	allocations, err := Distribute(big.NewInt(10), earners(1, 1, 1))
	require.NoError(t, err)
	require.Equal(t, "4", allocations[accountA].String())
	require.Equal(t, "3", allocations[accountB].String())
	require.Equal(t, "3", allocations[accountC].String())
}

func TestRFox_Allocate_NegativeRemainder(t *testing.T) {
	t.Parallel()

	// 2 across shares 2/7, 2/7, 3/7: bases round to 1, 1, 1 and the excess
	// unit is taken back from the largest share.
	allocations, err := Distribute(big.NewInt(2), earners(2, 2, 3))
	require.NoError(t, err)
	require.Equal(t, "2", sum(allocations).String())
	require.Equal(t, "0", allocations[accountC].String())
}

func TestRFox_Allocate_HalfRoundsToFloor(t *testing.T) {
	t.Parallel()

	// Equal halves of an odd total land exactly on .5 and round down, so
	// the remainder step assigns the leftover unit deterministically.
	allocations, err := Distribute(big.NewInt(7), earners(1, 1))
	require.NoError(t, err)
	require.Equal(t, "4", allocations[accountA].String())
	require.Equal(t, "3", allocations[accountB].String())
}

func TestRFox_Allocate_ConservationLargeValues(t *testing.T) {
	t.Parallel()

	units := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	in := []Earner{
		{Account: accountA, RewardUnits: new(big.Int).Add(units, big.NewInt(7))},
		{Account: accountB, RewardUnits: new(big.Int).Add(units, big.NewInt(3))},
		{Account: accountC, RewardUnits: big.NewInt(1)},
	}

	total, ok := new(big.Int).SetString("123456789012345678901", 10)
	require.True(t, ok)

	allocations, err := Distribute(total, in)
	require.NoError(t, err)
	require.Equal(t, total.String(), sum(allocations).String())
	for _, a := range allocations {
		require.GreaterOrEqual(t, a.Sign(), 0)
	}
}

func TestRFox_Allocate_NegativeTotalRejected(t *testing.T) {
	t.Parallel()

	_, err := Distribute(big.NewInt(-1), earners(1))
	require.Error(t, err)
}
