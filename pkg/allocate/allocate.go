// Package allocate splits an integer payout total across accounts in
// proportion to their earned reward units, using the largest-remainder method
// so the outputs always sum to the requested total exactly.
package allocate

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoEarners is returned when a positive total has nobody to go to.
	ErrNoEarners = errors.New("no accounts with positive earned rewards")

	// ErrConservation marks a violated allocation postcondition. It must
	// never escape to the payout stage.
	ErrConservation = errors.New("allocation does not conserve the total")
)

// Earner is one account's epoch reward input to the allocator. Slice order is
// the deterministic tie-break: when two accounts have exactly equal
// proportional shares, the one appearing earlier keeps priority for remainder
// units.
type Earner struct {
	Account     common.Address
	RewardUnits *big.Int
}

// Distribute allocates total (base units) across earners proportionally to
// their reward units. Every earner appears in the result; zero-reward earners
// always receive zero. The sum of the result equals total exactly.
func Distribute(total *big.Int, earners []Earner) (map[common.Address]*big.Int, error) {
	if total.Sign() < 0 {
		return nil, fmt.Errorf("total to distribute must not be negative, got %s", total)
	}

	allocations := make(map[common.Address]*big.Int, len(earners))
	for _, e := range earners {
		allocations[e.Account] = new(big.Int)
	}

	if total.Sign() == 0 {
		return allocations, nil
	}

	totalUnits := new(big.Int)
	for _, e := range earners {
		if e.RewardUnits.Sign() < 0 {
			return nil, fmt.Errorf("negative reward units %s for account %s", e.RewardUnits, e.Account)
		}
		totalUnits.Add(totalUnits, e.RewardUnits)
	}
	if totalUnits.Sign() == 0 {
		return nil, ErrNoEarners
	}

	// Exact proportional shares, rounded half-to-floor to integer base
	// allocations.
	type share struct {
		account    common.Address
		proportion *big.Rat
	}
	shares := make([]share, 0, len(earners))

	allocated := new(big.Int)
	for _, e := range earners {
		if e.RewardUnits.Sign() == 0 {
			continue
		}
		proportion := new(big.Rat).SetFrac(e.RewardUnits, totalUnits)
		base := roundHalfToFloor(new(big.Rat).Mul(proportion, new(big.Rat).SetInt(total)))
		allocations[e.Account].Set(base)
		allocated.Add(allocated, base)
		shares = append(shares, share{account: e.Account, proportion: proportion})
	}

	remainder := new(big.Int).Sub(total, allocated)
	if remainder.Sign() != 0 {
		// Largest shares take remainder units first; equal shares keep
		// input order.
		sort.SliceStable(shares, func(i, j int) bool {
			return shares[i].proportion.Cmp(shares[j].proportion) > 0
		})

		unit := big.NewInt(1)
		if remainder.Sign() < 0 {
			unit = big.NewInt(-1)
		}
		for i := 0; remainder.Sign() != 0; i = (i + 1) % len(shares) {
			allocations[shares[i].account].Add(allocations[shares[i].account], unit)
			remainder.Sub(remainder, unit)
		}
	}

	if err := assertConserved(total, allocations); err != nil {
		return nil, err
	}
	return allocations, nil
}

// assertConserved enforces the allocation postcondition: outputs sum to the
// total exactly and no output is negative.
func assertConserved(total *big.Int, allocations map[common.Address]*big.Int) error {
	sum := new(big.Int)
	for account, amount := range allocations {
		if amount.Sign() < 0 {
			return fmt.Errorf("%w: negative allocation %s for account %s", ErrConservation, amount, account)
		}
		sum.Add(sum, amount)
	}
	if sum.Cmp(total) != 0 {
		return fmt.Errorf("%w: allocated %s, expected %s", ErrConservation, sum, total)
	}
	return nil
}

// roundHalfToFloor rounds to the nearest integer, towards negative infinity
// when exactly halfway.
func roundHalfToFloor(x *big.Rat) *big.Int {
	floor := new(big.Int).Div(x.Num(), x.Denom())
	frac := new(big.Rat).Sub(x, new(big.Rat).SetInt(floor))

	// frac is in [0, 1); round up only when strictly above one half.
	if frac.Cmp(big.NewRat(1, 2)) > 0 {
		floor.Add(floor, big.NewInt(1))
	}
	return floor
}
