package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Delta is one account's reward accrual strictly within an epoch.
type Delta struct {
	Account common.Address

	// RewardUnits is the earned-reward delta for the epoch.
	RewardUnits *big.Int

	// TotalRewardUnits is the account's cumulative earned rewards at epoch
	// end, kept for the published epoch record.
	TotalRewardUnits *big.Int

	// RuneAddress is the reward destination as of epoch end.
	RuneAddress string
}

// EpochDeltas derives per-account epoch rewards from the replay states at the
// two epoch boundaries: start is the state at the block immediately preceding
// the epoch's first block, end is the state at the epoch's last block.
// Accounts with a zero delta are excluded. A negative delta would contradict
// the accumulator's monotonicity and is reported as a data-integrity error.
// Results are in first-seen account order, which is deterministic for a given
// event stream.
func EpochDeltas(start, end *State) ([]Delta, error) {
	deltas := make([]Delta, 0, len(end.order))
	for _, addr := range end.order {
		acct := end.accounts[addr]

		delta := new(big.Int).Set(acct.Earned)
		if prev, ok := start.accounts[addr]; ok {
			delta.Sub(delta, prev.Earned)
		}

		if delta.Sign() < 0 {
			return nil, fmt.Errorf("negative epoch reward delta %s for account %s: earned rewards must be non-decreasing", delta, addr)
		}
		if delta.Sign() == 0 {
			continue
		}

		deltas = append(deltas, Delta{
			Account:          addr,
			RewardUnits:      delta,
			TotalRewardUnits: new(big.Int).Set(acct.Earned),
			RuneAddress:      acct.RuneAddress,
		})
	}
	return deltas, nil
}

// TotalRewardUnits sums the epoch reward units across all deltas.
func TotalRewardUnits(deltas []Delta) *big.Int {
	total := new(big.Int)
	for _, d := range deltas {
		total.Add(total, d.RewardUnits)
	}
	return total
}
