// Package epoch defines the published rFOX epoch and metadata records. The
// JSON shapes are the archival interchange format, so field names are part of
// the schema and validated on load.
package epoch

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// Distribution status values.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
)

// Distribution is one account's reward distribution within an epoch.
type Distribution struct {
	// Amount is the RUNE payout in base units, as a decimal string.
	Amount string `json:"amount"`

	// RewardUnits is the staking reward units earned in this epoch.
	RewardUnits string `json:"rewardUnits"`

	// TotalRewardUnits is the cumulative reward units earned across all
	// epochs as of this epoch's end.
	TotalRewardUnits string `json:"totalRewardUnits"`

	// TxID is the THORChain transaction id of the payout. Empty until the
	// transfer is broadcast; set exactly once.
	TxID string `json:"txId"`

	// RewardAddress is the THORChain address receiving the payout.
	RewardAddress string `json:"rewardAddress"`
}

// Epoch is the complete record of a single reward epoch.
type Epoch struct {
	Number         uint64 `json:"number"`
	StartTimestamp uint64 `json:"startTimestamp"`
	EndTimestamp   uint64 `json:"endTimestamp"`
	StartBlock     uint64 `json:"startBlock"`
	EndBlock       uint64 `json:"endBlock"`

	// TotalRevenue is the treasury revenue for the epoch in RUNE base
	// units, as a decimal string.
	TotalRevenue string `json:"totalRevenue"`

	// TotalRewardUnits is the sum of reward units across all accounts for
	// this epoch.
	TotalRewardUnits string `json:"totalRewardUnits"`

	// DistributionRate is the share of revenue paid out as rewards.
	DistributionRate float64 `json:"distributionRate"`

	// BurnRate is the share of revenue used to buy and burn FOX. The burn
	// itself happens outside this tooling; the rate is carried for the
	// published record.
	BurnRate float64 `json:"burnRate"`

	TreasuryAddress    string `json:"treasuryAddress"`
	DistributionStatus string `json:"distributionStatus"`

	// Distributions maps staking account address to its distribution.
	Distributions map[string]Distribution `json:"distributionsByStakingAddress"`
}

// Validate checks the schema of a loaded epoch record.
func (e *Epoch) Validate() error {
	if e.Number == 0 {
		return errors.New("epoch number is required")
	}
	if e.EndBlock <= e.StartBlock {
		return fmt.Errorf("epoch end block %d must be after start block %d", e.EndBlock, e.StartBlock)
	}
	if e.EndTimestamp <= e.StartTimestamp {
		return fmt.Errorf("epoch end timestamp %d must be after start timestamp %d", e.EndTimestamp, e.StartTimestamp)
	}
	if e.DistributionStatus != StatusPending && e.DistributionStatus != StatusComplete {
		return fmt.Errorf("invalid distribution status %q", e.DistributionStatus)
	}
	if e.DistributionRate < 0 || e.DistributionRate > 1 {
		return fmt.Errorf("distribution rate %v out of range [0, 1]", e.DistributionRate)
	}
	if e.BurnRate < 0 || e.BurnRate > 1 {
		return fmt.Errorf("burn rate %v out of range [0, 1]", e.BurnRate)
	}
	for account, d := range e.Distributions {
		if _, ok := new(big.Int).SetString(d.Amount, 10); !ok {
			return fmt.Errorf("invalid distribution amount %q for account %s", d.Amount, account)
		}
		if d.RewardAddress == "" {
			return fmt.Errorf("missing reward address for account %s", account)
		}
	}
	return nil
}

// Accounts returns the staking addresses with a positive distribution amount
// in ascending address order. This is the canonical payout order: signing
// assigns wallet sequence numbers by it, and resuming depends on it being
// stable.
func (e *Epoch) Accounts() []string {
	accounts := make([]string, 0, len(e.Distributions))
	for account, d := range e.Distributions {
		amount, ok := new(big.Int).SetString(d.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

// TotalDistribution sums all distribution amounts in base units.
func (e *Epoch) TotalDistribution() (*big.Int, error) {
	total := new(big.Int)
	for account, d := range e.Distributions {
		amount, ok := new(big.Int).SetString(d.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid distribution amount %q for account %s", d.Amount, account)
		}
		total.Add(total, amount)
	}
	return total, nil
}

// Metadata is the program-level record linking epochs to their published
// content ids.
type Metadata struct {
	Epoch               uint64  `json:"epoch"`
	EpochStartTimestamp uint64  `json:"epochStartTimestamp"`
	EpochEndTimestamp   uint64  `json:"epochEndTimestamp"`
	DistributionRate    float64 `json:"distributionRate"`
	BurnRate            float64 `json:"burnRate"`
	TreasuryAddress     string  `json:"treasuryAddress"`

	// IPFSHashByEpoch records the published content id of every completed
	// epoch, keyed by epoch number (JSON object keys are strings).
	IPFSHashByEpoch map[string]string `json:"ipfsHashByEpoch"`
}

// Validate checks the schema of loaded metadata.
func (m *Metadata) Validate() error {
	if m.Epoch == 0 {
		return errors.New("metadata epoch is required")
	}
	if m.EpochEndTimestamp <= m.EpochStartTimestamp {
		return fmt.Errorf("metadata epoch end timestamp %d must be after start timestamp %d", m.EpochEndTimestamp, m.EpochStartTimestamp)
	}
	if m.DistributionRate < 0 || m.DistributionRate > 1 {
		return fmt.Errorf("distribution rate %v out of range [0, 1]", m.DistributionRate)
	}
	if m.BurnRate < 0 || m.BurnRate > 1 {
		return fmt.Errorf("burn rate %v out of range [0, 1]", m.BurnRate)
	}
	return nil
}

// EpochHash returns the published content id for an epoch number.
func (m *Metadata) EpochHash(number uint64) (string, bool) {
	hash, ok := m.IPFSHashByEpoch[fmt.Sprintf("%d", number)]
	return hash, ok
}

// SetEpochHash records the published content id for an epoch number.
func (m *Metadata) SetEpochHash(number uint64, hash string) {
	if m.IPFSHashByEpoch == nil {
		m.IPFSHashByEpoch = make(map[string]string)
	}
	m.IPFSHashByEpoch[fmt.Sprintf("%d", number)] = hash
}
