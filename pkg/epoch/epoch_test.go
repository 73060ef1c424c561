package epoch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func validEpoch() *Epoch {
	return &Epoch{
		Number:             5,
		StartTimestamp:     1000,
		EndTimestamp:       2000,
		StartBlock:         100,
		EndBlock:           200,
		TotalRevenue:       "1000000000",
		TotalRewardUnits:   "360000",
		DistributionRate:   0.25,
		BurnRate:           0.25,
		TreasuryAddress:    "thor1treasury",
		DistributionStatus: StatusPending,
		Distributions: map[string]Distribution{
			"0xaa": {Amount: "600", RewardUnits: "60", TotalRewardUnits: "60", RewardAddress: "thor1a"},
			"0xbb": {Amount: "400", RewardUnits: "40", TotalRewardUnits: "90", RewardAddress: "thor1b"},
			"0xcc": {Amount: "0", RewardUnits: "0", TotalRewardUnits: "10", RewardAddress: "thor1c"},
		},
	}
}

func TestRFox_Epoch_ValidateAcceptsWellFormed(t *testing.T) {
	t.Parallel()
	require.NoError(t, validEpoch().Validate())
}

func TestRFox_Epoch_ValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Epoch)
	}{
		{"zero number", func(e *Epoch) { e.Number = 0 }},
		{"inverted blocks", func(e *Epoch) { e.EndBlock = e.StartBlock }},
		{"inverted timestamps", func(e *Epoch) { e.EndTimestamp = e.StartTimestamp }},
		{"bad status", func(e *Epoch) { e.DistributionStatus = "done" }},
		{"rate out of range", func(e *Epoch) { e.DistributionRate = 1.5 }},
		{"burn rate out of range", func(e *Epoch) { e.BurnRate = -0.1 }},
		{"bad amount", func(e *Epoch) {
			e.Distributions["0xaa"] = Distribution{Amount: "abc", RewardAddress: "thor1a"}
		}},
		{"missing reward address", func(e *Epoch) {
			e.Distributions["0xaa"] = Distribution{Amount: "600"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := validEpoch()
			tt.mutate(e)
			require.Error(t, e.Validate())
		})
	}
}

func TestRFox_Epoch_AccountsOrderedAndPositiveOnly(t *testing.T) {
	t.Parallel()

	accounts := validEpoch().Accounts()
	require.Equal(t, []string{"0xaa", "0xbb"}, accounts)
}

func TestRFox_Epoch_TotalDistribution(t *testing.T) {
	t.Parallel()

	total, err := validEpoch().TotalDistribution()
	require.NoError(t, err)
	require.Equal(t, "1000", total.String())
}

func TestRFox_Epoch_MetadataRoundTrip(t *testing.T) {
	t.Parallel()

	m := &Metadata{
		Epoch:               6,
		EpochStartTimestamp: 2001,
		EpochEndTimestamp:   3000,
		DistributionRate:    0.25,
		BurnRate:            0.25,
		TreasuryAddress:     "thor1treasury",
	}
	m.SetEpochHash(5, "QmEpochFive")
	require.NoError(t, m.Validate())

	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.Contains(t, string(data), `"burnRate":0.25`)

	var loaded Metadata
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Equal(t, 0.25, loaded.BurnRate)

	hash, ok := loaded.EpochHash(5)
	require.True(t, ok)
	require.Equal(t, "QmEpochFive", hash)

	_, ok = loaded.EpochHash(4)
	require.False(t, ok)
}
