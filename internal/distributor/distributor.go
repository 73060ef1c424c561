// Package distributor wires the reward pipeline together: event replay,
// allocation, validation, publication, and the payout workflow. It is the
// layer the CLI calls into.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/shapeshift/rfox/pkg/allocate"
	"github.com/shapeshift/rfox/pkg/chain"
	"github.com/shapeshift/rfox/pkg/epoch"
	"github.com/shapeshift/rfox/pkg/events"
	"github.com/shapeshift/rfox/pkg/ledger"
	"github.com/shapeshift/rfox/pkg/payout"
	"github.com/shapeshift/rfox/pkg/validate"
)

// ChainReader is the chain-query surface the pipeline consumes.
// *chain.Client satisfies it.
type ChainReader interface {
	BlockTime(ctx context.Context, number uint64) (uint64, error)
	BlockByTimestamp(ctx context.Context, target uint64, mode chain.BlockMode) (uint64, error)
	Earned(ctx context.Context, account common.Address, block uint64) (*big.Int, error)
	StakingInfo(ctx context.Context, account common.Address, block uint64) (chain.StakingInfo, error)
}

// EventSource produces the ordered, timestamped staking event stream.
// *events.Normalizer satisfies it.
type EventSource interface {
	Fetch(ctx context.Context, from, to uint64) ([]events.Event, error)
}

// ObjectStore publishes and retrieves epoch and metadata records.
// *ipfs.Client satisfies it.
type ObjectStore interface {
	Put(ctx context.Context, v any) (string, error)
	Get(ctx context.Context, cid string, out any) error
}

type Config struct {
	Logger  *slog.Logger
	Chain   ChainReader
	Events  EventSource
	Objects ObjectStore
	Node    payout.Node
	Signer  payout.Signer

	// Treasury is the multisig address funding distributions.
	Treasury string

	// DataDir holds the per-epoch distribution state files.
	DataDir string

	FundingPollInterval time.Duration
	Clock               clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain reader is required")
	}
	if cfg.Events == nil {
		return errors.New("event source is required")
	}
	if cfg.Objects == nil {
		return errors.New("object store is required")
	}
	if cfg.Node == nil {
		return errors.New("thorchain node client is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.Treasury == "" {
		return errors.New("treasury address is required")
	}
	if cfg.DataDir == "" {
		return errors.New("data directory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Distributor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{log: cfg.Logger, cfg: cfg}, nil
}

// ProcessParams describes the epoch to close out.
type ProcessParams struct {
	Epoch uint64

	// StartTimestamp and EndTimestamp bound the epoch in unix seconds. They
	// are resolved to blocks unless StartBlock/EndBlock are set explicitly.
	StartTimestamp uint64
	EndTimestamp   uint64
	StartBlock     uint64
	EndBlock       uint64

	// ContractCreationBlock is where event replay begins.
	ContractCreationBlock uint64

	// TotalRevenue is the epoch's buyback revenue in RUNE base units.
	TotalRevenue *big.Int

	// DistributionRate is the fraction of revenue distributed as rewards.
	DistributionRate float64

	// BurnRate is the fraction of revenue used to buy and burn FOX,
	// recorded in the published epoch for transparency.
	BurnRate float64

	// MetadataHash is the previously published metadata record, empty for
	// the first epoch.
	MetadataHash string

	// AcceptUnitsOutsideMargin lets an operator who has confirmed the cause
	// proceed when total reward units deviate from nominal emission.
	AcceptUnitsOutsideMargin bool
}

func (p *ProcessParams) validate() error {
	if p.TotalRevenue == nil || p.TotalRevenue.Sign() < 0 {
		return errors.New("total revenue is required and must be non-negative")
	}
	if p.DistributionRate < 0 || p.DistributionRate > 1 {
		return fmt.Errorf("distribution rate %f must be within [0, 1]", p.DistributionRate)
	}
	if p.BurnRate < 0 || p.BurnRate > 1 {
		return fmt.Errorf("burn rate %f must be within [0, 1]", p.BurnRate)
	}
	if p.ContractCreationBlock == 0 {
		return errors.New("contract creation block is required")
	}
	if p.StartBlock == 0 && p.StartTimestamp == 0 {
		return errors.New("epoch start block or timestamp is required")
	}
	if p.EndBlock == 0 && p.EndTimestamp == 0 {
		return errors.New("epoch end block or timestamp is required")
	}
	return nil
}

// ProcessResult is what Process published.
type ProcessResult struct {
	Epoch        *epoch.Epoch
	EpochHash    string
	MetadataHash string
}

// Process closes out an epoch: replays staking events from contract creation,
// derives and validates per-account epoch rewards, allocates the distribution
// amount, and publishes the epoch and updated metadata records.
func (d *Distributor) Process(ctx context.Context, params ProcessParams) (*ProcessResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	startBlock, endBlock, err := d.resolveBounds(ctx, &params)
	if err != nil {
		return nil, err
	}

	startTime, err := d.cfg.Chain.BlockTime(ctx, startBlock)
	if err != nil {
		return nil, err
	}
	endTime, err := d.cfg.Chain.BlockTime(ctx, endBlock)
	if err != nil {
		return nil, err
	}
	prevTime, err := d.cfg.Chain.BlockTime(ctx, startBlock-1)
	if err != nil {
		return nil, err
	}
	creationTime, err := d.cfg.Chain.BlockTime(ctx, params.ContractCreationBlock)
	if err != nil {
		return nil, err
	}

	d.log.Info("processing epoch",
		"epoch", params.Epoch,
		"startBlock", startBlock,
		"endBlock", endBlock,
		"revenue", params.TotalRevenue.String(),
		"rate", params.DistributionRate,
	)

	evs, err := d.cfg.Events.Fetch(ctx, params.ContractCreationBlock, endBlock)
	if err != nil {
		return nil, err
	}

	startState, err := ledger.Replay(creationTime, evs, startBlock-1, prevTime)
	if err != nil {
		return nil, err
	}
	endState, err := ledger.Replay(creationTime, evs, endBlock, endTime)
	if err != nil {
		return nil, err
	}

	deltas, err := ledger.EpochDeltas(startState, endState)
	if err != nil {
		return nil, err
	}
	if len(deltas) == 0 {
		return nil, errors.New("no accounts earned rewards in the epoch")
	}
	totalUnits := ledger.TotalRewardUnits(deltas)

	validator, err := validate.New(validate.Config{Logger: d.log, Reader: d.cfg.Chain})
	if err != nil {
		return nil, err
	}
	if err := validator.CheckDeltas(ctx, deltas, startBlock, endBlock); err != nil {
		return nil, err
	}
	if err := validator.CheckRewardAddresses(ctx, d.cfg.Chain, deltas, endBlock); err != nil {
		return nil, err
	}

	if expected, ok := validate.CheckTotalUnits(totalUnits, endTime-startTime); !ok {
		if !params.AcceptUnitsOutsideMargin {
			return nil, fmt.Errorf("total reward units %s deviate from nominal emission %s by more than 0.01%%; rerun with the deviation accepted once the cause is confirmed", totalUnits, expected)
		}
		d.log.Warn("total reward units outside nominal margin, accepted by operator",
			"total", totalUnits.String(), "expected", expected.String())
	}

	totalDistribution := distributionAmount(params.TotalRevenue, params.DistributionRate)

	earners := make([]allocate.Earner, len(deltas))
	for i, delta := range deltas {
		earners[i] = allocate.Earner{Account: delta.Account, RewardUnits: delta.RewardUnits}
	}
	allocations, err := allocate.Distribute(totalDistribution, earners)
	if err != nil {
		return nil, err
	}

	ep := &epoch.Epoch{
		Number:             params.Epoch,
		StartTimestamp:     startTime,
		EndTimestamp:       endTime,
		StartBlock:         startBlock,
		EndBlock:           endBlock,
		TotalRevenue:       params.TotalRevenue.String(),
		TotalRewardUnits:   totalUnits.String(),
		DistributionRate:   params.DistributionRate,
		BurnRate:           params.BurnRate,
		TreasuryAddress:    d.cfg.Treasury,
		DistributionStatus: epoch.StatusPending,
		Distributions:      make(map[string]epoch.Distribution, len(deltas)),
	}
	for _, delta := range deltas {
		ep.Distributions[delta.Account.Hex()] = epoch.Distribution{
			Amount:           allocations[delta.Account].String(),
			RewardUnits:      delta.RewardUnits.String(),
			TotalRewardUnits: delta.TotalRewardUnits.String(),
			RewardAddress:    delta.RuneAddress,
		}
	}
	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("assembled epoch record is invalid: %w", err)
	}

	epochHash, metadataHash, err := d.publish(ctx, ep, params.MetadataHash)
	if err != nil {
		return nil, err
	}

	d.log.Info("epoch published",
		"epoch", ep.Number,
		"accounts", len(deltas),
		"distribution", totalDistribution.String(),
		"epochHash", epochHash,
		"metadataHash", metadataHash,
	)

	return &ProcessResult{Epoch: ep, EpochHash: epochHash, MetadataHash: metadataHash}, nil
}

func (d *Distributor) resolveBounds(ctx context.Context, params *ProcessParams) (uint64, uint64, error) {
	startBlock := params.StartBlock
	if startBlock == 0 {
		var err error
		startBlock, err = d.cfg.Chain.BlockByTimestamp(ctx, params.StartTimestamp, chain.Earliest)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to resolve epoch start block: %w", err)
		}
	}

	endBlock := params.EndBlock
	if endBlock == 0 {
		var err error
		endBlock, err = d.cfg.Chain.BlockByTimestamp(ctx, params.EndTimestamp, chain.Latest)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to resolve epoch end block: %w", err)
		}
	}

	if startBlock == 0 || startBlock > endBlock {
		return 0, 0, fmt.Errorf("invalid epoch bounds: blocks %d-%d", startBlock, endBlock)
	}
	if startBlock <= params.ContractCreationBlock {
		return 0, 0, fmt.Errorf("epoch start block %d precedes contract creation block %d", startBlock, params.ContractCreationBlock)
	}
	return startBlock, endBlock, nil
}

// distributionAmount is revenue * rate, floored to whole base units.
func distributionAmount(revenue *big.Int, rate float64) *big.Int {
	r := new(big.Rat).SetFloat64(rate)
	r.Mul(r, new(big.Rat).SetInt(revenue))
	return new(big.Int).Div(r.Num(), r.Denom())
}

func (d *Distributor) publish(ctx context.Context, ep *epoch.Epoch, metadataHash string) (string, string, error) {
	epochHash, err := d.cfg.Objects.Put(ctx, ep)
	if err != nil {
		return "", "", fmt.Errorf("failed to publish epoch record: %w", err)
	}

	var meta epoch.Metadata
	if metadataHash != "" {
		if err := d.cfg.Objects.Get(ctx, metadataHash, &meta); err != nil {
			return "", "", fmt.Errorf("failed to load metadata record: %w", err)
		}
		if err := meta.Validate(); err != nil {
			return "", "", fmt.Errorf("metadata record %s is invalid: %w", metadataHash, err)
		}
	}
	meta.Epoch = ep.Number
	meta.EpochStartTimestamp = ep.StartTimestamp
	meta.EpochEndTimestamp = ep.EndTimestamp
	meta.DistributionRate = ep.DistributionRate
	meta.BurnRate = ep.BurnRate
	meta.TreasuryAddress = ep.TreasuryAddress
	meta.SetEpochHash(ep.Number, epochHash)

	newMetadataHash, err := d.cfg.Objects.Put(ctx, &meta)
	if err != nil {
		return "", "", fmt.Errorf("failed to publish metadata record: %w", err)
	}
	return epochHash, newMetadataHash, nil
}
