package distributor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shapeshift/rfox/pkg/epoch"
	"github.com/shapeshift/rfox/pkg/payout"
	"github.com/shapeshift/rfox/pkg/statefile"
)

// ErrDistributionStarted means state already exists for the epoch and the
// operator must recover instead of starting a fresh distribution.
var ErrDistributionStarted = errors.New("distribution already started for epoch, recover it instead")

// ErrNoDistribution means recovery was requested but no distribution state
// exists for the epoch.
var ErrNoDistribution = errors.New("no distribution in progress for epoch")

// DistributeResult reports the completed payout.
type DistributeResult struct {
	Epoch        *epoch.Epoch
	EpochHash    string
	MetadataHash string
}

// Distribute starts a fresh payout for the published epoch record at
// epochHash and runs it to completion. If state for the epoch already exists
// it refuses and points the operator at Recover.
func (d *Distributor) Distribute(ctx context.Context, epochHash, metadataHash string) (*DistributeResult, error) {
	return d.runPayout(ctx, epochHash, metadataHash, false)
}

// Recover resumes an interrupted payout from its persisted state.
func (d *Distributor) Recover(ctx context.Context, epochHash, metadataHash string) (*DistributeResult, error) {
	return d.runPayout(ctx, epochHash, metadataHash, true)
}

func (d *Distributor) runPayout(ctx context.Context, epochHash, metadataHash string, resume bool) (*DistributeResult, error) {
	var ep epoch.Epoch
	if err := d.cfg.Objects.Get(ctx, epochHash, &ep); err != nil {
		return nil, fmt.Errorf("failed to load epoch record %s: %w", epochHash, err)
	}
	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("epoch record %s is invalid: %w", epochHash, err)
	}
	if ep.DistributionStatus == epoch.StatusComplete {
		return nil, fmt.Errorf("epoch %d is already distributed", ep.Number)
	}

	store, err := statefile.New(d.cfg.DataDir, ep.Number)
	if err != nil {
		return nil, err
	}

	started, err := store.DistributionStarted()
	if err != nil {
		return nil, err
	}
	if started && !resume {
		return nil, fmt.Errorf("%w: epoch %d", ErrDistributionStarted, ep.Number)
	}
	if !started && resume {
		return nil, fmt.Errorf("%w: epoch %d", ErrNoDistribution, ep.Number)
	}

	workflow, err := payout.New(payout.Config{
		Logger:              d.log,
		Node:                d.cfg.Node,
		Signer:              d.cfg.Signer,
		Store:               store,
		Treasury:            d.cfg.Treasury,
		FundingPollInterval: d.cfg.FundingPollInterval,
		Clock:               d.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	if err := workflow.Run(ctx, &ep, epochHash); err != nil {
		return nil, err
	}

	newEpochHash, newMetadataHash, err := d.publish(ctx, &ep, metadataHash)
	if err != nil {
		return nil, err
	}

	d.log.Info("distribution published",
		"epoch", ep.Number,
		"epochHash", newEpochHash,
		"metadataHash", newMetadataHash,
	)

	return &DistributeResult{Epoch: &ep, EpochHash: newEpochHash, MetadataHash: newMetadataHash}, nil
}

// Status reports the persisted payout progress for an epoch.
type Status struct {
	Epoch     uint64       `json:"epoch"`
	Phase     payout.Phase `json:"phase"`
	Signed    int          `json:"signed"`
	Broadcast int          `json:"broadcast"`
	Total     int          `json:"total"`
}

// PayoutStatus inspects the persisted workflow state for the epoch without
// touching the chain or moving the workflow forward.
func PayoutStatus(dataDir string, epochNumber uint64) (*Status, error) {
	store, err := statefile.New(dataDir, epochNumber)
	if err != nil {
		return nil, err
	}

	state, err := payout.LoadState(store)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: epoch %d", ErrNoDistribution, epochNumber)
	}

	status := &Status{Epoch: state.Epoch, Phase: state.Phase, Total: len(state.Records)}
	for _, record := range state.Records {
		if record.SignedTx != "" {
			status.Signed++
		}
		if record.TxID != "" {
			status.Broadcast++
		}
	}
	return status, nil
}
