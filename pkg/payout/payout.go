// Package payout drives an epoch's RUNE distribution through its phases:
// funding, signing, broadcasting, complete. Progress is persisted after every
// state-changing step, so a crashed or cancelled run resumes exactly where it
// stopped without double-paying anyone.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shapeshift/rfox/pkg/epoch"
	"github.com/shapeshift/rfox/pkg/retry"
	"github.com/shapeshift/rfox/pkg/statefile"
	"github.com/shapeshift/rfox/pkg/thorchain"
)

// Phase is a distribution workflow phase. Phases only move forward.
type Phase string

const (
	PhaseFunding      Phase = "funding"
	PhaseSigning      Phase = "signing"
	PhaseBroadcasting Phase = "broadcasting"
	PhaseComplete     Phase = "complete"
)

const (
	stateKey     = "distribution"
	fundingTxKey = "unsignedTx"
)

// ErrCorruptState means persisted workflow state exists but cannot be trusted.
// The workflow refuses to guess: money may already have moved, so the operator
// has to inspect the file by hand. It is never reset automatically.
var ErrCorruptState = errors.New("distribution state is corrupt")

// Record tracks one staker's transfer through signing and broadcast.
type Record struct {
	// Account is the staking address on Arbitrum.
	Account string `json:"account"`

	// Amount is the transfer amount in RUNE base units.
	Amount string `json:"amount"`

	// RewardAddress is the THORChain address receiving the transfer.
	RewardAddress string `json:"rewardAddress"`

	// SignedTx holds the serialized signed transaction once signed.
	SignedTx string `json:"signedTx"`

	// TxID holds the broadcast transaction id once accepted by the node.
	TxID string `json:"txId"`
}

// WorkflowState is the persisted distribution state for one epoch.
type WorkflowState struct {
	Epoch       uint64   `json:"epoch"`
	Phase       Phase    `json:"phase"`
	EpochHash   string   `json:"epochHash"`
	FundingTxID string   `json:"fundingTxId"`
	Records     []Record `json:"records"`
}

// Node is the THORChain node surface the workflow consumes.
type Node interface {
	Account(ctx context.Context, address string) (thorchain.Account, error)
	SearchFundingTx(ctx context.Context, address string, amount *big.Int) (string, error)
	Broadcast(ctx context.Context, signedTx []byte) (string, error)
}

// Signer produces signed transactions for the distribution hot address. Key
// custody stays behind this interface.
type Signer interface {
	Address(ctx context.Context) (string, error)
	Sign(ctx context.Context, tx *thorchain.SendTx) (string, error)
}

type Config struct {
	Logger *slog.Logger
	Node   Node
	Signer Signer
	Store  *statefile.Store

	// Treasury is the multisig address that funds the distribution.
	Treasury string

	// FundingPollInterval is the wait between funding checks.
	FundingPollInterval time.Duration

	// BroadcastRetry bounds retries of transient broadcast failures.
	BroadcastRetry retry.Config

	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Node == nil {
		return errors.New("thorchain node client is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.Store == nil {
		return errors.New("state store is required")
	}
	if cfg.Treasury == "" {
		return errors.New("treasury address is required")
	}
	if cfg.FundingPollInterval == 0 {
		cfg.FundingPollInterval = 30 * time.Second
	}
	if cfg.BroadcastRetry.MaxAttempts == 0 {
		cfg.BroadcastRetry = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Workflow executes the payout phases for one epoch.
type Workflow struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Workflow{log: cfg.Logger, cfg: cfg}, nil
}

// Load returns the persisted workflow state, or nil when none exists.
// Unreadable or undecodable state is ErrCorruptState.
func (w *Workflow) Load() (*WorkflowState, error) {
	return LoadState(w.cfg.Store)
}

// LoadState reads persisted workflow state from store without constructing a
// workflow, for status inspection.
func LoadState(store *statefile.Store) (*WorkflowState, error) {
	data, err := store.Read(stateKey)
	if err != nil {
		if errors.Is(err, statefile.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if state.Phase == "" || len(state.Records) == 0 {
		return nil, fmt.Errorf("%w: missing phase or records", ErrCorruptState)
	}
	return &state, nil
}

func (w *Workflow) persist(state *WorkflowState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}
	if err := w.cfg.Store.Write(stateKey, data); err != nil {
		return fmt.Errorf("failed to persist workflow state: %w", err)
	}
	return nil
}

// Run drives the distribution for ep to completion, creating fresh state or
// resuming persisted state. On success every positive distribution carries a
// TxID, which Run folds back into ep along with a complete status.
func (w *Workflow) Run(ctx context.Context, ep *epoch.Epoch, epochHash string) error {
	state, err := w.Load()
	if err != nil {
		return err
	}
	if state == nil {
		state, err = w.newState(ep, epochHash)
		if err != nil {
			return err
		}
		if err := w.persist(state); err != nil {
			return err
		}
	} else {
		if state.Epoch != ep.Number {
			return fmt.Errorf("%w: state is for epoch %d, expected %d", ErrCorruptState, state.Epoch, ep.Number)
		}
		// The hash pins state to one processed record. State left over
		// from a reprocessed epoch carries stale amounts and recipients
		// and must never drive a payout for the new record.
		if state.EpochHash != epochHash {
			return fmt.Errorf("%w: state is for epoch record %s, expected %s", ErrCorruptState, state.EpochHash, epochHash)
		}
		w.log.Info("resuming distribution", "epoch", state.Epoch, "phase", state.Phase)
	}

	for state.Phase != PhaseComplete {
		switch state.Phase {
		case PhaseFunding:
			err = w.fund(ctx, state)
		case PhaseSigning:
			err = w.sign(ctx, state)
		case PhaseBroadcasting:
			err = w.broadcast(ctx, state)
		default:
			return fmt.Errorf("%w: unknown phase %q", ErrCorruptState, state.Phase)
		}
		if err != nil {
			return err
		}
	}

	broadcast := make(map[string]string, len(state.Records))
	for _, record := range state.Records {
		if _, ok := ep.Distributions[record.Account]; !ok {
			return fmt.Errorf("%w: record for unknown account %s", ErrCorruptState, record.Account)
		}
		broadcast[record.Account] = record.TxID
	}

	// The record is only complete once every positive distribution has a
	// confirmed broadcast id.
	for _, account := range ep.Accounts() {
		txID, ok := broadcast[account]
		if !ok || txID == "" {
			return fmt.Errorf("%w: no broadcast transaction for account %s", ErrCorruptState, account)
		}
		dist := ep.Distributions[account]
		dist.TxID = txID
		ep.Distributions[account] = dist
	}
	ep.DistributionStatus = epoch.StatusComplete

	w.log.Info("distribution complete", "epoch", ep.Number, "transfers", len(state.Records))
	return nil
}

func (w *Workflow) newState(ep *epoch.Epoch, epochHash string) (*WorkflowState, error) {
	state := &WorkflowState{
		Epoch:     ep.Number,
		Phase:     PhaseFunding,
		EpochHash: epochHash,
	}
	for _, account := range ep.Accounts() {
		dist := ep.Distributions[account]
		state.Records = append(state.Records, Record{
			Account:       account,
			Amount:        dist.Amount,
			RewardAddress: dist.RewardAddress,
		})
	}
	if len(state.Records) == 0 {
		return nil, errors.New("epoch has no positive distributions")
	}
	return state, nil
}

// fundingAmount is the sum of all transfers plus the native fee for each.
func (w *Workflow) fundingAmount(state *WorkflowState) (*big.Int, error) {
	total := new(big.Int)
	for _, record := range state.Records {
		amount, ok := new(big.Int).SetString(record.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("%w: invalid amount %q for %s", ErrCorruptState, record.Amount, record.Account)
		}
		total.Add(total, amount)
	}
	fees := new(big.Int).Mul(big.NewInt(thorchain.TxFee), big.NewInt(int64(len(state.Records))))
	return total.Add(total, fees), nil
}

func (w *Workflow) fund(ctx context.Context, state *WorkflowState) error {
	hotAddress, err := w.cfg.Signer.Address(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve hot wallet address: %w", err)
	}

	amount, err := w.fundingAmount(state)
	if err != nil {
		return err
	}

	memo := fmt.Sprintf("Fund rFOX rewards distribution - Epoch #%d (IPFS Hash: %s)", state.Epoch, state.EpochHash)
	fundingTx := thorchain.BuildFundingTx(w.cfg.Treasury, hotAddress, amount, memo)
	data, err := json.MarshalIndent(fundingTx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode funding transaction: %w", err)
	}
	if err := w.cfg.Store.Write(fundingTxKey, data); err != nil {
		return err
	}

	w.log.Info("waiting for funding",
		"epoch", state.Epoch,
		"amount", amount.String(),
		"address", hotAddress,
		"unsignedTx", w.cfg.Store.Path(fundingTxKey),
	)

	err = retry.Poll(ctx, w.cfg.Clock, w.cfg.FundingPollInterval, func() (bool, error) {
		txid, err := w.cfg.Node.SearchFundingTx(ctx, hotAddress, amount)
		if err != nil {
			w.log.Warn("funding check failed", "error", err)
			return false, nil
		}
		if txid == "" {
			return false, nil
		}
		state.FundingTxID = txid
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("funding wait aborted: %w", err)
	}

	w.log.Info("funding confirmed", "epoch", state.Epoch, "txid", state.FundingTxID)

	state.Phase = PhaseSigning
	return w.persist(state)
}

func (w *Workflow) sign(ctx context.Context, state *WorkflowState) error {
	hotAddress, err := w.cfg.Signer.Address(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve hot wallet address: %w", err)
	}

	account, err := w.cfg.Node.Account(ctx, hotAddress)
	if err != nil {
		return fmt.Errorf("failed to fetch hot wallet account: %w", err)
	}

	signed := 0
	for _, record := range state.Records {
		if record.SignedTx != "" {
			signed++
		}
	}

	// Nothing broadcasts before signing finishes, so the chain sequence is
	// stable across resumes and record i always signs with sequence base+i.
	for i := range state.Records {
		record := &state.Records[i]
		if record.SignedTx != "" {
			continue
		}

		amount, ok := new(big.Int).SetString(record.Amount, 10)
		if !ok {
			return fmt.Errorf("%w: invalid amount %q for %s", ErrCorruptState, record.Amount, record.Account)
		}

		memo := fmt.Sprintf("rFOX reward (Staking Address: %s) - Epoch #%d (IPFS Hash: %s)",
			record.Account, state.Epoch, state.EpochHash)
		tx := thorchain.BuildSendTx(account, account.Sequence+uint64(i), hotAddress, record.RewardAddress, amount, memo)

		signedTx, err := w.cfg.Signer.Sign(ctx, tx)
		if err != nil {
			return fmt.Errorf("%d/%d transactions signed, failed to sign transfer to %s: %w",
				signed, len(state.Records), record.RewardAddress, err)
		}

		record.SignedTx = signedTx
		signed++
		if err := w.persist(state); err != nil {
			return err
		}
		w.log.Info("signed transfer", "account", record.Account, "progress", fmt.Sprintf("%d/%d", signed, len(state.Records)))
	}

	state.Phase = PhaseBroadcasting
	return w.persist(state)
}

func (w *Workflow) broadcast(ctx context.Context, state *WorkflowState) error {
	broadcast := 0
	for i := range state.Records {
		record := &state.Records[i]
		if record.TxID != "" {
			broadcast++
			continue
		}
		if record.SignedTx == "" {
			return fmt.Errorf("%w: record for %s reached broadcasting unsigned", ErrCorruptState, record.Account)
		}

		err := retry.Do(ctx, w.cfg.BroadcastRetry, func() error {
			txid, err := w.cfg.Node.Broadcast(ctx, []byte(record.SignedTx))
			if err != nil {
				return err
			}
			record.TxID = txid
			return nil
		})
		if err != nil {
			return fmt.Errorf("%d/%d transactions broadcast, transfer to %s failed: %w",
				broadcast, len(state.Records), record.RewardAddress, err)
		}

		broadcast++
		if err := w.persist(state); err != nil {
			return err
		}
		w.log.Info("broadcast transfer", "account", record.Account, "txid", record.TxID,
			"progress", fmt.Sprintf("%d/%d", broadcast, len(state.Records)))
	}

	state.Phase = PhaseComplete
	return w.persist(state)
}
