package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// ChainClient is the chain-query capability the normalizer consumes.
type ChainClient interface {
	// Logs returns all staking contract logs matching topics in the
	// inclusive block range [from, to].
	Logs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error)

	// BlockTime returns the timestamp of the given block.
	BlockTime(ctx context.Context, number uint64) (uint64, error)
}

type Config struct {
	Logger *slog.Logger
	Chain  ChainClient

	// ChunkSize bounds the block span of a single log query to respect
	// upstream provider limits.
	ChunkSize uint64

	// TimestampConcurrency bounds parallel block-timestamp lookups.
	// Timestamp reads are side-effect free, so they may be pipelined.
	TimestampConcurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain client is required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 10_000
	}
	if cfg.TimestampConcurrency <= 0 {
		cfg.TimestampConcurrency = 8
	}
	return nil
}

// Normalizer fetches staking logs for a block range and returns them as
// typed events sorted ascending by (block number, log index), each carrying
// its block timestamp.
type Normalizer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{log: cfg.Logger, cfg: cfg}, nil
}

// Fetch returns all staking events in the inclusive block range [from, to].
// Any page or timestamp failure aborts the whole fetch: the reward replay
// requires a complete, totally ordered event stream, so a partial result is
// unusable.
func (n *Normalizer) Fetch(ctx context.Context, from, to uint64) ([]Event, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range: from %d > to %d", from, to)
	}

	var evs []Event
	for start := from; ; start += n.cfg.ChunkSize {
		end := start + n.cfg.ChunkSize - 1
		if end > to || end < start { // overflow guard
			end = to
		}

		logs, err := n.cfg.Chain.Logs(ctx, start, end, Topics())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch staking logs for blocks %d-%d: %w", start, end, err)
		}
		n.log.Debug("fetched staking logs", "from", start, "to", end, "count", len(logs))

		for _, l := range logs {
			ev, err := Decode(l)
			if err != nil {
				return nil, err
			}
			evs = append(evs, ev)
		}

		if end == to {
			break
		}
	}

	sort.Slice(evs, func(i, j int) bool {
		if evs[i].BlockNumber != evs[j].BlockNumber {
			return evs[i].BlockNumber < evs[j].BlockNumber
		}
		return evs[i].LogIndex < evs[j].LogIndex
	})

	if err := n.attachTimestamps(ctx, evs); err != nil {
		return nil, err
	}

	n.log.Info("normalized staking events", "from", from, "to", to, "count", len(evs))
	return evs, nil
}

func (n *Normalizer) attachTimestamps(ctx context.Context, evs []Event) error {
	blocks := make([]uint64, 0, len(evs))
	seen := make(map[uint64]struct{}, len(evs))
	for _, ev := range evs {
		if _, ok := seen[ev.BlockNumber]; !ok {
			seen[ev.BlockNumber] = struct{}{}
			blocks = append(blocks, ev.BlockNumber)
		}
	}

	timestamps := make([]uint64, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.TimestampConcurrency)
	for i, number := range blocks {
		g.Go(func() error {
			ts, err := n.cfg.Chain.BlockTime(gctx, number)
			if err != nil {
				return fmt.Errorf("failed to fetch timestamp for block %d: %w", number, err)
			}
			timestamps[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	byBlock := make(map[uint64]uint64, len(blocks))
	for i, number := range blocks {
		byBlock[number] = timestamps[i]
	}
	for i := range evs {
		evs[i].Timestamp = byBlock[evs[i].BlockNumber]
	}
	return nil
}
