package chain

import (
	"context"
	"fmt"
)

// BlockMode selects which block to return when consecutive blocks share a
// timestamp, which Arbitrum's batched sequencing produces routinely.
type BlockMode int

const (
	// Earliest returns the first block at or after the target timestamp.
	Earliest BlockMode = iota
	// Latest returns the last block at or before the target timestamp.
	Latest
)

// BlockByTimestamp resolves target (unix seconds) to a block number by binary
// search over headers. Earliest mode finds the first block with timestamp >=
// target; Latest mode finds the last block with timestamp <= target.
func (c *Client) BlockByTimestamp(ctx context.Context, target uint64, mode BlockMode) (uint64, error) {
	head, err := c.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	headTime, err := c.BlockTime(ctx, head)
	if err != nil {
		return 0, err
	}
	if target > headTime {
		return 0, fmt.Errorf("no block exists yet for timestamp %d (head %d at %d)", target, head, headTime)
	}

	// Invariant: blocks < lo have timestamp < target, blocks > hi may not.
	// After the loop lo is the first block with timestamp >= target.
	lo, hi := uint64(1), head
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := c.BlockTime(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ts < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	switch mode {
	case Earliest:
		c.log.Debug("resolved timestamp to block", "timestamp", target, "block", lo, "mode", "earliest")
		return lo, nil
	case Latest:
		// Walk forward through any run of blocks sharing the target timestamp.
		ts, err := c.BlockTime(ctx, lo)
		if err != nil {
			return 0, err
		}
		block := lo
		if ts > target {
			// No block landed exactly on target; the last block before it wins.
			if lo == 1 {
				return 0, fmt.Errorf("no block exists at or before timestamp %d", target)
			}
			block = lo - 1
		} else {
			for block < head {
				next, err := c.BlockTime(ctx, block+1)
				if err != nil {
					return 0, err
				}
				if next != target {
					break
				}
				block++
			}
		}
		c.log.Debug("resolved timestamp to block", "timestamp", target, "block", block, "mode", "latest")
		return block, nil
	default:
		return 0, fmt.Errorf("unknown block mode %d", mode)
	}
}
