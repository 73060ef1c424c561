// Package events fetches and normalizes rFOX staking contract logs into a
// totally ordered stream of typed staking events.
package events

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind identifies the staking event variants the reward replay models. Any
// other log kind from the staking contract is rejected at decode time rather
// than silently ignored downstream.
type Kind uint8

const (
	KindStake Kind = iota + 1
	KindUnstake
	KindSetRuneAddress
)

func (k Kind) String() string {
	switch k {
	case KindStake:
		return "Stake"
	case KindUnstake:
		return "Unstake"
	case KindSetRuneAddress:
		return "SetRuneAddress"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Event is a normalized staking contract log. Ordering key is
// (BlockNumber, LogIndex) ascending.
type Event struct {
	Kind        Kind
	Account     common.Address
	BlockNumber uint64
	LogIndex    uint

	// Amount is the signed staked-balance delta in base units: positive for
	// Stake, negative for Unstake, nil for SetRuneAddress.
	Amount *big.Int

	// RuneAddress is the THORChain reward address set by Stake and
	// SetRuneAddress events.
	RuneAddress string

	// Timestamp is the containing block's timestamp, attached by the
	// normalizer.
	Timestamp uint64
}

const stakingEventsJSON = `[
	{"type":"event","name":"Stake","anonymous":false,"inputs":[
		{"name":"account","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"runeAddress","type":"string","indexed":false}]},
	{"type":"event","name":"Unstake","anonymous":false,"inputs":[
		{"name":"account","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"SetRuneAddress","anonymous":false,"inputs":[
		{"name":"account","type":"address","indexed":true},
		{"name":"oldRuneAddress","type":"string","indexed":false},
		{"name":"newRuneAddress","type":"string","indexed":false}]}
]`

var stakingEvents = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(stakingEventsJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid staking events ABI: %v", err))
	}
	return a
}()

var (
	stakeTopic          = stakingEvents.Events["Stake"].ID
	unstakeTopic        = stakingEvents.Events["Unstake"].ID
	setRuneAddressTopic = stakingEvents.Events["SetRuneAddress"].ID
)

// Topics returns the event signature hashes used to filter staking logs.
func Topics() []common.Hash {
	return []common.Hash{stakeTopic, unstakeTopic, setRuneAddressTopic}
}

// Decode converts a raw contract log into a typed Event. The timestamp is
// left unset; the normalizer attaches it.
func Decode(log types.Log) (Event, error) {
	if log.Removed {
		return Event{}, fmt.Errorf("log at block %d index %d was removed by a reorg", log.BlockNumber, log.Index)
	}
	if len(log.Topics) < 2 {
		return Event{}, fmt.Errorf("log at block %d index %d has no indexed account", log.BlockNumber, log.Index)
	}

	ev := Event{
		Account:     common.BytesToAddress(log.Topics[1].Bytes()),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}

	switch log.Topics[0] {
	case stakeTopic:
		vals, err := stakingEvents.Unpack("Stake", log.Data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to unpack Stake log at block %d index %d: %w", log.BlockNumber, log.Index, err)
		}
		ev.Kind = KindStake
		ev.Amount = new(big.Int).Set(vals[0].(*big.Int))
		ev.RuneAddress = vals[1].(string)

	case unstakeTopic:
		vals, err := stakingEvents.Unpack("Unstake", log.Data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to unpack Unstake log at block %d index %d: %w", log.BlockNumber, log.Index, err)
		}
		ev.Kind = KindUnstake
		ev.Amount = new(big.Int).Neg(vals[0].(*big.Int))

	case setRuneAddressTopic:
		vals, err := stakingEvents.Unpack("SetRuneAddress", log.Data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to unpack SetRuneAddress log at block %d index %d: %w", log.BlockNumber, log.Index, err)
		}
		ev.Kind = KindSetRuneAddress
		ev.RuneAddress = vals[1].(string)

	default:
		return Event{}, fmt.Errorf("unknown staking event topic %s at block %d index %d", log.Topics[0], log.BlockNumber, log.Index)
	}

	return ev, nil
}
