package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/shapeshift/rfox/internal/distributor"
	"github.com/shapeshift/rfox/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Endpoints
	arbitrumRPCFlag := flag.String("arbitrum-rpc", "", "Arbitrum RPC URL (or set ARBITRUM_RPC_URL env var)")
	thorchainLCDFlag := flag.String("thorchain-lcd", "", "THORChain LCD URL (or set THORCHAIN_LCD_URL env var)")
	thorchainRPCFlag := flag.String("thorchain-rpc", "", "THORChain RPC URL (or set THORCHAIN_RPC_URL env var)")
	ipfsAPIFlag := flag.String("ipfs-api", "", "IPFS node API URL (or set IPFS_API_URL env var)")
	signerURLFlag := flag.String("signer-url", "", "signing service URL (or set SIGNER_URL env var)")

	// Contract and treasury configuration
	contractFlag := flag.String("staking-contract", "0x0c66f315542fdec1d312c415b14eef614b0910ef", "rFOX staking proxy contract address on Arbitrum")
	creationBlockFlag := flag.Uint64("contract-creation-block", 0, "block the staking contract was deployed at, where event replay begins (or set CONTRACT_CREATION_BLOCK env var)")
	treasuryFlag := flag.String("treasury", "", "treasury multisig address funding distributions (or set TREASURY_ADDRESS env var)")
	dataDirFlag := flag.String("data-dir", defaultDataDir(), "directory for distribution state files")
	rpsFlag := flag.Float64("rpc-rps", 20, "max Arbitrum RPC requests per second")

	// Commands
	processFlag := flag.Bool("process", false, "Close out an epoch: replay, validate, allocate, publish")
	distributeFlag := flag.Bool("distribute", false, "Run the payout for a published epoch record")
	recoverFlag := flag.Bool("recover", false, "Resume an interrupted payout from persisted state")
	statusFlag := flag.Bool("status", false, "Show persisted payout progress for an epoch")

	// Epoch options
	epochFlag := flag.Uint64("epoch", 0, "epoch number")
	startTimeFlag := flag.String("start-time", "", "epoch start (RFC3339, resolved to the earliest block at or after it)")
	endTimeFlag := flag.String("end-time", "", "epoch end (RFC3339, resolved to the latest block at or before it)")
	startBlockFlag := flag.Uint64("start-block", 0, "epoch start block (overrides --start-time)")
	endBlockFlag := flag.Uint64("end-block", 0, "epoch end block (overrides --end-time)")
	revenueFlag := flag.String("revenue", "", "epoch buyback revenue in RUNE base units")
	rateFlag := flag.Float64("rate", 0.25, "fraction of revenue distributed as rewards")
	burnRateFlag := flag.Float64("burn-rate", 0, "fraction of revenue used to buy and burn FOX (recorded only)")
	metadataHashFlag := flag.String("metadata-hash", "", "previously published metadata record hash (empty for the first epoch)")
	epochHashFlag := flag.String("epoch-hash", "", "published epoch record hash (for --distribute / --recover)")
	acceptMarginFlag := flag.Bool("accept-units-outside-margin", false, "proceed when total reward units deviate from nominal emission (confirm the cause first)")

	flag.Parse()

	// Missing .env is fine, flags and real env still apply.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("ARBITRUM_RPC_URL"); env != "" {
		*arbitrumRPCFlag = env
	}
	if env := os.Getenv("THORCHAIN_LCD_URL"); env != "" {
		*thorchainLCDFlag = env
	}
	if env := os.Getenv("THORCHAIN_RPC_URL"); env != "" {
		*thorchainRPCFlag = env
	}
	if env := os.Getenv("IPFS_API_URL"); env != "" {
		*ipfsAPIFlag = env
	}
	if env := os.Getenv("SIGNER_URL"); env != "" {
		*signerURLFlag = env
	}
	if env := os.Getenv("TREASURY_ADDRESS"); env != "" {
		*treasuryFlag = env
	}
	if env := os.Getenv("CONTRACT_CREATION_BLOCK"); env != "" {
		block, err := strconv.ParseUint(env, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CONTRACT_CREATION_BLOCK: %w", err)
		}
		*creationBlockFlag = block
	}

	if *epochFlag == 0 {
		return fmt.Errorf("--epoch is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *statusFlag {
		// Status only reads local state files, no clients needed.
		status, err := distributor.PayoutStatus(*dataDirFlag, *epochFlag)
		if err != nil {
			return err
		}
		return printJSON(status)
	}

	if *arbitrumRPCFlag == "" {
		return fmt.Errorf("--arbitrum-rpc is required")
	}
	if *ipfsAPIFlag == "" {
		return fmt.Errorf("--ipfs-api is required")
	}

	if *processFlag {
		if *revenueFlag == "" {
			return fmt.Errorf("--revenue is required for --process")
		}
		revenue, ok := new(big.Int).SetString(*revenueFlag, 10)
		if !ok {
			return fmt.Errorf("invalid --revenue %q", *revenueFlag)
		}
		if *creationBlockFlag == 0 {
			return fmt.Errorf("--contract-creation-block is required for --process")
		}
		if *treasuryFlag == "" {
			return fmt.Errorf("--treasury is required for --process")
		}

		startTimestamp, err := parseTimestamp(*startTimeFlag)
		if err != nil {
			return fmt.Errorf("invalid --start-time: %w", err)
		}
		endTimestamp, err := parseTimestamp(*endTimeFlag)
		if err != nil {
			return fmt.Errorf("invalid --end-time: %w", err)
		}

		d, err := newDistributor(ctx, log, clientConfig{
			arbitrumRPC:  *arbitrumRPCFlag,
			thorchainLCD: *thorchainLCDFlag,
			thorchainRPC: *thorchainRPCFlag,
			ipfsAPI:      *ipfsAPIFlag,
			signerURL:    *signerURLFlag,
			contract:     *contractFlag,
			treasury:     *treasuryFlag,
			dataDir:      *dataDirFlag,
			rps:          *rpsFlag,
		})
		if err != nil {
			return err
		}

		result, err := d.Process(ctx, distributor.ProcessParams{
			Epoch:                    *epochFlag,
			StartTimestamp:           startTimestamp,
			EndTimestamp:             endTimestamp,
			StartBlock:               *startBlockFlag,
			EndBlock:                 *endBlockFlag,
			ContractCreationBlock:    *creationBlockFlag,
			TotalRevenue:             revenue,
			DistributionRate:         *rateFlag,
			BurnRate:                 *burnRateFlag,
			MetadataHash:             *metadataHashFlag,
			AcceptUnitsOutsideMargin: *acceptMarginFlag,
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"epoch":        result.Epoch.Number,
			"accounts":     len(result.Epoch.Distributions),
			"epochHash":    result.EpochHash,
			"metadataHash": result.MetadataHash,
		})
	}

	if *distributeFlag || *recoverFlag {
		if *epochHashFlag == "" {
			return fmt.Errorf("--epoch-hash is required for --distribute and --recover")
		}
		if *thorchainLCDFlag == "" || *thorchainRPCFlag == "" {
			return fmt.Errorf("--thorchain-lcd and --thorchain-rpc are required for --distribute and --recover")
		}
		if *signerURLFlag == "" {
			return fmt.Errorf("--signer-url is required for --distribute and --recover")
		}
		if *treasuryFlag == "" {
			return fmt.Errorf("--treasury is required for --distribute and --recover")
		}

		d, err := newDistributor(ctx, log, clientConfig{
			arbitrumRPC:  *arbitrumRPCFlag,
			thorchainLCD: *thorchainLCDFlag,
			thorchainRPC: *thorchainRPCFlag,
			ipfsAPI:      *ipfsAPIFlag,
			signerURL:    *signerURLFlag,
			contract:     *contractFlag,
			treasury:     *treasuryFlag,
			dataDir:      *dataDirFlag,
			rps:          *rpsFlag,
		})
		if err != nil {
			return err
		}

		var result *distributor.DistributeResult
		if *recoverFlag {
			result, err = d.Recover(ctx, *epochHashFlag, *metadataHashFlag)
		} else {
			result, err = d.Distribute(ctx, *epochHashFlag, *metadataHashFlag)
		}
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"epoch":        result.Epoch.Number,
			"status":       result.Epoch.DistributionStatus,
			"epochHash":    result.EpochHash,
			"metadataHash": result.MetadataHash,
		})
	}

	flag.Usage()
	return fmt.Errorf("one of --process, --distribute, --recover, --status is required")
}

func parseTimestamp(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return uint64(t.Unix()), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rfox"
	}
	return filepath.Join(home, ".rfox")
}
