package main

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shapeshift/rfox/internal/distributor"
	"github.com/shapeshift/rfox/pkg/chain"
	"github.com/shapeshift/rfox/pkg/events"
	"github.com/shapeshift/rfox/pkg/ipfs"
	"github.com/shapeshift/rfox/pkg/thorchain"
)

type clientConfig struct {
	arbitrumRPC  string
	thorchainLCD string
	thorchainRPC string
	ipfsAPI      string
	signerURL    string
	contract     string
	treasury     string
	dataDir      string
	rps          float64
}

// newDistributor builds the full client stack behind a Distributor. THORChain
// and signer clients are only constructed when their endpoints are set, so
// --process works without payout configuration.
func newDistributor(ctx context.Context, log *slog.Logger, cfg clientConfig) (*distributor.Distributor, error) {
	rpc, err := chain.Dial(ctx, cfg.arbitrumRPC)
	if err != nil {
		return nil, err
	}

	chainClient, err := chain.New(chain.Config{
		Logger:            log,
		RPC:               rpc,
		Contract:          common.HexToAddress(cfg.contract),
		RequestsPerSecond: cfg.rps,
	})
	if err != nil {
		return nil, err
	}

	normalizer, err := events.New(events.Config{
		Logger: log,
		Chain:  chainClient,
	})
	if err != nil {
		return nil, err
	}

	objects, err := ipfs.New(ipfs.Config{
		Logger: log,
		APIURL: cfg.ipfsAPI,
	})
	if err != nil {
		return nil, err
	}

	node, err := thorchain.New(thorchain.Config{
		Logger: log,
		LCDURL: orPlaceholder(cfg.thorchainLCD),
		RPCURL: orPlaceholder(cfg.thorchainRPC),
	})
	if err != nil {
		return nil, err
	}

	signer, err := thorchain.NewSigner(thorchain.SignerConfig{
		Logger: log,
		URL:    orPlaceholder(cfg.signerURL),
	})
	if err != nil {
		return nil, err
	}

	return distributor.New(distributor.Config{
		Logger:   log,
		Chain:    chainClient,
		Events:   normalizer,
		Objects:  objects,
		Node:     node,
		Signer:   signer,
		Treasury: cfg.treasury,
		DataDir:  cfg.dataDir,
	})
}

// orPlaceholder keeps optional payout clients constructible during --process
// runs that never touch them.
func orPlaceholder(url string) string {
	if url == "" {
		return "http://unconfigured.invalid"
	}
	return url
}
