package thorchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type SignerConfig struct {
	Logger *slog.Logger

	// URL is the signing service endpoint. The service holds the hot wallet
	// key; unsigned transactions go in, serialized signed transactions come
	// out, and the key never enters this process.
	URL string

	HTTPClient *http.Client
}

func (cfg *SignerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.URL == "" {
		return errors.New("signer url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return nil
}

// SignerClient signs reward transfers through an external signing service.
type SignerClient struct {
	log *slog.Logger
	cfg SignerConfig
}

func NewSigner(cfg SignerConfig) (*SignerClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SignerClient{log: cfg.Logger, cfg: cfg}, nil
}

// Address returns the hot wallet address held by the signing service.
func (s *SignerClient) Address(ctx context.Context) (string, error) {
	var result struct {
		Address string `json:"address"`
	}
	if err := s.post(ctx, "/address", nil, &result); err != nil {
		return "", fmt.Errorf("failed to fetch signer address: %w", err)
	}
	if result.Address == "" {
		return "", errors.New("signing service returned no address")
	}
	return result.Address, nil
}

// Sign submits an unsigned transfer and returns the serialized signed
// transaction.
func (s *SignerClient) Sign(ctx context.Context, tx *SendTx) (string, error) {
	var result struct {
		Serialized string `json:"serialized"`
	}
	if err := s.post(ctx, "/sign", tx, &result); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if result.Serialized == "" {
		return "", errors.New("signing service returned no signed transaction")
	}
	return result.Serialized, nil
}

func (s *SignerClient) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{status: resp.StatusCode, body: string(msg)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
