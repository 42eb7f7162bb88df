package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/auth"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/cosign"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ClientConfig holds the configuration for the cosign client
type ClientConfig struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to a cosign server over HTTP
type Client struct {
	baseURL    string
	adminKey   string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cosign server returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new cosign client instance
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		adminKey:   config.AdminKey,
		httpClient: httpClient,
		logger:     config.Logger,
	}, nil
}

// Cosign requests a mint authorization.
func (c *Client) Cosign(ctx context.Context, req *types.CosignRequest) (*types.CosignResponse, error) {
	var resp types.CosignResponse
	if err := c.do(ctx, http.MethodPost, "/cosign", req, false, &resp); err != nil {
		return nil, err
	}
	c.logger.Sugar().Debugw("Received cosignature", "cosigner", resp.Cosigner, "timestamp", resp.Timestamp)
	return &resp, nil
}

// UpsertCollection creates or replaces a collection window. Requires the admin key.
func (c *Client) UpsertCollection(ctx context.Context, record *types.CollectionRecord) (*types.CollectionRecord, error) {
	var out types.CollectionRecord
	if err := c.do(ctx, http.MethodPost, "/collections", record, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCollections returns every stored collection window. Requires the admin key.
func (c *Client) ListCollections(ctx context.Context) ([]*types.CollectionRecord, error) {
	var out []*types.CollectionRecord
	if err := c.do(ctx, http.MethodGet, "/collections", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyCosignature checks that resp was signed by resp.Cosigner over req
// and, when expectedCosigner is set, that the cosigner is the expected one.
func VerifyCosignature(req *types.CosignRequest, resp *types.CosignResponse, expectedCosigner string) error {
	recovered, err := cosign.RecoverCosigner(req, resp)
	if err != nil {
		return err
	}
	if recovered != common.HexToAddress(resp.Cosigner) {
		return fmt.Errorf("signature recovers to %s, not the reported cosigner %s", recovered.Hex(), resp.Cosigner)
	}
	if expectedCosigner != "" && recovered != common.HexToAddress(expectedCosigner) {
		return fmt.Errorf("signature recovers to %s, expected %s", recovered.Hex(), expectedCosigner)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, admin bool, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set(auth.AdminKeyHeader, c.adminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
