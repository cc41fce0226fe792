// Package certclient talks to the certificate-provider HTTP service that
// manages the PFX bundles mounted on the host.
package certclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/metrics"
)

// ErrIdentityUnavailable is returned by Install when the provider holds no
// certificate for the requested registration id.
var ErrIdentityUnavailable = errors.New("no certificate for registration id")

// Config controls the provider client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a thin wrapper over the provider's REST surface.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Certificate is one entry of the provider's store listing.
type Certificate struct {
	RegistrationID string `json:"cnpj"`
	Subject        string `json:"subject"`
	ExpiresAt      string `json:"expires_at"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("certificates.base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse certificates.base_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// CheckHealth probes GET /certificates. Any transport error or non-200 status
// is fatal to the caller: no work should start against an unreachable store.
func (c *Client) CheckHealth(ctx context.Context) (err error) {
	defer func() { metrics.ObserveCertificateOp("health", err) }()

	resp, err := c.do(ctx, http.MethodGet, "/certificates", nil)
	if err != nil {
		return fmt.Errorf("certificate provider unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("certificate provider returned status %d", resp.StatusCode)
	}
	return nil
}

// Organize asks the provider to reorganize its certificate store.
func (c *Client) Organize(ctx context.Context) (err error) {
	defer func() { metrics.ObserveCertificateOp("organize", err) }()

	resp, err := c.do(ctx, http.MethodPost, "/certificates/organize", nil)
	if err != nil {
		return fmt.Errorf("organize certificates: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("organize certificates: status %d", resp.StatusCode)
	}
	c.logger.Info("Certificate store organized", zap.String("message", readMessage(resp.Body)))
	return nil
}

// Clear unmounts whatever identity is currently installed on the host.
func (c *Client) Clear(ctx context.Context) (err error) {
	defer func() { metrics.ObserveCertificateOp("clear", err) }()

	resp, err := c.do(ctx, http.MethodPost, "/certificates/clear", nil)
	if err != nil {
		return fmt.Errorf("clear certificates: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clear certificates: status %d", resp.StatusCode)
	}
	return nil
}

// Install mounts the identity for registrationID. A 404 means the provider has
// no certificate for that id and maps to ErrIdentityUnavailable.
func (c *Client) Install(ctx context.Context, registrationID string) (err error) {
	defer func() { metrics.ObserveCertificateOp("install", err) }()

	payload, err := json.Marshal(map[string]string{"cnpj": registrationID})
	if err != nil {
		return fmt.Errorf("marshal install payload: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/certificates/install", payload)
	if err != nil {
		return fmt.Errorf("install certificate: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("install certificate for %s: %w", registrationID, ErrIdentityUnavailable)
	default:
		return fmt.Errorf("install certificate: status %d", resp.StatusCode)
	}
}

// List pages through the provider's certificate store.
func (c *Client) List(ctx context.Context, page, limit int) (certs []Certificate, err error) {
	defer func() { metrics.ObserveCertificateOp("list", err) }()

	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	path := "/certificates?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list certificates: status %d", resp.StatusCode)
	}
	var out []Certificate
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode certificate listing: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func readMessage(body io.Reader) string {
	var msg messageResponse
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		return ""
	}
	return msg.Message
}
