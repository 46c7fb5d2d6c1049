package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout = 30 * time.Second
)

// HTTPClient implements Client against the settlement gateway's HTTP API.
// Requests carry the operator signature; the gateway deduplicates on the
// intent's idempotency key, so transport-level resends are safe.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	signer    *Signer
	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new settlement gateway client.
func NewHTTPClient(endpoint string, signer *Signer, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		signer:   signer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// gatewayRequest is the envelope the gateway expects.
type gatewayRequest struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Intent    json.RawMessage `json:"intent"`
	Signer    string          `json:"signer"`
	Signature string          `json:"signature"`
}

// gatewayResponse is the gateway's synchronous acknowledgement. The
// settlement outcome itself arrives later on the callback stream.
type gatewayResponse struct {
	ID       uint64 `json:"id"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// RequestIssuance submits a mint intent.
func (c *HTTPClient) RequestIssuance(ctx context.Context, intent IssuanceIntent) error {
	return c.send(ctx, "requestIssuance", intent)
}

// RequestPayout submits a payout intent.
func (c *HTTPClient) RequestPayout(ctx context.Context, intent PayoutIntent) error {
	return c.send(ctx, "requestPayout", intent)
}

func (c *HTTPClient) send(ctx context.Context, method string, intent interface{}) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}

	req := gatewayRequest{
		ID:        c.requestID.Add(1),
		Method:    method,
		Intent:    body,
		Signer:    c.signer.PublicKeyBase58(),
		Signature: c.signer.Sign(body),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: gateway returned %d: %s", method, resp.StatusCode, data)
	}

	var gw gatewayResponse
	if err := json.Unmarshal(data, &gw); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !gw.Accepted {
		return fmt.Errorf("%s: gateway rejected intent: %s", method, gw.Error)
	}
	return nil
}
