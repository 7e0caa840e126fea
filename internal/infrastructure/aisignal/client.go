// Package aisignal calls the external AI scorer over JSON/HTTP.
package aisignal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

const (
	scorePath        = "/v1/score"
	userAgent        = "karin-compliance/aisignal"
	maxResponseBytes = 1 << 20
)

// Client scores narratives with one request per call.  The caller's context
// bounds the request; there are no retries.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

var _ risk.SignalSource = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient validates the base URL and returns a scorer client.
func NewClient(cfg config.AISignalConfig, log logging.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Validation("ai_signal.base_url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid ai_signal.base_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Validation("ai_signal.base_url scheme must be http or https")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Named("aisignal"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type scoreResponse struct {
	Severity   *float64 `json:"severity"`
	Confidence *float64 `json:"confidence"`
	Indicators []string `json:"indicators"`
	Model      string   `json:"model"`
}

// Score posts the narrative and returns the validated signal.  Every failure
// is reported as ExternalUnavailable.
func (c *Client) Score(ctx context.Context, req risk.SignalRequest) (*compliance.AISignal, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal score request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scorePath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalUnavailable, "failed to build score request")
	}
	requestID := uuid.New().String()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalUnavailable, "ai scorer request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalUnavailable, "failed to read ai scorer response")
	}
	c.logger.Debug("ai scorer responded",
		logging.CaseID(req.CaseID),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
		logging.String("request_id", requestID))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.ExternalUnavailable(fmt.Sprintf("ai scorer returned HTTP %d", resp.StatusCode)).
			WithDetail(truncate(string(data), 256))
	}

	var sr scoreResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalUnavailable, "ai scorer returned invalid json")
	}
	if sr.Severity == nil || sr.Confidence == nil {
		return nil, errors.ExternalUnavailable("ai scorer response missing severity or confidence")
	}
	sig := &compliance.AISignal{
		Severity:   *sr.Severity,
		Confidence: *sr.Confidence,
		Indicators: sr.Indicators,
		Model:      sr.Model,
	}
	if err := sig.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalUnavailable, "ai scorer returned out-of-range values")
	}
	return sig, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
