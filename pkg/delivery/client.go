package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SendRequest is the outbound payload for one recipient.
type SendRequest struct {
	PatientEmail    string `json:"patientEmail"`
	QuestionnaireID string `json:"questionnaireId"`
	SendDelayDays   int    `json:"sendDelayDays"`
	Link            string `json:"link,omitempty"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Error carries the provider's human-readable reason.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery failed (%d): %s", e.StatusCode, e.Reason)
	}
	return "delivery failed: " + e.Reason
}

// Reason extracts a practitioner-facing reason from a send error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "delivery provider timed out"
	}
	return "delivery provider unavailable"
}

// Config configures the provider client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client posts send requests to the transactional email provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a provider client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

// Send issues one send request. Non-2xx answers and success=false both
// return an *Error holding the provider's reason.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("delivery request failed", zap.String("questionnaire_id", req.QuestionnaireID), zap.Error(err))
		return fmt.Errorf("send questionnaire: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read delivery response: %w", err)
	}

	var parsed sendResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := parsed.Error
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Reason: reason}
	}
	if decodeErr != nil {
		return &Error{StatusCode: resp.StatusCode, Reason: "unreadable provider response"}
	}
	if !parsed.Success {
		reason := parsed.Error
		if reason == "" {
			reason = "rejected by provider"
		}
		return &Error{StatusCode: resp.StatusCode, Reason: reason}
	}

	c.logger.Debug("questionnaire delivered",
		zap.String("questionnaire_id", req.QuestionnaireID),
		zap.Int("send_delay_days", req.SendDelayDays),
		zap.Duration("latency", time.Since(start)))
	return nil
}
