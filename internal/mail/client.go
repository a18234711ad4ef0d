package mail

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/retry"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mail provider returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPClient implements Provider over the provider REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	mailboxes  domain.Mailboxes
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
	logger     *zap.Logger
}

// NewHTTPClient builds a client from config. mailboxes are the shop's own addresses.
func NewHTTPClient(cfg config.MailConfig, mailboxes domain.Mailboxes, logger *zap.Logger) *HTTPClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      cfg.APIToken,
		mailboxes:  mailboxes,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		retry:      retryCfg,
		logger:     logger,
	}
}

func (c *HTTPClient) FetchNewMessages(ctx context.Context, account string, folder domain.FolderKind, cursor string) ([]domain.CanonicalMessage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("since", cursor)
	}
	path := fmt.Sprintf("/accounts/%s/folders/%s/messages", url.PathEscape(account), url.PathEscape(string(folder)))

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.CanonicalMessage, 0, len(resp.Messages))
	for _, raw := range resp.Messages {
		out = append(out, Normalize(raw, account, folder, c.mailboxes))
	}
	return out, nil
}

func (c *HTTPClient) FetchMessageBody(ctx context.Context, account, providerID string) (Body, error) {
	path := fmt.Sprintf("/accounts/%s/messages/%s/body", url.PathEscape(account), url.PathEscape(providerID))
	var body Body
	err := c.do(ctx, http.MethodGet, path, nil, nil, &body)
	return body, err
}

func (c *HTTPClient) SendMessage(ctx context.Context, envelope domain.Envelope) (string, error) {
	path := fmt.Sprintf("/accounts/%s/messages", url.PathEscape(envelope.FromAccount))
	payload := sendRequest{
		To:         envelope.To,
		ToName:     envelope.ToName,
		Subject:    envelope.Subject,
		HTML:       envelope.HTML,
		Text:       envelope.Text,
		InReplyTo:  envelope.InReplyTo,
		References: envelope.References,
	}
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &resp); err != nil {
		return "", err
	}
	return CleanMessageID(resp.ID), nil
}

// do performs one logical request, retrying transient failures.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = encoded
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	result := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return c.attempt(ctx, method, target, body, out)
	}, c.logger)
	if !result.Success {
		return result.LastError
	}
	return nil
}

func (c *HTTPClient) attempt(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	c.logger.Debug("mail provider call",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if statusErr.Retryable() {
			return statusErr
		}
		return retry.Permanent(statusErr)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
