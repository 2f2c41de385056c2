package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ordersentry/ordersentry/internal/errors"
)

const (
	defaultWebhookTimeout = 30 * time.Second

	// maxErrorBodySize limits error response body reading.
	maxErrorBodySize = 1024
)

// WebhookProvider POSTs a JSON payload to one or more HTTP endpoints.
// Thread-safe for concurrent use.
type WebhookProvider struct {
	name    string
	enabled bool
	urls    []string
	headers map[string]string
	types   map[string]bool
	client  *http.Client
}

// WebhookPayload is the JSON structure sent to webhooks.
type WebhookPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority,omitzero"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	OrderID   string         `json:"order_id,omitzero"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitzero"`
}

// NewWebhookProvider creates a webhook push provider. An empty
// supportedTypes list means all notification types.
func NewWebhookProvider(name string, enabled bool, urls []string, headers map[string]string, supportedTypes []string, timeout time.Duration) *WebhookProvider {
	wp := &WebhookProvider{
		name:    strings.TrimSpace(name),
		enabled: enabled,
		urls:    slices.Clone(urls),
		headers: maps.Clone(headers),
		types:   make(map[string]bool),
	}
	if wp.name == "" {
		wp.name = "webhook"
	}
	if len(supportedTypes) == 0 {
		wp.types[string(TypeNewOrder)] = true
		wp.types[string(TypeEscalation)] = true
	} else {
		for _, t := range supportedTypes {
			wp.types[t] = true
		}
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	wp.client = &http.Client{Timeout: timeout}
	return wp
}

func (w *WebhookProvider) GetName() string          { return w.name }
func (w *WebhookProvider) IsEnabled() bool          { return w.enabled }
func (w *WebhookProvider) SupportsType(t Type) bool { return w.types[string(t)] }

// ValidateConfig checks every endpoint URL parses and uses http or https.
func (w *WebhookProvider) ValidateConfig() error {
	if !w.enabled {
		return nil
	}
	if len(w.urls) == 0 {
		return errors.Newf("at least one URL is required").
			Component("alert").
			Category(errors.CategoryConfiguration).
			Context("provider", w.name).
			Build()
	}
	for _, raw := range w.urls {
		u, err := url.Parse(raw)
		if err != nil {
			return errors.New(err).
				Component("alert").
				Category(errors.CategoryConfiguration).
				Context("provider", w.name).
				Build()
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Newf("unsupported webhook scheme %q", u.Scheme).
				Component("alert").
				Category(errors.CategoryConfiguration).
				Context("provider", w.name).
				Build()
		}
	}
	return nil
}

// Send posts the payload to every endpoint; the first failure is returned.
// 5xx and transport errors are retryable, 4xx is permanent.
func (w *WebhookProvider) Send(ctx context.Context, n *Notification) error {
	payload := WebhookPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Priority:  string(n.Priority),
		Title:     n.Title,
		Message:   n.Message,
		OrderID:   n.OrderID,
		Timestamp: n.Timestamp.Format(time.RFC3339),
		Metadata:  n.Metadata,
	}
	body, err := json.Marshal(&payload)
	if err != nil {
		return &ProviderError{Err: err, Retryable: false}
	}

	for _, endpoint := range w.urls {
		if err := w.post(ctx, endpoint, body); err != nil {
			return err
		}
	}
	return nil
}

func (w *WebhookProvider) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Err: err, Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OrderSentry-Webhook/1.0")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return &ProviderError{Err: err, Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	reqErr := fmt.Errorf("webhook %s returned status %d: %s",
		endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	return &ProviderError{
		Err:       reqErr,
		Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}
