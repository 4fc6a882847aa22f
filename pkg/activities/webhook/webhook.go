// Package webhook provides an activity that POSTs workflow context to an
// external HTTP endpoint on state entry or exit.
package webhook

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

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/protocol"
)

const defaultTimeoutSeconds = 30

var (
	ErrWebhookURLInvalid = errors.New("webhook url is invalid")
	ErrWebhookFailed     = errors.New("webhook request failed")
)

func NewWebhookActivityFactory() *WebhookActivityFactory {
	return &WebhookActivityFactory{}
}

type WebhookActivityFactory struct {
}

func (*WebhookActivityFactory) ID() string {
	return "webhook"
}

func (f *WebhookActivityFactory) Create(config map[string]any) (protocol.Activity, error) {
	return NewWebhookActivity(config)
}

// WebhookActivity performs an HTTP POST carrying the instance snapshot.
// The optional "compensation_url" receives a second POST when a later
// activity in the same transition fails.
type WebhookActivity struct {
	url             string
	compensationURL string
	headers         map[string]string
	timeout         time.Duration
	client          *http.Client
}

func NewWebhookActivity(config map[string]any) (*WebhookActivity, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrWebhookURLInvalid)
	}

	compensationURL, _ := config["compensation_url"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &WebhookActivity{
		url:             url,
		compensationURL: compensationURL,
		headers:         headers,
		timeout:         timeout,
		client:          &http.Client{Timeout: timeout},
	}, nil
}

func (a *WebhookActivity) Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("activity", "webhook", "url", a.url, "workflow_id", instance.ID)

	status, body, err := a.post(ctx, a.url, instance)
	if err != nil {
		return nil, err
	}

	if status >= http.StatusBadRequest {
		logger.ErrorContext(ctx, "webhook returned error status", "status", status)

		return nil, fmt.Errorf("webhook returned status %d: %w", status, ErrWebhookFailed)
	}

	logger.InfoContext(ctx, "webhook delivered", "status", status)

	return map[string]any{"status": status, "body": body}, nil
}

func (a *WebhookActivity) Compensate(ctx context.Context, instance *models.WorkflowInstance, _ map[string]any, logger *slog.Logger) error {
	if a.compensationURL == "" {
		return nil
	}

	logger = logger.With("activity", "webhook", "url", a.compensationURL, "workflow_id", instance.ID)

	status, _, err := a.post(ctx, a.compensationURL, instance)
	if err != nil {
		return err
	}

	if status >= http.StatusBadRequest {
		return fmt.Errorf("compensation webhook returned status %d: %w", status, ErrWebhookFailed)
	}

	logger.InfoContext(ctx, "compensation webhook delivered", "status", status)

	return nil
}

func (a *WebhookActivity) post(ctx context.Context, url string, instance *models.WorkflowInstance) (int, string, error) {
	payload, err := json.Marshal(map[string]any{
		"workflow_id":   instance.ID,
		"current_state": instance.CurrentState,
		"subject_type":  instance.SubjectType,
		"subject_id":    instance.SubjectID,
		"data":          instance.Data,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read webhook response: %w", err)
	}

	return resp.StatusCode, string(body), nil
}
