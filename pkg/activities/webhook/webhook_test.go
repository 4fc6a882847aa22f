package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowstate/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInstance() *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:           models.NewID(),
		CurrentState: "submitted",
		SubjectType:  "purchase_order",
		SubjectID:    "po-42",
		Data:         map[string]any{"amount": 150.0},
	}
}

func TestNewWebhookActivity_RequiresURL(t *testing.T) {
	_, err := NewWebhookActivity(map[string]any{})
	assert.ErrorIs(t, err, ErrWebhookURLInvalid)

	_, err = NewWebhookActivity(map[string]any{"url": ""})
	assert.ErrorIs(t, err, ErrWebhookURLInvalid)
}

func TestExecute_PostsInstanceSnapshot(t *testing.T) {
	var received map[string]any

	var gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer server.Close()

	activity, err := NewWebhookActivity(map[string]any{
		"url": server.URL,
		"headers": map[string]any{
			"X-Api-Key": "secret",
		},
	})
	require.NoError(t, err)

	instance := testInstance()

	result, err := activity.Execute(context.Background(), instance, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, result["status"])
	assert.Equal(t, "queued", result["body"])

	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, instance.ID, received["workflow_id"])
	assert.Equal(t, "submitted", received["current_state"])
	assert.Equal(t, 150.0, received["data"].(map[string]any)["amount"])
}

func TestExecute_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	activity, err := NewWebhookActivity(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = activity.Execute(context.Background(), testInstance(), discardLogger())
	assert.ErrorIs(t, err, ErrWebhookFailed)
}

func TestCompensate(t *testing.T) {
	compensated := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/undo" {
			compensated++
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	activity, err := NewWebhookActivity(map[string]any{
		"url":              server.URL,
		"compensation_url": server.URL + "/undo",
	})
	require.NoError(t, err)

	require.NoError(t, activity.Compensate(context.Background(), testInstance(), nil, discardLogger()))
	assert.Equal(t, 1, compensated)
}

func TestCompensate_NoURLIsNoop(t *testing.T) {
	activity, err := NewWebhookActivity(map[string]any{"url": "http://localhost:1"})
	require.NoError(t, err)

	assert.NoError(t, activity.Compensate(context.Background(), testInstance(), nil, discardLogger()))
}
