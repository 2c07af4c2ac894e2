package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"smartdelay/internal/types"
)

// expoAPIBase is the Expo push service.
const expoAPIBase = "https://exp.host"

// ExpoConfig holds the configuration for creating an ExpoClient.
type ExpoConfig struct {
	BaseURL     string // Override for testing; defaults to expoAPIBase
	AccessToken types.SecretString
	Logger      *slog.Logger
}

type expoMessage struct {
	To       string            `json:"to"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

type expoResponse struct {
	Data   expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// ExpoClient sends single push messages through the Expo push API.
type ExpoClient struct {
	base        *BaseClient
	baseURL     string
	accessToken types.SecretString
	logger      *slog.Logger
}

// NewExpoClient creates a client that makes exactly one attempt per send.
func NewExpoClient(httpClient *http.Client, cfg ExpoConfig) *ExpoClient {
	base := NewBaseClient(httpClient, "expo-push", NoRetryPolicy(), "SmartDelay/1.0")
	return NewExpoClientWithBase(base, cfg)
}

// NewExpoClientWithBase creates a client around a pre-configured BaseClient.
func NewExpoClientWithBase(base *BaseClient, cfg ExpoConfig) *ExpoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = expoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpoClient{
		base:        base,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: cfg.AccessToken,
		logger:      logger,
	}
}

// Send delivers one message to one device token. A non-2xx response or a
// ticket with status "error" is a failure carrying ErrCodeUpstreamDeliveryFailed;
// the Expo error name (e.g. DeviceNotRegistered) is kept in Details["expo_error"].
func (c *ExpoClient) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	payload, err := json.Marshal(expoMessage{
		To:       token,
		Title:    title,
		Body:     body,
		Data:     data,
		Sound:    "default",
		Priority: "high",
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode push message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/--/api/v2/push/send", bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.accessToken.Unmask())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("expo Send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamDeliveryFailed, "failed to read push response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamDeliveryFailed,
			fmt.Sprintf("expo returned %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	var out expoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamDeliveryFailed, "failed to decode push response", err)
	}
	if len(out.Errors) > 0 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamDeliveryFailed,
			"expo rejected request: "+out.Errors[0].Message,
			nil,
			map[string]any{"expo_error": out.Errors[0].Code},
		)
	}
	if out.Data.Status != "ok" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamDeliveryFailed,
			"expo ticket error: "+out.Data.Message,
			nil,
			map[string]any{"expo_error": out.Data.Details.Error},
		)
	}

	c.logger.DebugContext(ctx, "push ticket accepted", "ticket_id", out.Data.ID)
	return nil
}
