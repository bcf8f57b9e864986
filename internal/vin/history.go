package vin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/vinreport-system/internal/model"
)

// HistoryClient инкапсулирует HTTP-взаимодействие с реестром истории эксплуатации.
type HistoryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHistoryClient создаёт клиент реестра истории по указанному адресу.
func NewHistoryClient(baseURL string) *HistoryClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 8 * time.Second
	rc.Logger = nil

	return &HistoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// Fetch запрашивает историю эксплуатации автомобиля по VIN.
func (c *HistoryClient) Fetch(ctx context.Context, vin string) (*model.History, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("history registry not configured")
	}

	url := fmt.Sprintf("%s/vehicles/%s/history", c.baseURL, vin)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		// Реестр не знает этот VIN: отчёт строится без истории.
		return &model.History{}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var history model.History
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &history, nil
}
