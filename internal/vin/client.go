// Package vin предоставляет клиент внешнего VIN-декодера.
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

// Client инкапсулирует HTTP-взаимодействие с сервисом декодирования VIN.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент VIN-декодера по указанному адресу.
// Временные сбои декодера ретраятся на уровне HTTP-клиента.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

type decodeResponse struct {
	Results []decodeResult `json:"Results"`
}

type decodeResult struct {
	Make            string `json:"Make"`
	Model           string `json:"Model"`
	ModelYear       string `json:"ModelYear"`
	BodyClass       string `json:"BodyClass"`
	EngineCylinders string `json:"EngineCylinders"`
	FuelTypePrimary string `json:"FuelTypePrimary"`
	DriveType       string `json:"DriveType"`
	PlantCountry    string `json:"PlantCountry"`
}

// Decode запрашивает описательные характеристики автомобиля по VIN.
func (c *Client) Decode(ctx context.Context, vin string) (*model.VehicleSpecs, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("vin decoder not configured")
	}

	url := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", c.baseURL, vin)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Results) == 0 {
		return nil, fmt.Errorf("empty decoder response")
	}

	r := result.Results[0]
	return &model.VehicleSpecs{
		Make:         r.Make,
		Model:        r.Model,
		Year:         r.ModelYear,
		BodyClass:    r.BodyClass,
		EngineCyl:    r.EngineCylinders,
		FuelType:     r.FuelTypePrimary,
		DriveType:    r.DriveType,
		PlantCountry: r.PlantCountry,
	}, nil
}
