package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one remote oracle call.
const DefaultTimeout = 10 * time.Second

// queryPath is the remote endpoint for compatibility lookups.
const queryPath = "/query/controller_compatibility"

type queryRequest struct {
	VehicleModel    string `json:"vehicle_model"`
	ControllerModel string `json:"controller_model"`
	ControllerBrand string `json:"controller_brand,omitempty"`
}

// HTTPClient is the networked oracle backend. Every transport failure —
// unreachable host, non-2xx status, malformed body, deadline — degrades to
// the fallback table rather than propagating, so a network outage shows up
// downstream as an Unknown verdict at worst.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	fallback *TableClient
	logger   *zap.Logger
}

// NewHTTPClient builds a networked backend rooted at baseURL. A nil fallback
// uses the built-in table; a nil logger disables logging.
func NewHTTPClient(baseURL string, timeout time.Duration, fallback *TableClient, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if fallback == nil {
		fallback = NewTableClient(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		fallback: fallback,
		logger:   logger.Named("oracle"),
	}
}

// Query posts the pair to the remote service and parses the verdict.
func (c *HTTPClient) Query(ctx context.Context, vehicleModel, controllerModel, controllerBrand string) (*Verdict, error) {
	v, err := c.remoteQuery(ctx, vehicleModel, controllerModel, controllerBrand)
	if err != nil {
		c.logger.Warn("remote oracle failed, falling back to lookup table",
			zap.String("vehicle_model", vehicleModel),
			zap.String("controller_model", controllerModel),
			zap.Error(err))
		return c.fallback.Query(ctx, vehicleModel, controllerModel, controllerBrand)
	}
	return v, nil
}

func (c *HTTPClient) remoteQuery(ctx context.Context, vehicleModel, controllerModel, controllerBrand string) (*Verdict, error) {
	body, err := json.Marshal(queryRequest{
		VehicleModel:    vehicleModel,
		ControllerModel: controllerModel,
		ControllerBrand: controllerBrand,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", queryPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &v, nil
}
