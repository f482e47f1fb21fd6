package httpcounter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
	"boostpanel/contexts/fulfillment/order-service/ports"
)

const defaultTimeout = 10 * time.Second

// Client reads the public view counter of a target link through the counter
// API. A target that answers but exposes no counter yet reads as zero; a
// target the API cannot resolve maps to ErrTargetUnreachable.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

type counterResponse struct {
	Count int64 `json:"count"`
}

func (c *Client) GetPublicCounter(ctx context.Context, link string) (int64, error) {
	endpoint := c.BaseURL + "/counter?url=" + url.QueryEscape(link)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	response, err := client.Do(request)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domainerrors.ErrTargetUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone {
		return 0, fmt.Errorf("%w: counter returned status %d", domainerrors.ErrTargetUnreachable, response.StatusCode)
	}
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("counter returned status %d", response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return 0, err
	}
	var decoded counterResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, fmt.Errorf("decode counter response: %w", err)
	}
	if decoded.Count < 0 {
		return 0, nil
	}
	return decoded.Count, nil
}

var _ ports.CounterSource = (*Client)(nil)
