package httpbroker

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

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"
	"boostpanel/contexts/fulfillment/traffic-service/ports"
)

const defaultTimeout = 10 * time.Second

// Client talks to the external traffic broker's JSON API. All calls carry
// the API key as a query parameter, matching the broker's auth scheme.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

type offerPayload struct {
	OfferID   string `json:"offer_id"`
	Name      string `json:"name"`
	TargetURL string `json:"url"`
}

type campaignOfferPayload struct {
	CampaignID string `json:"camp_id"`
	OfferID    string `json:"offer_id"`
}

type statsResponse struct {
	OfferID     string           `json:"offer_id"`
	Clicks      int64            `json:"clicks"`
	Conversions int64            `json:"leads"`
	Campaigns   map[string]int64 `json:"campaigns"`
}

func (c *Client) CreateOrUpdateOffer(ctx context.Context, offerID string, name string, targetURL string) error {
	return c.post(ctx, "/offers", offerPayload{OfferID: offerID, Name: name, TargetURL: targetURL})
}

func (c *Client) AddOfferToCampaign(ctx context.Context, campaignID string, offerID string) error {
	return c.post(ctx, "/campaigns/offers", campaignOfferPayload{CampaignID: campaignID, OfferID: offerID})
}

func (c *Client) RemoveOfferFromCampaign(ctx context.Context, campaignID string, offerID string) error {
	return c.delete(ctx, fmt.Sprintf("/campaigns/%s/offers/%s", url.PathEscape(campaignID), url.PathEscape(offerID)))
}

func (c *Client) GetOfferStats(ctx context.Context, offerID string) (entities.OfferStats, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/offers/%s/stats", url.PathEscape(offerID)), nil)
	if err != nil {
		return entities.OfferStats{}, fmt.Errorf("%w: %v", domainerrors.ErrBrokerUnavailable, err)
	}
	if status == http.StatusNotFound {
		return entities.OfferStats{}, domainerrors.ErrOfferNotFound
	}
	if status != http.StatusOK {
		return entities.OfferStats{}, fmt.Errorf("%w: stats returned status %d", domainerrors.ErrBrokerUnavailable, status)
	}

	var decoded statsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return entities.OfferStats{}, fmt.Errorf("decode broker stats: %w", err)
	}
	return entities.OfferStats{
		OfferID:     offerID,
		Clicks:      decoded.Clicks,
		Conversions: decoded.Conversions,
		PerEndpoint: decoded.Campaigns,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, status, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrBrokerUnavailable, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: %s returned status %d", domainerrors.ErrBrokerUnavailable, path, status)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	_, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrBrokerUnavailable, err)
	}
	if status == http.StatusNotFound {
		return domainerrors.ErrOfferNotFound
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: %s returned status %d", domainerrors.ErrBrokerUnavailable, path, status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, path string, body io.Reader) ([]byte, int, error) {
	endpoint := c.BaseURL + path
	if c.APIKey != "" {
		separator := "?"
		if strings.Contains(endpoint, "?") {
			separator = "&"
		}
		endpoint += separator + "api_key=" + url.QueryEscape(c.APIKey)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, 0, err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return payload, response.StatusCode, nil
}

var _ ports.Broker = (*Client)(nil)
