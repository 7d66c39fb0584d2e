package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPSearcher calls the discovery collaborator's search endpoint.
type HTTPSearcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSearcher(baseURL string) *HTTPSearcher {
	return &HTTPSearcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) ([]ExternalDoctor, error) {
	u := fmt.Sprintf("%s/search?q=%s&limit=%s", s.baseURL, url.QueryEscape(query), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}

	var out struct {
		Results []ExternalDoctor `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode discovery response: %w", err)
	}
	return out.Results, nil
}

// BillingClient fetches billing-page text for a doctor from the billing
// collaborator. Nothing it returns ever flows back into scheduling state.
type BillingClient struct {
	baseURL string
	client  *http.Client
}

func NewBillingClient(baseURL string) *BillingClient {
	return &BillingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *BillingClient) BillingPage(ctx context.Context, doctorID string) (string, error) {
	u := fmt.Sprintf("%s/billing/%s", c.baseURL, url.PathEscape(doctorID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build billing request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("billing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("no billing page for doctor %s", doctorID)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("billing returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read billing page: %w", err)
	}
	return string(body), nil
}
