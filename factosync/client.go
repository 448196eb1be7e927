package factosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// factoClient talks to the Facto billing platform with one cabinet's
// credential. The limiter channel paces requests to stay under the
// platform's rate limit; runs are sequential so a simple tick suffices.
type factoClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newFactoClient(apiKey string) (*factoClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("FACTO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.facto.fr"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("FACTO_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("facto api key is empty")
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("FACTO_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &factoClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type factoListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *factoClient) getList(ctx context.Context, path string, params url.Values) (factoListResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return factoListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return factoListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return factoListResponse{}, fmt.Errorf("facto api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed factoListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return factoListResponse{}, err
	}
	return parsed, nil
}

func (c *factoClient) records(resp factoListResponse) []json.RawMessage {
	if len(resp.Data) > 0 {
		return resp.Data
	}
	return resp.Items
}

// fetchCustomers pages through every customer visible to the credential,
// each paired with its subscriptions. Record order follows the platform's
// pagination order; it is never re-sorted.
func (c *factoClient) fetchCustomers(ctx context.Context) ([]CustomerRecord, error) {
	var records []CustomerRecord
	cursor := ""

	for {
		params := url.Values{}
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := c.getList(ctx, "/v1/customers", params)
		if err != nil {
			return nil, err
		}

		for _, raw := range c.records(resp) {
			customer, err := decodeCustomer(raw)
			if err != nil {
				return nil, err
			}
			subs, err := c.fetchSubscriptions(ctx, customer.ID)
			if err != nil {
				return nil, err
			}
			records = append(records, CustomerRecord{Customer: customer, Subscriptions: subs})
		}

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return records, nil
		}
		cursor = resp.NextCursor
	}
}

func (c *factoClient) fetchSubscriptions(ctx context.Context, customerId string) ([]Subscription, error) {
	var subs []Subscription
	cursor := ""
	path := fmt.Sprintf("/v1/customers/%s/subscriptions", url.PathEscape(customerId))

	for {
		params := url.Values{}
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := c.getList(ctx, path, params)
		if err != nil {
			return nil, err
		}

		for _, raw := range c.records(resp) {
			sub, err := decodeSubscription(customerId, raw)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return subs, nil
		}
		cursor = resp.NextCursor
	}
}
