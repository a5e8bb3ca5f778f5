package workitems

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"retro-api/domain"
)

const apiVersion = "7.0"

// Client reads work items from an Azure DevOps style work tracking service
// over its REST API, authenticating with a personal access token.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient creates a Client for the tracker at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type workItemWire struct {
	ID     int            `json:"id"`
	Fields map[string]any `json:"fields"`
	URL    string         `json:"url"`
}

type workItemListWire struct {
	Count int            `json:"count"`
	Value []workItemWire `json:"value"`
}

// GetByIDs fetches the work items with the given ids. Ids without a work
// item are omitted from the result rather than failing the batch.
func (c *Client) GetByIDs(ctx context.Context, ids []int) ([]domain.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idParams := make([]string, len(ids))
	for i, id := range ids {
		idParams[i] = strconv.Itoa(id)
	}
	query := url.Values{}
	query.Set("ids", strings.Join(idParams, ","))
	query.Set("errorPolicy", "omit")
	query.Set("api-version", apiVersion)

	endpoint := c.baseURL + "/_apis/wit/workitems?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.token)))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("work item lookup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list workItemListWire
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode work item response: %w", err)
	}

	items := make([]domain.WorkItem, 0, len(list.Value))
	for _, wire := range list.Value {
		items = append(items, domain.WorkItem{ID: wire.ID, Fields: wire.Fields, URL: wire.URL})
	}
	return items, nil
}
