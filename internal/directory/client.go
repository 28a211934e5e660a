package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Account is the directory's view of an account: display data only, owned
// by the portal.
type Account struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Directory resolves account ids to display data.
type Directory interface {
	BulkAccounts(ctx context.Context, ids []int) ([]Account, error)
}

// Client talks to the portal's internal account endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a directory client.
func NewClient(baseURL, internalToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// BulkAccounts fetches multiple accounts in one call.
func (c *Client) BulkAccounts(ctx context.Context, ids []int) ([]Account, error) {
	if len(ids) == 0 {
		return []Account{}, nil
	}

	params := make([]string, 0, len(ids))
	for _, id := range ids {
		params = append(params, strconv.Itoa(id))
	}
	endpoint := fmt.Sprintf("%s/internal/accounts?ids=%s", c.baseURL, url.QueryEscape(strings.Join(params, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-Internal-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var body struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Accounts == nil {
		return nil, errors.New("directory response missing accounts")
	}
	return body.Accounts, nil
}
