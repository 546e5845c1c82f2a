package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fentz26/guardian/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Guardian API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListThreats fetches threats, optionally filtered by status.
func (c *Client) ListThreats(status string) ([]models.Threat, error) {
	path := "/threats"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var threats []models.Threat
	return threats, c.do(http.MethodGet, path, nil, &threats)
}

// ListProposals fetches proposals, optionally filtered by status.
func (c *Client) ListProposals(status string) ([]models.Proposal, error) {
	path := "/proposals"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var proposals []models.Proposal
	return proposals, c.do(http.MethodGet, path, nil, &proposals)
}

// ResolveThreat marks a threat handled.
func (c *Client) ResolveThreat(id, resolution string) (*models.Threat, error) {
	var t models.Threat
	body := map[string]string{"resolution": resolution}
	if err := c.do(http.MethodPost, "/threats/"+url.PathEscape(id)+"/resolve", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CheckHealth reports whether the daemon answers and its database is up.
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.OK, nil
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &failure) == nil && failure.Error != "" {
			if failure.Message != "" {
				return fmt.Errorf("%s: %s", failure.Error, failure.Message)
			}
			return fmt.Errorf("%s", failure.Error)
		}
		return fmt.Errorf("API error: %s", string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
