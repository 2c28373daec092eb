package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mhoffm/lobbysync/internal/lobby"
)

const defaultHTTPTimeout = 10 * time.Second

// APIClient fetches full lobby state over HTTP. It backs the fallback
// refresh path; deltas normally arrive over the socket.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &APIClient{baseURL: baseURL, http: httpClient}
}

type lobbyResponse struct {
	Tables []lobby.Table `json:"tables"`
	Stats  lobby.Stats   `json:"stats"`
}

// FetchLobby retrieves the complete table list and aggregate stats.
func (c *APIClient) FetchLobby(ctx context.Context) ([]lobby.Table, lobby.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/lobby/tables", nil)
	if err != nil {
		return nil, lobby.Stats{}, fmt.Errorf("building lobby request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, lobby.Stats{}, fmt.Errorf("fetching lobby state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, lobby.Stats{}, fmt.Errorf("lobby fetch returned status %d", resp.StatusCode)
	}

	var body lobbyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, lobby.Stats{}, fmt.Errorf("decoding lobby response: %w", err)
	}
	return body.Tables, body.Stats, nil
}
