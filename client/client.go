// client/client.go
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	shared "graft/shared/types"
)

// Client fetches ref advertisements from peer repositories over HTTP. It
// implements the fetch transport consumed by the sync layer.
type Client struct {
	httpClient *http.Client
}

func New() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

type refsResponse struct {
	Branches map[string]string `json:"branches"`
	Head     string            `json:"head"`
}

// FetchRefs retrieves the branch tips advertised by the peer at baseURL.
func (c *Client) FetchRefs(ctx context.Context, baseURL string) (map[string]shared.CommitHash, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/refs", baseURL), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var parsed refsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	tips := make(map[string]shared.CommitHash, len(parsed.Branches))
	for branch, hexForm := range parsed.Branches {
		hash, err := shared.ParseCommitHash(hexForm)
		if err != nil {
			return nil, fmt.Errorf("remote advertised invalid tip for %q: %w", branch, err)
		}
		tips[branch] = hash
	}
	return tips, nil
}
