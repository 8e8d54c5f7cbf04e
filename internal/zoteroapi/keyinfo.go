package zoteroapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// KeyInfo resolves the configured API key's identity and access grants.
func (c *Client) KeyInfo(ctx context.Context) (*APIKeyInfo, error) {
	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: "/keys/" + c.apiKey})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info APIKeyInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("zoteroapi: decoding key info: %w", err)
	}

	return &info, nil
}

// ListGroupVersions returns the group libraries visible to userID mapped to
// their current library version, used by the registry to detect new groups
// and version drift without fetching full metadata.
func (c *Client) ListGroupVersions(ctx context.Context, userID int64) (map[string]int, error) {
	q := queryValues(map[string]string{"format": "versions"})

	resp, err := c.do(ctx, requestParams{
		method: http.MethodGet,
		path:   fmt.Sprintf("/users/%d/groups", userID),
		query:  q,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var versions map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, fmt.Errorf("zoteroapi: decoding group versions: %w", err)
	}

	return versions, nil
}

// GetGroup fetches a single group's metadata.
func (c *Client) GetGroup(ctx context.Context, groupID int64) (*GroupData, error) {
	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: fmt.Sprintf("/groups/%d", groupID)})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wrapper struct {
		Data GroupData `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("zoteroapi: decoding group: %w", err)
	}

	return &wrapper.Data, nil
}

func queryValues(kv map[string]string) url.Values {
	q := make(url.Values, len(kv))
	for k, v := range kv {
		q.Set(k, v)
	}

	return q
}
