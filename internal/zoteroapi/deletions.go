package zoteroapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// DeletionsSince returns entities deleted remotely since version v and the
// new LMV.
func (c *Client) DeletionsSince(ctx context.Context, lib LibraryRef, v int) (*Deletions, int, error) {
	q := queryValues(map[string]string{"since": strconv.Itoa(v)})

	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: lib.path("deleted"), query: q})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var d Deletions
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, 0, fmt.Errorf("zoteroapi: decoding deletions: %w", err)
	}

	return &d, lastModifiedVersion(resp, v), nil
}
