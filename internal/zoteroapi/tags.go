package zoteroapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// TagsSince returns all tags modified since version v and the new LMV.
func (c *Client) TagsSince(ctx context.Context, lib LibraryRef, v int) ([]TagData, int, error) {
	q := queryValues(map[string]string{"since": strconv.Itoa(v)})

	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: lib.path("tags"), query: q})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var tags []TagData
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, 0, fmt.Errorf("zoteroapi: decoding tags: %w", err)
	}

	return tags, lastModifiedVersion(resp, v), nil
}
