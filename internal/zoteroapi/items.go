package zoteroapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ItemsSince returns keys/versions of items modified since version v,
// restricted to trashed or non-trashed items.
func (c *Client) ItemsSince(ctx context.Context, lib LibraryRef, v int, trashed bool) (map[string]int, int, error) {
	params := map[string]string{"since": strconv.Itoa(v), "format": "versions"}
	if trashed {
		params["trashed"] = "1"
	} else {
		params["trashed"] = "0"
	}

	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: lib.path("items"), query: queryValues(params)})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var versions map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, 0, fmt.Errorf("zoteroapi: decoding item versions: %w", err)
	}

	return versions, lastModifiedVersion(resp, v), nil
}

// ItemsFetch fetches up to BatchLimit items by key.
func (c *Client) ItemsFetch(ctx context.Context, lib LibraryRef, keys []string) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	if len(keys) > BatchLimit {
		return nil, fmt.Errorf("zoteroapi: items fetch: %d keys exceeds batch limit %d", len(keys), BatchLimit)
	}

	q := queryValues(map[string]string{"itemKey": strings.Join(keys, ",")})

	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: lib.path("items"), query: q})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("zoteroapi: decoding items: %w", err)
	}

	return items, nil
}

// UpsertItem creates or updates an item under an optimistic-concurrency
// precondition, returning the new Last-Modified-Version. All flattened
// type-specific fields in data.ExtraFields are sent as-is.
func (c *Client) UpsertItem(ctx context.Context, lib LibraryRef, data ItemData, ifUnmodVersion int) (int, error) {
	method, path := http.MethodPost, lib.path("items")

	var body []byte

	var err error

	if data.Key != "" {
		method, path = http.MethodPut, lib.path("items/"+data.Key)

		body, err = json.Marshal(data)
	} else {
		body, err = json.Marshal([]ItemData{data})
	}

	if err != nil {
		return 0, fmt.Errorf("zoteroapi: encoding item: %w", err)
	}

	hdr := http.Header{headerIfUnmodSince: {strconv.Itoa(ifUnmodVersion)}}

	resp, err := c.do(ctx, requestParams{method: method, path: path, body: body, extra: hdr})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return lastModifiedVersion(resp, ifUnmodVersion), nil
}

// DeleteItem removes an item under a version precondition.
func (c *Client) DeleteItem(ctx context.Context, lib LibraryRef, key string, ifUnmodVersion int) (int, error) {
	hdr := http.Header{headerIfUnmodSince: {strconv.Itoa(ifUnmodVersion)}}

	resp, err := c.do(ctx, requestParams{
		method: http.MethodDelete,
		path:   lib.path("items/" + key),
		extra:  hdr,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return lastModifiedVersion(resp, ifUnmodVersion), nil
}
