package zoteroapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// LibraryRef identifies the scope of a request.
type LibraryRef struct {
	ID   int64
	Kind LibraryKind
}

func (r LibraryRef) path(suffix string) string {
	return r.Kind.scopePath(r.ID) + "/" + strings.TrimLeft(suffix, "/")
}

// CollectionsSince returns the keys and versions of collections modified
// since version v, and the response's Last-Modified-Version.
func (c *Client) CollectionsSince(ctx context.Context, lib LibraryRef, v int) (map[string]int, int, error) {
	q := queryValues(map[string]string{"since": strconv.Itoa(v), "format": "versions"})

	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: lib.path("collections"), query: q})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var versions map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, 0, fmt.Errorf("zoteroapi: decoding collection versions: %w", err)
	}

	return versions, lastModifiedVersion(resp, v), nil
}

// CollectionsFetch fetches up to BatchLimit collections by key. Empty input
// returns an empty slice without making an HTTP call.
func (c *Client) CollectionsFetch(ctx context.Context, lib LibraryRef, keys []string) ([]Collection, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	if len(keys) > BatchLimit {
		return nil, fmt.Errorf("zoteroapi: collections fetch: %d keys exceeds batch limit %d", len(keys), BatchLimit)
	}

	q := queryValues(map[string]string{"collectionKey": strings.Join(keys, ",")})

	resp, err := c.do(ctx, requestParams{method: http.MethodGet, path: lib.path("collections"), query: q})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var collections []Collection
	if err := json.NewDecoder(resp.Body).Decode(&collections); err != nil {
		return nil, fmt.Errorf("zoteroapi: decoding collections: %w", err)
	}

	return collections, nil
}

// UpsertCollection creates (POST, key empty) or updates (PUT, key set) a
// collection under an optimistic-concurrency precondition, returning the
// new Last-Modified-Version.
func (c *Client) UpsertCollection(ctx context.Context, lib LibraryRef, data CollectionData, ifUnmodVersion int) (int, error) {
	body, err := json.Marshal([]CollectionData{data})
	if err != nil {
		return 0, fmt.Errorf("zoteroapi: encoding collection: %w", err)
	}

	method, path := http.MethodPost, lib.path("collections")
	if data.Key != "" {
		method, path = http.MethodPut, lib.path("collections/"+data.Key)
		body, err = json.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("zoteroapi: encoding collection: %w", err)
		}
	}

	hdr := http.Header{headerIfUnmodSince: {strconv.Itoa(ifUnmodVersion)}}

	resp, err := c.do(ctx, requestParams{method: method, path: path, body: bytes.TrimSpace(body), extra: hdr})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return lastModifiedVersion(resp, ifUnmodVersion), nil
}

// DeleteCollection removes a collection under a version precondition.
func (c *Client) DeleteCollection(ctx context.Context, lib LibraryRef, key string, ifUnmodVersion int) (int, error) {
	hdr := http.Header{headerIfUnmodSince: {strconv.Itoa(ifUnmodVersion)}}

	resp, err := c.do(ctx, requestParams{
		method: http.MethodDelete,
		path:   lib.path("collections/" + key),
		extra:  hdr,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return lastModifiedVersion(resp, ifUnmodVersion), nil
}
