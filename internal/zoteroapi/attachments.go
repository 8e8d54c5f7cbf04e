package zoteroapi

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Zotero's attachment integrity contract is MD5, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// NormalizeFilename applies NFC Unicode normalization so that attachment
// object-store keys are stable regardless of the normalization form the
// Zotero API happened to send the filename in.
func NormalizeFilename(name string) string {
	return norm.NFC.String(name)
}

// AttachmentDownloadURL requests the signed, time-limited URL for an
// attachment's file content. The Zotero API returns this via a 302
// redirect that must be followed manually (the redirect target is not
// bearer-authenticated). A 404 means no file is attached; callers treat
// that as a non-fatal skip.
func (c *Client) AttachmentDownloadURL(ctx context.Context, lib LibraryRef, key string) (string, error) {
	req, err := c.newRequest(ctx, requestParams{method: http.MethodGet, path: lib.path("items/" + key + "/file")})
	if err != nil {
		return "", err
	}

	noRedirect := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   c.httpClient.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusFound, http.StatusMovedPermanently, http.StatusSeeOther:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", fmt.Errorf("zoteroapi: attachment redirect missing Location")
		}

		return loc, nil
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body), Sentinel: classifyStatus(resp.StatusCode)}
	}
}

// DownloadBlob fetches raw bytes from a pre-authenticated URL (no bearer
// token, no Zotero-API-Version header — the URL itself is the credential).
func (c *Client) DownloadBlob(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("zoteroapi: building download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body), Sentinel: classifyStatus(resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("zoteroapi: reading attachment body: %w", err)
	}

	return data, nil
}

// MD5Hex computes the lowercase hex MD5 digest of data, the content-integrity
// check run on every attachment round trip.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // see import comment
	return hex.EncodeToString(sum[:])
}

// uploadAuthRequest is the body of request_upload_auth.
type uploadAuthRequest struct {
	MD5      string `json:"md5"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	MTime    int64  `json:"mtime"`
}

type uploadAuthResponse struct {
	Exists bool              `json:"exists"`
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
	Key    string            `json:"uploadKey"`
	Prefix string            `json:"prefix"`
	Suffix string            `json:"suffix"`
}

// RequestUploadAuth asks the server whether the given content already
// exists, and if not, for the multipart-upload parameters to push it.
// ifUnmodVersion gates the request the same way item writes do.
func (c *Client) RequestUploadAuth(ctx context.Context, lib LibraryRef, itemKey string, size int64, md5sum, filename string, mtime int64, ifUnmodVersion int) (*UploadAuthorization, error) {
	body, err := json.Marshal(uploadAuthRequest{MD5: md5sum, Filename: filename, Filesize: size, MTime: mtime})
	if err != nil {
		return nil, fmt.Errorf("zoteroapi: encoding upload auth request: %w", err)
	}

	hdr := http.Header{
		headerIfUnmodSince: {strconv.Itoa(ifUnmodVersion)},
		"Content-Type":     {"application/x-www-form-urlencoded"},
	}

	resp, err := c.do(ctx, requestParams{
		method: http.MethodPost,
		path:   lib.path("items/" + itemKey + "/file"),
		body:   body,
		extra:  hdr,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return &UploadAuthorization{Exists: true}, nil
	}

	var auth uploadAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("zoteroapi: decoding upload authorization: %w", err)
	}

	return &UploadAuthorization{
		URL:       auth.URL,
		Params:    auth.Params,
		UploadKey: auth.Key,
		Prefix:    auth.Prefix,
		Suffix:    auth.Suffix,
	}, nil
}

// UploadBlob performs the multipart POST to auth.URL, placing the file part
// last as the Zotero storage backend requires.
func (c *Client) UploadBlob(ctx context.Context, auth *UploadAuthorization, data []byte) error {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	for k, v := range auth.Params {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("zoteroapi: writing upload field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile("file", "file")
	if err != nil {
		return fmt.Errorf("zoteroapi: creating upload file part: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("zoteroapi: writing upload body: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("zoteroapi: closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.URL, &buf)
	if err != nil {
		return fmt.Errorf("zoteroapi: building upload request: %w", err)
	}

	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return &APIError{StatusCode: resp.StatusCode, Body: string(body), Sentinel: classifyStatus(resp.StatusCode)}
	}

	return nil
}

// RegisterUpload atomically attaches the uploaded blob to the item version,
// completing the upload flow.
func (c *Client) RegisterUpload(ctx context.Context, lib LibraryRef, itemKey, uploadKey string, ifUnmodVersion int) (int, error) {
	body := []byte("upload=" + uploadKey)

	hdr := http.Header{
		headerIfUnmodSince: {strconv.Itoa(ifUnmodVersion)},
		"Content-Type":     {"application/x-www-form-urlencoded"},
	}

	resp, err := c.do(ctx, requestParams{
		method: http.MethodPost,
		path:   lib.path("items/" + itemKey + "/file"),
		body:   body,
		extra:  hdr,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return lastModifiedVersion(resp, ifUnmodVersion), nil
}
