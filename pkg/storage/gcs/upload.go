package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
)

// ProgressFunc receives the number of bytes sent so far and the total size.
type ProgressFunc func(sent, total int64)

// ObjectName prefixes the object path with the configured object prefix.
func (c *Client) ObjectName(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	if c != nil && c.prefix != "" {
		clean = append(clean, c.prefix)
	}
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part != "" {
			clean = append(clean, part)
		}
	}
	return path.Join(clean...)
}

// ObjectURL returns the durable retrieval URL for an object in the default bucket.
func (c *Client) ObjectURL(object string) string {
	return fmt.Sprintf("%s/%s/%s", c.publicBase, c.bucket, escapeObjectPath(object))
}

// UploadObject streams body into the default bucket with a single media
// upload and returns the durable URL. onProgress may be nil.
func (c *Client) UploadObject(ctx context.Context, object, contentType string, body io.Reader, size int64, onProgress ProgressFunc) (string, error) {
	if c == nil || c.tokens == nil {
		return "", errors.New("gcs client not initialized")
	}
	if object == "" {
		return "", errors.New("object name is required")
	}

	q := url.Values{"uploadType": {"media"}, "name": {object}}
	u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?%s", c.apiBase, url.PathEscape(c.bucket), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &progressReader{r: body, total: size, report: onProgress})
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("gcs upload %s: %w", object, err)
	}
	defer c.drain(ctx, resp.Body)

	var meta struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if meta.Name == "" {
		meta.Name = object
	}

	return c.ObjectURL(meta.Name), nil
}

func escapeObjectPath(object string) string {
	segments := strings.Split(object, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

type progressReader struct {
	r      io.Reader
	total  int64
	report ProgressFunc

	mu   sync.Mutex
	sent int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.sent += int64(n)
		sent := p.sent
		p.mu.Unlock()
		if p.report != nil {
			p.report(sent, p.total)
		}
	}
	return n, err
}
