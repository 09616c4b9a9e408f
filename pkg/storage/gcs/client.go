package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/medcart/pkg/config"
	"github.com/angelmondragon/medcart/pkg/logger"
)

const (
	defaultAPIBase       = "https://storage.googleapis.com"
	defaultUploadTimeout = 10 * time.Minute
	pingTimeout          = 5 * time.Second
)

// Client talks to the Cloud Storage JSON API for a single bucket.
type Client struct {
	httpClient *http.Client
	tokens     *cachedToken
	bucket     string
	prefix     string
	apiBase    string
	publicBase string
	logg       *logger.Logger
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	tokens, err := credentialsFor(httpClient, gcp)
	if err != nil {
		return nil, err
	}

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = defaultAPIBase
	}
	c := &Client{
		httpClient: httpClient,
		tokens:     tokens,
		bucket:     cfg.BucketName,
		prefix:     strings.Trim(cfg.ObjectPrefix, "/"),
		apiBase:    defaultAPIBase,
		publicBase: publicBase,
		logg:       logg,
	}
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", c.bucket), "gcs.ready")
	}
	return c, nil
}

// credentialsFor prefers inline JSON, then a key file, then the metadata server.
func credentialsFor(httpClient *http.Client, gcp config.GCPConfig) (*cachedToken, error) {
	raw := gcp.CredentialsJSON
	if raw == "" && gcp.ApplicationCredentials != "" {
		data, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return metadataCredentials(httpClient), nil
	}
	return serviceAccountCredentials(httpClient, raw)
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ping lists at most one object to prove the credentials can see the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.tokens == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/storage/v1/b/%s/o?maxResults=1", c.apiBase, url.PathEscape(c.bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("gcs bucket check: %w", err)
	}
	c.drain(ctx, resp.Body)
	return nil
}

// do authorizes req and converts non-2xx answers into *googleapi.Error.
// The caller owns the body on success.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if err := googleapi.CheckResponse(resp); err != nil {
		c.drain(ctx, resp.Body)
		return nil, err
	}
	return resp, nil
}

func (c *Client) drain(ctx context.Context, body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	if err := body.Close(); err != nil && c.logg != nil {
		c.logg.WarnErr(ctx, "gcs.close_body", err)
	}
}
