package gcs

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/api/googleapi"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func staticToken() *cachedToken {
	return &cachedToken{fetch: func(context.Context) (string, time.Time, error) {
		return "token", time.Now().Add(time.Hour), nil
	}}
}

func newTestClient(rt roundTripFunc) *Client {
	return &Client{
		bucket:     "rx-bucket",
		prefix:     "prescriptions",
		apiBase:    defaultAPIBase,
		publicBase: defaultAPIBase,
		tokens:     staticToken(),
		httpClient: &http.Client{Transport: rt},
	}
}

func TestUploadObjectSuccess(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 64*1024)
	var gotBody []byte
	client := newTestClient(func(req *http.Request) *http.Response {
		if req.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", req.Method)
		}
		if req.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("unexpected auth %s", req.Header.Get("Authorization"))
		}
		if req.URL.Query().Get("uploadType") != "media" {
			t.Errorf("expected media upload, got %s", req.URL.RawQuery)
		}
		if req.Header.Get("Content-Type") != "image/png" {
			t.Errorf("unexpected content type %s", req.Header.Get("Content-Type"))
		}
		gotBody, _ = io.ReadAll(req.Body)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"name":"prescriptions/u1/scan one.png"}`)),
			Header:     http.Header{},
		}
	})

	var mu sync.Mutex
	var reports []int64
	url, err := client.UploadObject(context.Background(), client.ObjectName("u1", "scan one.png"), "image/png", bytes.NewReader(payload), int64(len(payload)), func(sent, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if total != int64(len(payload)) {
			t.Errorf("unexpected total %d", total)
		}
		reports = append(reports, sent)
	})
	if err != nil {
		t.Fatalf("UploadObject: %v", err)
	}
	if len(gotBody) != len(payload) {
		t.Fatalf("expected %d bytes uploaded, got %d", len(payload), len(gotBody))
	}
	if url != "https://storage.googleapis.com/rx-bucket/prescriptions/u1/scan%20one.png" {
		t.Fatalf("unexpected url %q", url)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 || reports[len(reports)-1] != int64(len(payload)) {
		t.Fatalf("expected final progress report at full size, got %v", reports)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Fatalf("progress went backwards: %v", reports)
		}
	}
}

func TestUploadObjectFailureStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(func(req *http.Request) *http.Response {
		_, _ = io.Copy(io.Discard, req.Body)
		return &http.Response{
			StatusCode: http.StatusForbidden,
			Status:     "403 Forbidden",
			Body:       io.NopCloser(strings.NewReader("denied")),
			Header:     http.Header{},
		}
	})

	_, err := client.UploadObject(context.Background(), "prescriptions/u1/a.pdf", "application/pdf", strings.NewReader("pdf"), 3, nil)
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected forbidden error with body, got %v", err)
	}
}

func TestUploadObjectDecodesAPIError(t *testing.T) {
	t.Parallel()

	client := newTestClient(func(req *http.Request) *http.Response {
		_, _ = io.Copy(io.Discard, req.Body)
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Status:     "429 Too Many Requests",
			Body:       io.NopCloser(strings.NewReader(`{"error":{"code":429,"message":"rate limit exceeded"}}`)),
			Header:     http.Header{},
		}
	})

	_, err := client.UploadObject(context.Background(), "prescriptions/u1/a.png", "image/png", strings.NewReader("png"), 3, nil)
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected googleapi error, got %v", err)
	}
	if apiErr.Code != http.StatusTooManyRequests || apiErr.Message != "rate limit exceeded" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestUploadObjectRequiresName(t *testing.T) {
	client := newTestClient(nil)
	if _, err := client.UploadObject(context.Background(), "", "image/png", strings.NewReader(""), 0, nil); err == nil {
		t.Fatal("expected missing object name to fail")
	}
}

func TestObjectName(t *testing.T) {
	client := &Client{prefix: "prescriptions"}
	if got := client.ObjectName("/u1/", "123_scan.pdf"); got != "prescriptions/u1/123_scan.pdf" {
		t.Fatalf("unexpected object name %q", got)
	}
	if got := (&Client{}).ObjectName("a", "", "b"); got != "a/b" {
		t.Fatalf("unexpected object name without prefix %q", got)
	}
}

func TestPingUsesBucketListing(t *testing.T) {
	client := newTestClient(func(req *http.Request) *http.Response {
		if !strings.Contains(req.URL.Path, "/storage/v1/b/rx-bucket/o") {
			t.Errorf("unexpected ping path %s", req.URL.Path)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}")), Header: http.Header{}}
	})
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestTokenSourceCaches(t *testing.T) {
	calls := 0
	ts := &cachedToken{fetch: func(context.Context) (string, time.Time, error) {
		calls++
		return "t", time.Now().Add(time.Hour), nil
	}}
	for i := 0; i < 3; i++ {
		if _, err := ts.Token(context.Background()); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	calls := 0
	ts := &cachedToken{fetch: func(context.Context) (string, time.Time, error) {
		calls++
		return "t", time.Now().Add(30 * time.Second), nil
	}}
	for i := 0; i < 2; i++ {
		if _, err := ts.Token(context.Background()); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected refetch for short-lived token, got %d fetches", calls)
	}
}

func TestSignedAssertionVerifiesWithPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signed, err := signedAssertion("svc@example.iam.gserviceaccount.com", tokenEndpoint, key, time.Now())
	if err != nil {
		t.Fatalf("signedAssertion: %v", err)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithAudience(tokenEndpoint))
	if err != nil || !parsed.Valid {
		t.Fatalf("assertion did not verify: %v", err)
	}
	if claims["iss"] != "svc@example.iam.gserviceaccount.com" || claims["scope"] != storageScope {
		t.Fatalf("unexpected claims %v", claims)
	}
}

func TestServiceAccountCredentialsExchangeAssertion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	raw, _ := json.Marshal(map[string]string{
		"client_email": "svc@example.iam.gserviceaccount.com",
		"private_key":  keyPEM,
		"token_uri":    "https://oauth.test/token",
	})

	httpClient := &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
		if err := req.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if req.PostForm.Get("grant_type") != jwtBearerGrant {
			t.Errorf("unexpected grant %q", req.PostForm.Get("grant_type"))
		}
		_, err := jwt.Parse(req.PostForm.Get("assertion"), func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithAudience("https://oauth.test/token"))
		if err != nil {
			t.Errorf("assertion rejected: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"access_token":"sa-token","expires_in":3600}`)),
			Header:     http.Header{},
		}
	})}

	tokens, err := serviceAccountCredentials(httpClient, string(raw))
	if err != nil {
		t.Fatalf("serviceAccountCredentials: %v", err)
	}
	got, err := tokens.Token(context.Background())
	if err != nil || got != "sa-token" {
		t.Fatalf("unexpected token %q: %v", got, err)
	}

	if _, err := serviceAccountCredentials(httpClient, `{"client_email":"a","private_key":"not pem"}`); err == nil {
		t.Fatal("expected malformed key to fail")
	}
}
