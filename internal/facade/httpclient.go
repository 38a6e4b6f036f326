package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/secretstore"
)

const (
	httpCallTimeout  = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// HTTPClient is the facade realization that talks to a running daemon over
// the HTTP surface using a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient targets baseURL (e.g. "http://127.0.0.1:2274") with the
// given bearer token. A missing token is a construction-time error: the
// client realization is only selected when a token is required.
func NewHTTPClient(baseURL, token string) (*HTTPClient, error) {
	if token == "" {
		return nil, brokererr.New(brokererr.AuthFailure, "client mode requires a bearer token")
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{},
	}, nil
}

type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

func (c *HTTPClient) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/health", &h)
	return h, err
}

func (c *HTTPClient) ListSecrets(ctx context.Context) ([]secretstore.Listing, error) {
	var out []secretstore.Listing
	err := c.get(ctx, "/api/secrets", &out)
	return out, err
}

func (c *HTTPClient) AddSecret(ctx context.Context, ref, value string, tags []string) (string, error) {
	body := map[string]any{"ref": ref, "value": value, "tags": tags}
	var out struct {
		UUID string `json:"uuid"`
	}
	if err := c.post(ctx, "/api/secrets", body, &out); err != nil {
		return "", err
	}
	return out.UUID, nil
}

func (c *HTTPClient) RemoveSecret(ctx context.Context, uuid string) error {
	return c.delete(ctx, "/api/secrets/"+url.PathEscape(uuid))
}

func (c *HTTPClient) GetSecretMetadata(ctx context.Context, uuid string) (secretstore.Listing, error) {
	var out secretstore.Listing
	err := c.get(ctx, "/api/secrets/"+url.PathEscape(uuid), &out)
	return out, err
}

func (c *HTTPClient) ResolveSecret(ctx context.Context, refOrUUID string) (secretstore.Listing, error) {
	var out secretstore.Listing
	err := c.get(ctx, "/api/secrets/resolve/"+url.PathEscape(refOrUUID), &out)
	return out, err
}

func (c *HTTPClient) CreateRequest(ctx context.Context, secretUUIDs []string, reason, taskRef string, durationSeconds int) (*accessrequest.Request, error) {
	body := map[string]any{
		"secretUuids": secretUUIDs,
		"reason":      reason,
		"taskRef":     taskRef,
	}
	if durationSeconds > 0 {
		body["duration"] = durationSeconds
	}
	var out accessrequest.Request
	if err := c.post(ctx, "/api/requests", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ValidateGrant(ctx context.Context, requestID string) (bool, error) {
	var approved bool
	err := c.get(ctx, "/api/grants/"+url.PathEscape(requestID), &approved)
	return approved, err
}

func (c *HTTPClient) Inject(ctx context.Context, req InjectRequest) (InjectResult, error) {
	body := map[string]any{
		"requestId":  req.RequestID,
		"envVarName": req.EnvVarName,
		"command":    req.Command,
	}
	var out InjectResult
	err := c.post(ctx, "/api/inject", body, &out)
	return out, err
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return brokererr.Wrap(brokererr.TransportFailure, "marshal request", err)
		}
		reader = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out)
}

func (c *HTTPClient) delete(ctx context.Context, path string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, nil)
}

func (c *HTTPClient) do(httpReq *http.Request, out any) error {
	ctx, cancel := context.WithTimeout(httpReq.Context(), httpCallTimeout)
	defer cancel()
	httpReq = httpReq.WithContext(ctx)
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return brokererr.Wrap(brokererr.Timeout, "request timed out", err)
		}
		return brokererr.Wrap(brokererr.TransportFailure, "server not running or unreachable", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return brokererr.Wrap(brokererr.TransportFailure, "reading response body", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return brokererr.New(brokererr.AuthFailure, "authentication failed: invalid or missing auth token")
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(bodyBytes, &errResp); jsonErr == nil && errResp.Error != "" {
			return brokererr.New(brokererr.ServerError, fmt.Sprintf("%s %s -> %d: %s", httpReq.Method, httpReq.URL.Path, resp.StatusCode, errResp.Error))
		}
		snippet := string(bodyBytes)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return brokererr.New(brokererr.ServerError, fmt.Sprintf("%s %s -> %d: %s", httpReq.Method, httpReq.URL.Path, resp.StatusCode, snippet))
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return brokererr.Wrap(brokererr.TransportFailure, "unmarshal response", err)
		}
	}
	return nil
}
