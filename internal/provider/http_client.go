package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/version"
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.Code, e.Body)
}

// StatusCode exposes the HTTP status to retry and breaker predicates.
func (e *HTTPError) StatusCode() int { return e.Code }

// HTTPClient talks JSON over HTTP to the provider API with a bearer token.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. A nil httpClient uses one without a global
// timeout; per-call deadlines come from the circuit breaker.
func NewHTTPClient(httpClient *http.Client, baseURL, token string) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &HTTPClient{httpClient: httpClient, baseURL: baseURL, token: token}
}

// CreateProject registers a project and returns the provider's project id.
func (c *HTTPClient) CreateProject(ctx context.Context, req CreateProjectRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/projects", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// TriggerBuild starts a remote build.
func (c *HTTPClient) TriggerBuild(ctx context.Context, req TriggerBuildRequest) (*BuildInfo, error) {
	var out BuildInfo
	if err := c.call(ctx, http.MethodPost, "/builds", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.ProviderError("provider returned a build without id").Build()
	}
	return &out, nil
}

// GetBuildStatus fetches the current state of a remote build.
func (c *HTTPClient) GetBuildStatus(ctx context.Context, externalBuildID string) (*BuildInfo, error) {
	var out BuildInfo
	if err := c.call(ctx, http.MethodGet, "/builds/"+url.PathEscape(externalBuildID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBuild asks the provider to stop a remote build.
func (c *HTTPClient) CancelBuild(ctx context.Context, externalBuildID string) error {
	return c.call(ctx, http.MethodPost, "/builds/"+url.PathEscape(externalBuildID)+"/cancel", nil, nil)
}

// DownloadArtifact opens an artifact stream. The URL is absolute, as handed out by the provider.
func (c *HTTPClient) DownloadArtifact(ctx context.Context, artifactURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, http.NoBody)
	if err != nil {
		return nil, errors.ValidationError("invalid artifact url").WithCause(err).Build()
	}
	c.decorate(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NetworkError("failed to download artifact").
			WithCause(err).
			WithContext("url", artifactURL).
			Build()
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		return nil, classify(req, resp)
	}
	return resp.Body, nil
}

// EnsureBranch creates an update branch pinned to runtimeVersion if it does
// not exist yet. An existing branch is left as is.
func (c *HTTPClient) EnsureBranch(ctx context.Context, providerProjectID, branch, runtimeVersion string) error {
	body := map[string]string{"name": branch, "runtimeVersion": runtimeVersion}
	err := c.call(ctx, http.MethodPost, "/projects/"+url.PathEscape(providerProjectID)+"/branches", body, nil)
	if errors.HasCategory(err, errors.CategoryAlreadyExists) {
		return nil
	}
	return err
}

// PublishUpdate publishes OTA content to a branch.
func (c *HTTPClient) PublishUpdate(ctx context.Context, req PublishUpdateRequest) (*PublishedUpdate, error) {
	var out PublishedUpdate
	if err := c.call(ctx, http.MethodPost, "/projects/"+url.PathEscape(req.ProviderProjectID)+"/updates", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) call(ctx context.Context, method, endpoint string, body, result any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	// endpoint segments are escaped by the callers.
	target := strings.TrimRight(c.baseURL, "/") + endpoint
	if _, err := url.Parse(target); err != nil {
		return nil, errors.ConfigError("failed to parse provider URL").
			WithCause(err).
			WithContext("base_url", c.baseURL).
			Build()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.InternalError("failed to marshal provider request").WithCause(err).Build()
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.InternalError("failed to create provider request").
			WithCause(err).
			WithContext("method", method).
			Build()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.decorate(req)
	return req, nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "shipwright/"+version.Version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *HTTPClient) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("failed to execute provider request").
			WithCause(err).
			WithContext("method", req.Method).
			WithContext("url", req.URL.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return classify(req, resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.ProviderError("failed to decode provider response").
				WithCause(err).
				Build()
		}
	}
	return nil
}

// classify maps an error response to a classified error wrapping *HTTPError.
func classify(req *http.Request, resp *http.Response) error {
	limitedBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := &HTTPError{Code: resp.StatusCode, Body: strings.ReplaceAll(string(limitedBody), "\n", " ")}

	var b *errors.ErrorBuilder
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		b = errors.AuthError("provider rejected credentials")
	case resp.StatusCode == http.StatusNotFound:
		b = errors.NotFoundError("provider resource not found")
	case resp.StatusCode == http.StatusConflict:
		b = errors.AlreadyExistsError("provider resource already exists")
	case resp.StatusCode == http.StatusTooManyRequests:
		b = errors.ProviderError("provider rate limit exceeded").
			WithContext("retry_after", resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		b = errors.ProviderError(fmt.Sprintf("provider API error: %s", resp.Status))
	default:
		b = errors.ValidationError(fmt.Sprintf("provider rejected request: %s", resp.Status))
	}
	return b.WithCause(cause).
		WithContext("code", resp.StatusCode).
		WithContext("url", req.URL.String()).
		Build()
}
