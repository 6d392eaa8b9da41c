package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type State string

const (
	StatePending  State = "pending"
	StateBuilding State = "building"
	StateReady    State = "ready"
	StateError    State = "error"
	StateCanceled State = "canceled"
)

// Done reports whether the provider finished processing the deployment.
func (s State) Done() bool {
	return s == StateReady || s == StateError || s == StateCanceled
}

// ErrMissingCredentials is returned when a provider token is not configured.
var ErrMissingCredentials = errors.New("provider credentials are not configured")

// Result is the provider's view of one deployment.
type Result struct {
	ExternalID string
	URL        string
	State      State
	// Manual results are bundles handed to the club instead of a live deployment.
	Manual  bool
	Message string
}

type Target struct {
	Site   SiteConfig
	Bundle *Bundle
	// ProviderTarget is the provider-side site or service id, when the provider needs one.
	ProviderTarget string
}

type Deployer interface {
	Name() string
	Deploy(ctx context.Context, t Target) (Result, error)
	Status(ctx context.Context, externalID string) (Result, error)
}

// Registry maps hosting providers to deployers.
type Registry struct {
	deployers map[string]Deployer
}

func NewRegistry() *Registry {
	return &Registry{deployers: map[string]Deployer{}}
}

func (r *Registry) Register(hosting string, d Deployer) {
	r.deployers[hosting] = d
}

func (r *Registry) For(hosting string) (Deployer, error) {
	d, ok := r.deployers[hosting]
	if !ok {
		return nil, fmt.Errorf("no deployer registered for %q", hosting)
	}
	return d, nil
}

// apiClient is the shared JSON-over-HTTP plumbing of the provider clients.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) apiClient {
	return apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c apiClient) do(ctx context.Context, method, path, contentType string, body []byte) (gjson.Result, error) {
	if c.token == "" {
		return gjson.Result{}, ErrMissingCredentials
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s %s: invalid JSON response", method, path)
	}
	return gjson.ParseBytes(data), nil
}

// APIError is a non-2xx provider response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
}

func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
