package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gravitalia/signaly/pkg/robusthttp"

	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"
)

type accountParams struct {
	Vanity string `url:"vanity"`
}

// HTTP client for a federated platform API.
//
// Reads:   GET {host}/users/{vanity}, GET {host}/posts/{id}
// Actions: POST {host}/account/suspend?vanity=, POST {host}/account/unsuspend?vanity=, DELETE {host}/account/deletion?vanity=
type HTTPClient struct {
	Host   string
	Client *http.Client
	// optional; bounds outbound request rate
	Limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(host string, client *http.Client, limiter *rate.Limiter) *HTTPClient {
	return &HTTPClient{
		Host:    strings.TrimSuffix(host, "/"),
		Client:  client,
		Limiter: limiter,
	}
}

func (c *HTTPClient) GetProfile(ctx context.Context, subject string) (*Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, "profile", "/users/"+url.PathEscape(subject), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := c.getJSON(ctx, "post", "/posts/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) SuspendAccount(ctx context.Context, subject string) error {
	return c.action(ctx, "suspend", http.MethodPost, "/account/suspend", subject)
}

func (c *HTTPClient) UnsuspendAccount(ctx context.Context, subject string) error {
	return c.action(ctx, "unsuspend", http.MethodPost, "/account/unsuspend", subject)
}

func (c *HTTPClient) DeleteAccount(ctx context.Context, subject string) error {
	return c.action(ctx, "delete", http.MethodDelete, "/account/deletion", subject)
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

func (c *HTTPClient) getJSON(ctx context.Context, op, path string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Host+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		apiCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("platform %s: %w", op, err)
	}
	defer resp.Body.Close()
	apiCalls.WithLabelValues(op, fmt.Sprint(resp.StatusCode)).Inc()

	if err := robusthttp.CheckResponse(resp); err != nil {
		var apiErr *robusthttp.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("platform %s: %w", op, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform %s: decoding response: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) action(ctx context.Context, op, method, path, subject string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	params, err := query.Values(accountParams{Vanity: subject})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Host+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		apiCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("platform %s: %w", op, err)
	}
	defer resp.Body.Close()
	apiCalls.WithLabelValues(op, fmt.Sprint(resp.StatusCode)).Inc()
	if err := robusthttp.CheckResponse(resp); err != nil {
		return fmt.Errorf("platform %s: %w", op, err)
	}
	return nil
}
