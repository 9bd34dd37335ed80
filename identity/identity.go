// Client for the central identity service, which owns accounts across all
// federated platforms and knows each account's capability flags.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gravitalia/signaly/pkg/robusthttp"

	"github.com/google/go-querystring/query"
)

// Capability bit required for direct moderator actions.
const CapabilityModerator uint32 = 32

type Profile struct {
	Subject string `json:"vanity"`
	Flags   uint32 `json:"flags"`
}

func (p *Profile) Has(capability uint32) bool {
	return p.Flags&capability != 0
}

type Client interface {
	SuspendAccount(ctx context.Context, subject string) error
	UnsuspendAccount(ctx context.Context, subject string) error
	DeleteAccount(ctx context.Context, subject string) error
	// Resolves the profile of whoever holds the given token.
	GetProfile(ctx context.Context, token string) (*Profile, error)
}

type HTTPClient struct {
	Host   string
	Client *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(host string, client *http.Client) *HTTPClient {
	return &HTTPClient{
		Host:   strings.TrimSuffix(host, "/"),
		Client: client,
	}
}

type accountParams struct {
	Vanity string `url:"vanity"`
}

func (c *HTTPClient) accountURL(path, subject string) (string, error) {
	params, err := query.Values(accountParams{Vanity: subject})
	if err != nil {
		return "", err
	}
	return c.Host + path + "?" + params.Encode(), nil
}

func (c *HTTPClient) SuspendAccount(ctx context.Context, subject string) error {
	u, err := c.accountURL("/account/suspend", subject)
	if err != nil {
		return err
	}
	return c.do(ctx, "suspend", http.MethodPost, u)
}

func (c *HTTPClient) UnsuspendAccount(ctx context.Context, subject string) error {
	u, err := c.accountURL("/account/unsuspend", subject)
	if err != nil {
		return err
	}
	return c.do(ctx, "unsuspend", http.MethodPost, u)
}

func (c *HTTPClient) DeleteAccount(ctx context.Context, subject string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.Host+"/users/"+url.PathEscape(subject))
}

func (c *HTTPClient) GetProfile(ctx context.Context, token string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Host+"/", nil)
	if err != nil {
		return nil, err
	}
	// the caller's token replaces the service-wide credential
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity profile: %w", err)
	}
	defer resp.Body.Close()
	if err := robusthttp.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("identity profile: %w", err)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("identity profile: decoding response: %w", err)
	}
	return &p, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, u string) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("identity %s: %w", op, err)
	}
	defer resp.Body.Close()
	if err := robusthttp.CheckResponse(resp); err != nil {
		return fmt.Errorf("identity %s: %w", op, err)
	}
	return nil
}
