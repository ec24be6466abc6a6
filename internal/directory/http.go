package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"acctsweep/internal/domain"
)

// HTTPClient is a minimal REST client of the directory API.
type HTTPClient struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// Limiter throttles every request; nil means unlimited.
	Limiter *rate.Limiter
}

// HTTPConfig carries the settings of NewHTTP.
type HTTPConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewHTTP creates a client with sane defaults.
func NewHTTP(cfg HTTPConfig) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid directory base url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("directory token is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		BaseURL:     cfg.BaseURL,
		BearerToken: cfg.Token,
		HTTPClient:  &http.Client{Timeout: timeout},
		Timeout:     timeout,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

type userPayload struct {
	ID       string `json:"Id"`
	FullName string `json:"FullName"`
	Email    string `json:"Email"`
	Security *struct {
		IsDisabled bool `json:"IsDisabled"`
		IsLocked   bool `json:"IsLocked"`
	} `json:"Security,omitempty"`
}

type userFeed struct {
	Value    []userPayload `json:"value"`
	NextLink string        `json:"odata.nextLink"`
}

var partitionPaths = map[domain.Partition]string{
	domain.PartitionEmployee: "Accounts/Employees",
	domain.PartitionClient:   "Accounts/Clients",
}

// List returns account references of a partition, following next links.
func (c *HTTPClient) List(ctx context.Context, partition domain.Partition) ([]domain.AccountRef, error) {
	endpoint, ok := partitionPaths[partition]
	if !ok {
		return nil, fmt.Errorf("unknown partition %q", partition)
	}
	var refs []domain.AccountRef
	for endpoint != "" {
		var feed userFeed
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &feed); err != nil {
			return nil, fmt.Errorf("list %s accounts: %w", partition, err)
		}
		for _, u := range feed.Value {
			refs = append(refs, domain.AccountRef{ID: u.ID, FullName: u.FullName, Email: u.Email})
		}
		if err := c.checkNextLink(feed.NextLink); err != nil {
			return nil, fmt.Errorf("list %s accounts: %w", partition, err)
		}
		endpoint = feed.NextLink
	}
	return refs, nil
}

// checkNextLink rejects absolute next links outside the base URL's origin.
// The bearer token goes to the configured directory only.
func (c *HTTPClient) checkNextLink(link string) error {
	if link == "" {
		return nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid next link %q: %w", link, err)
	}
	if u.Scheme == "" && u.Host == "" {
		return nil
	}
	b, err := url.Parse(c.base())
	if err != nil {
		return fmt.Errorf("invalid directory base url %q: %w", c.BaseURL, err)
	}
	if !strings.EqualFold(u.Scheme, b.Scheme) || !strings.EqualFold(u.Host, b.Host) {
		return fmt.Errorf("next link %q is outside %s://%s", link, b.Scheme, b.Host)
	}
	return nil
}

// GetDetail fetches a user with security expanded.
func (c *HTTPClient) GetDetail(ctx context.Context, id string) (domain.Account, error) {
	var u userPayload
	endpoint := fmt.Sprintf("Users(%s)?expand=Security", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &u); err != nil {
		return domain.Account{}, fmt.Errorf("get user %s: %w", id, err)
	}
	acct := domain.Account{ID: u.ID, FullName: u.FullName, Email: u.Email}
	if u.Security != nil {
		acct.Security = &domain.Security{IsDisabled: u.Security.IsDisabled, IsLocked: u.Security.IsLocked}
	}
	return acct, nil
}

// Delete removes a user and reassigns its items and groups.
func (c *HTTPClient) Delete(ctx context.Context, params DeleteParams) error {
	q := url.Values{}
	q.Set("completely", strconv.FormatBool(params.Completely))
	if params.ItemsReassignTo != "" {
		q.Set("itemsReassignTo", params.ItemsReassignTo)
	}
	if params.GroupsReassignTo != "" {
		q.Set("groupsReassignTo", params.GroupsReassignTo)
	}
	endpoint := fmt.Sprintf("Users(%s)?%s", url.PathEscape(params.ID), q.Encode())
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("delete user %s: %w", params.ID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.base() + "/" + strings.TrimLeft(endpoint, "/")
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
