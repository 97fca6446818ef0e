package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ms-checkin/internal/breaker"
)

// HTTPClient is the REST implementation of Client. It only maps transport
// outcomes onto the package error taxonomy; retries and circuit breaking
// belong to Guarded.
type HTTPClient struct {
	HTTP *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{HTTP: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) CheckCredentials(ctx context.Context, cred Credentials) error {
	var body struct {
		Valid bool `json:"valid"`
	}
	if err := c.get(ctx, cred, "check_credentials", nil, &body); err != nil {
		return err
	}
	if !body.Valid {
		return ErrAuth
	}
	return nil
}

func (c *HTTPClient) GetEventEssentials(ctx context.Context, cred Credentials) (*EventEssentials, error) {
	var out EventEssentials
	if err := c.get(ctx, cred, "event_essentials", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetTicketsInfo(ctx context.Context, cred Credentials, perPage, page int) (*TicketPage, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	var out TicketPage
	if err := c.get(ctx, cred, "tickets_info", q, &out); err != nil {
		return nil, err
	}
	if out.Page == 0 {
		out.Page = page
	}
	return &out, nil
}

func (c *HTTPClient) GetTicketDetailedStatus(ctx context.Context, cred Credentials, checksum string) (*TicketStatus, error) {
	q := url.Values{}
	q.Set("checksum", checksum)
	var out TicketStatus
	if err := c.get(ctx, cred, "ticket_status", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetEventOccupancy(ctx context.Context, cred Credentials) (*Occupancy, error) {
	var out Occupancy
	if err := c.get(ctx, cred, "event_occupancy", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) get(ctx context.Context, cred Credentials, endpoint string, query url.Values, dest interface{}) error {
	u := strings.TrimRight(cred.SiteURL, "/") + "/api/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return breaker.Ignore(fmt.Errorf("%w: build request: %v", ErrPayload, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", cred.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, endpoint); err != nil {
		io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return breaker.Ignore(fmt.Errorf("%w: %s: %v", ErrPayload, endpoint, err))
	}
	return nil
}

// statusError maps an HTTP status to the taxonomy. Every error status counts
// against the breaker; only unexpected non-error statuses are ignored.
func statusError(code int, endpoint string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrAuth, endpoint, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, endpoint)
	case code >= 500:
		return fmt.Errorf("%w: %s returned %d", ErrServer, endpoint, code)
	case code >= 400:
		return fmt.Errorf("%w: %s returned %d", ErrPayload, endpoint, code)
	default:
		return breaker.Ignore(fmt.Errorf("%w: %s returned %d", ErrPayload, endpoint, code))
	}
}
