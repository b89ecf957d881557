// Package teller is a client for the bank-aggregator transactions API.
package teller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.teller.io"

// Institution is the local institution code for provider-linked accounts.
const Institution = "teller"

const maxErrorBody = 4 << 10

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: %d %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Retryable reports whether err is worth retrying. Everything is, except
// cancellation and client errors other than rate limiting.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Client calls the API with a per-request bearer token.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// ListAccounts returns the accounts linked to token.
func (c *Client) ListAccounts(ctx context.Context, token string) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, token, "/accounts", &accounts); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// ListTransactions returns one page of an account's transactions starting
// after cursor. A blank cursor starts from the beginning.
func (c *Client) ListTransactions(ctx context.Context, token, accountID, cursor string) (Page, error) {
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	if strings.TrimSpace(cursor) != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var raws []json.RawMessage
	if err := c.get(ctx, token, path, &raws); err != nil {
		return Page{}, fmt.Errorf("listing transactions for %s: %w", accountID, err)
	}
	page, err := decodePage(raws)
	if err != nil {
		return Page{}, fmt.Errorf("decoding transactions for %s: %w", accountID, err)
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
