package ostrom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// fetchTimeout bounds a single spot-price request.
	fetchTimeout = 10 * time.Second

	// tokenSkewMargin expires tokens early to absorb clock skew and
	// in-flight request latency.
	tokenSkewMargin = 60 * time.Second

	hourStampLayout = "2006-01-02T15:00:00.000Z"
)

// Token is a bearer token with its local expiry instant.
// Replaced wholesale on refresh, never mutated.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at instant now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// RawPriceRecord is one hourly entry from the spot-prices endpoint.
// Date stays a string and the per-kWh fields stay pointers so a malformed
// timestamp or an absent field is detectable per record; the normalizer
// skips such records instead of letting a zero value into the series.
type RawPriceRecord struct {
	Date                 string           `json:"date"`
	GrossKwhPrice        *decimal.Decimal `json:"grossKwhPrice"`
	NetKwhPrice          *decimal.Decimal `json:"netKwhPrice"`
	NetMwhPrice          *decimal.Decimal `json:"netMwhPrice"`
	NetKwhTaxAndLevies   *decimal.Decimal `json:"netKwhTaxAndLevies"`
	GrossKwhTaxAndLevies *decimal.Decimal `json:"grossKwhTaxAndLevies"`
	GrossMonthlyBaseFee  decimal.Decimal  `json:"grossMonthlyOstromBaseFee"`
	GrossMonthlyGridFees decimal.Decimal  `json:"grossMonthlyGridFees"`
}

// Client talks to the Ostrom API and owns the token lifecycle.
// The underlying HTTP client lives for the lifetime of the integration
// instance; release it with Close.
type Client struct {
	authURL      string
	apiURL       string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	nowFunc      func() time.Time // clock function for testing

	mu    sync.Mutex
	token Token
}

// New creates a new Ostrom API client.
func New(authURL, apiURL, clientID, clientSecret string) *Client {
	return &Client{
		authURL:      strings.TrimRight(authURL, "/"),
		apiURL:       strings.TrimRight(apiURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		nowFunc: time.Now,
	}
}

// SetClock sets the clock function for testing. Not thread-safe, call
// before first use.
func (c *Client) SetClock(fn func() time.Time) {
	c.nowFunc = fn
}

// Close releases the underlying HTTP resources. Safe to call once on
// teardown regardless of how many requests ran or failed.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type tokenResponse struct {
	AccessToken *string `json:"access_token"`
	TokenType   *string `json:"token_type"`
	ExpiresIn   *int64  `json:"expires_in"`
}

// EnsureValidToken returns the held token, performing the
// client-credentials exchange only when the held token is missing or
// expired. Safe to call every refresh cycle.
func (c *Client) EnsureValidToken(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if c.token.Valid(now) {
		return c.token, nil
	}

	tok, err := c.exchangeToken(ctx, now)
	if err != nil {
		return Token{}, err
	}
	c.token = tok

	slog.Debug("obtained new access token", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// exchangeToken performs the OAuth2 client-credentials exchange.
// Callers hold c.mu.
func (c *Client) exchangeToken(ctx context.Context, now time.Time) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &ConnectionError{Op: "create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, &ConnectionError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return Token{}, &AuthError{Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, &AuthError{Reason: "invalid token response", Err: err}
	}
	switch {
	case tr.AccessToken == nil:
		return Token{}, &AuthError{Reason: "token response missing access_token"}
	case tr.TokenType == nil:
		return Token{}, &AuthError{Reason: "token response missing token_type"}
	case tr.ExpiresIn == nil:
		return Token{}, &AuthError{Reason: "token response missing expires_in"}
	case *tr.TokenType != "Bearer":
		return Token{}, &AuthError{Reason: fmt.Sprintf("unexpected token type %q", *tr.TokenType)}
	}

	return Token{
		AccessToken: *tr.AccessToken,
		ExpiresAt:   now.Add(time.Duration(*tr.ExpiresIn)*time.Second - tokenSkewMargin),
	}, nil
}

type spotPricesResponse struct {
	Data []RawPriceRecord `json:"data"`
}

// FetchSpotPrices fetches hourly price records for one date window.
// start and end are truncated to whole UTC hours per the API contract.
// No retry happens here; retry policy belongs to the caller.
func (c *Client) FetchSpotPrices(ctx context.Context, token Token, zip string, start, end time.Time) ([]RawPriceRecord, error) {
	params := url.Values{}
	params.Set("startDate", start.UTC().Format(hourStampLayout))
	params.Set("endDate", end.UTC().Format(hourStampLayout))
	params.Set("resolution", "HOUR")
	params.Set("zip", zip)

	reqURL := fmt.Sprintf("%s/spot-prices?%s", c.apiURL, params.Encode())
	window := fmt.Sprintf("%s..%s", params.Get("startDate"), params.Get("endDate"))

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "create price request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "fetch spot prices", Err: err}
		}
		return nil, &ConnectionError{Op: "fetch spot prices", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConnectionError{Op: fmt.Sprintf("spot-prices returned status %d", resp.StatusCode)}
	}

	var envelope spotPricesResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &ConnectionError{Op: "decode spot-prices response", Err: err}
	}

	if len(envelope.Data) == 0 {
		return nil, &EmptyResultError{Window: window}
	}

	slog.Debug("fetched spot prices", "window", window, "records", len(envelope.Data))
	return envelope.Data, nil
}
