package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// Client calls the auction house API. Every failure is returned as an
// *auction.Rejection: business refusals keep their kind, while transport
// errors, rate limiting and server errors become auction.ErrNetwork so the
// caller knows a retry may help.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client for the API at cfg.URL.
func NewClient(cfg config.HouseConfig) *Client {
	return &Client{
		base: strings.TrimRight(cfg.URL, "/") + "/api/v1",
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateAuction lists a new auction on behalf of creatorID.
func (c *Client) CreateAuction(ctx context.Context, creatorID string, req auction.Request) (auction.Record, error) {
	var rec auction.Record
	err := c.do(ctx, http.MethodPost, "/auctions", creatorID, nil, req, &rec)
	return rec, err
}

// ListAuctions returns the auctions matching q.
func (c *Client) ListAuctions(ctx context.Context, q store.Query) ([]auction.Record, error) {
	var recs []auction.Record
	path := "/auctions"
	if params := url.Values(EncodeQuery(q)).Encode(); params != "" {
		path += "?" + params
	}
	err := c.do(ctx, http.MethodGet, path, "", nil, nil, &recs)
	return recs, err
}

// GetAuction returns one auction.
func (c *Client) GetAuction(ctx context.Context, id string) (auction.Record, error) {
	var rec auction.Record
	err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(id), "", nil, nil, &rec)
	return rec, err
}

// History returns the event log of one auction.
func (c *Client) History(ctx context.Context, id string) ([]event.Event, error) {
	var events []event.Event
	err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(id)+"/events", "", nil, nil, &events)
	return events, err
}

// PurchaseAuction buys an auction. The same key may be sent any number of
// times; the house applies it once.
func (c *Client) PurchaseAuction(ctx context.Context, id, buyerID, key string) (auction.Record, error) {
	var rec auction.Record
	headers := map[string]string{HeaderIdempotencyKey: key}
	err := c.do(ctx, http.MethodPost, "/auctions/"+url.PathEscape(id)+"/purchase", buyerID, headers, nil, &rec)
	return rec, err
}

// UserBalance returns a user's holdings.
func (c *Client) UserBalance(ctx context.Context, userID string) (auction.Balance, error) {
	var bal auction.Balance
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/balance", userID, nil, nil, &bal)
	return bal, err
}

// ClaimDailyAllowance claims the user's daily allowance.
func (c *Client) ClaimDailyAllowance(ctx context.Context, userID string) (auction.Balance, error) {
	var bal auction.Balance
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/daily", userID, nil, nil, &bal)
	return bal, err
}

// Grant credits a user's balance; adminID must be a configured admin.
func (c *Client) Grant(ctx context.Context, adminID, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	var bal auction.Balance
	body := GrantRequest{Currency: string(cur), Amount: amount, Reason: reason}
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/grants", adminID, nil, body, &bal)
	return bal, err
}

func (c *Client) do(ctx context.Context, method, path, userID string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return auction.Reject(auction.ErrValidation, "encoding request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return auction.Reject(auction.ErrNetwork, "building request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return auction.Reject(auction.ErrNetwork, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return auction.Reject(auction.ErrNetwork, "decoding response: %v", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return auction.Reject(auction.ErrNetwork, "house returned %s", resp.Status)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return auction.Reject(auction.ErrNetwork, "house returned %s: %s", resp.Status, body.Message)
	}
	kind, ok := kindOf(body.Code)
	if !ok {
		return auction.Reject(auction.ErrNetwork, "house returned %s: %s", resp.Status, body.Message)
	}
	rej := &auction.Rejection{Kind: kind, Reason: strings.TrimPrefix(body.Message, kind.Error()+": ")}
	if body.Auction != nil {
		rej = rej.WithAuction(*body.Auction)
	}
	return rej
}
