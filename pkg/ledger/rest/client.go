package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/valyala/fasthttp"
)

// Client 通过 HTTP 调用后台账务系统
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *fasthttp.Client
}

var _ ledger.Service = (*Client)(nil)

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    &fasthttp.Client{},
	}
}

func (c *Client) GetBookingBalance(ctx context.Context, bookingID, customerID uint) (*ledger.Balance, error) {
	var balance ledger.Balance
	path := fmt.Sprintf("/bookings/%d/balance?customer_id=%d", bookingID, customerID)
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) GetBookingLineItems(ctx context.Context, bookingID, customerID uint) ([]ledger.LineItem, error) {
	var items []ledger.LineItem
	path := fmt.Sprintf("/bookings/%d/line-items?customer_id=%d", bookingID, customerID)
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RecordCollection 登记一笔收款，返回后台的收款编号
func (c *Client) RecordCollection(ctx context.Context, params ledger.CollectionParams) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/collections", params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("ledger returned an empty collection id")
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("ledger %s %s: %w", method, path, err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("ledger %s %s: status %d: %s", method, path, resp.StatusCode(), truncate(resp.Body(), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("ledger %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
