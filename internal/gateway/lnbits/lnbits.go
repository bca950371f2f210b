// Package lnbits implements the gateway contract against an LNbits
// instance.
package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
	"github.com/saulteafarmer/orangemart/internal/gateway"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: config.GatewayTimeout},
	}
}

type paymentRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount,omitempty"`
	Memo   string `json:"memo,omitempty"`
	Bolt11 string `json:"bolt11,omitempty"`
}

type paymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Paid           bool   `json:"paid"`
	Preimage       string `json:"preimage"`
}

func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*gateway.Invoice, error) {
	var res paymentResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/payments", &paymentRequest{
		Out:    false,
		Amount: amountSats,
		Memo:   memo,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.PaymentHash == "" || res.PaymentRequest == "" {
		return nil, fmt.Errorf("invoice response missing payment hash or request")
	}
	return &gateway.Invoice{
		PaymentHash:    strings.ToLower(res.PaymentHash),
		PaymentRequest: res.PaymentRequest,
	}, nil
}

func (c *Client) Pay(ctx context.Context, bolt11 string, amountSats int64) (string, error) {
	var res paymentResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/payments", &paymentRequest{
		Out:    true,
		Amount: amountSats,
		Bolt11: bolt11,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.PaymentHash == "" {
		return "", fmt.Errorf("payment response missing payment hash")
	}
	return strings.ToLower(res.PaymentHash), nil
}

func (c *Client) CheckStatus(ctx context.Context, paymentHash string) (bool, error) {
	var res paymentResponse
	err := c.call(ctx, http.MethodGet, "/api/v1/payments/"+strings.ToLower(paymentHash), nil, &res)
	if err != nil {
		return false, err
	}
	return res.Paid, nil
}

func (c *Client) Cancel(ctx context.Context, paymentHash string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/payments/"+strings.ToLower(paymentHash), nil, nil)
}

type lnurlResponse struct {
	Tag      string `json:"tag"`
	Callback string `json:"callback"`
}

type lnurlPayResponse struct {
	PR string `json:"pr"`
}

// ResolveAddress performs the two-step LNURL-pay flow for a
// user@domain lightning address.
func (c *Client) ResolveAddress(ctx context.Context, address string, amountSats int64) (string, error) {
	user, dom, ok := strings.Cut(address, "@")
	if !ok || user == "" || dom == "" {
		return "", domain.ErrInvalidAddress
	}

	endpoint := fmt.Sprintf("https://%s/.well-known/lnurlp/%s", dom, url.PathEscape(user))
	var lnurl lnurlResponse
	if err := c.get(ctx, endpoint, &lnurl); err != nil {
		return "", fmt.Errorf("fetch lnurl for %s: %w", address, err)
	}
	if lnurl.Callback == "" {
		return "", fmt.Errorf("lnurl response for %s has no callback", address)
	}

	cb, err := url.Parse(lnurl.Callback)
	if err != nil {
		return "", fmt.Errorf("invalid lnurl callback for %s: %w", address, err)
	}
	q := cb.Query()
	q.Set("amount", fmt.Sprintf("%d", amountSats*1000)) // msat
	cb.RawQuery = q.Encode()

	var pay lnurlPayResponse
	if err := c.get(ctx, cb.String(), &pay); err != nil {
		return "", fmt.Errorf("lnurl pay for %s: %w", address, err)
	}
	if pay.PR == "" {
		return "", fmt.Errorf("lnurl pay response for %s has no payment request", address)
	}
	return pay.PR, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("lnbits %s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
