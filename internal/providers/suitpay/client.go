// Package suitpay is a stateless client for the SuitPay PIX gateway. It does
// not retry: retry and idempotency policy belongs to the caller.
package suitpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds SuitPay client configuration
type Config struct {
	BaseURL      string        `envconfig:"SUITPAY_BASE_URL" default:"https://ws.suitpay.app"`
	ClientID     string        `envconfig:"SUITPAY_CLIENT_ID"`
	ClientSecret string        `envconfig:"SUITPAY_CLIENT_SECRET"`
	Timeout      time.Duration `envconfig:"SUITPAY_TIMEOUT" default:"15s"`
}

// API paths
const (
	pathPixIn      = "/api/v1/gateway/request-qrcode"
	pathPixOut     = "/api/v1/gateway/pix-payment"
	pathPixReceipt = "/api/v1/gateway/get-receipt-pix-cashout"
)

// Operation names carried by Error.Op
const (
	OpPixIn      = "pix_in"
	OpPixOut     = "pix_out"
	OpPixReceipt = "pix_out_receipt"
)

const maxResponseBytes = 4 << 20

// responseOK is the value of the response field on success
const responseOK = "OK"

// Payer identifies who pays a PIX charge
type Payer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email,omitempty"`
}

// PixInRequest asks for a PIX charge (QR code)
type PixInRequest struct {
	RequestNumber string      `json:"requestNumber"`
	DueDate       string      `json:"dueDate"`
	Amount        json.Number `json:"amount"`
	CallbackURL   string      `json:"callbackUrl"`
	Client        Payer       `json:"client"`
}

// PixInResponse carries the charge the user must pay
type PixInResponse struct {
	IDTransaction     string `json:"idTransaction"`
	PaymentCode       string `json:"paymentCode"`
	PaymentCodeBase64 string `json:"paymentCodeBase64"`
	Response          string `json:"response"`
	Message           string `json:"message,omitempty"`
}

// PixOutRequest asks for a PIX payout
type PixOutRequest struct {
	ExternalID         string      `json:"externalId"`
	Value              json.Number `json:"value"`
	Key                string      `json:"key"`
	TypeKey            string      `json:"typeKey"`
	CallbackURL        string      `json:"callbackUrl"`
	DocumentValidation string      `json:"documentValidation,omitempty"`
}

// PixOutResponse acknowledges a payout
type PixOutResponse struct {
	IDTransaction string `json:"idTransaction"`
	Response      string `json:"response"`
	Message       string `json:"message,omitempty"`
}

// Client talks to the SuitPay API
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a SuitPay client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// RequestPixIn creates a PIX charge
func (c *Client) RequestPixIn(ctx context.Context, req PixInRequest) (*PixInResponse, error) {
	var resp PixInResponse
	if err := c.post(ctx, OpPixIn, pathPixIn, req, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Response, responseOK) {
		return nil, &Error{Op: OpPixIn, Message: rejectionMessage(resp.Response, resp.Message)}
	}
	if resp.IDTransaction == "" || resp.PaymentCode == "" {
		return nil, &Error{Op: OpPixIn, Message: "response is missing idTransaction or paymentCode"}
	}

	c.logger.Info("suitpay charge created",
		"request_number", req.RequestNumber,
		"provider_id", resp.IDTransaction,
	)
	return &resp, nil
}

// RequestPixOut sends a PIX payout
func (c *Client) RequestPixOut(ctx context.Context, req PixOutRequest) (*PixOutResponse, error) {
	var resp PixOutResponse
	if err := c.post(ctx, OpPixOut, pathPixOut, req, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Response, responseOK) {
		return nil, &Error{Op: OpPixOut, Message: rejectionMessage(resp.Response, resp.Message)}
	}
	if resp.IDTransaction == "" {
		return nil, &Error{Op: OpPixOut, Message: "response is missing idTransaction"}
	}

	c.logger.Info("suitpay payout accepted",
		"request_number", req.ExternalID,
		"provider_id", resp.IDTransaction,
	)
	return &resp, nil
}

// GetPixOutReceipt downloads the receipt of a completed payout
func (c *Client) GetPixOutReceipt(ctx context.Context, transactionID string) ([]byte, error) {
	u := c.config.BaseURL + pathPixReceipt + "?" + url.Values{"idTransaction": {transactionID}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Op: OpPixReceipt, Err: fmt.Errorf("create request: %w", err)}
	}
	c.authorize(httpReq)

	body, err := c.do(OpPixReceipt, httpReq)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &Error{Op: OpPixReceipt, Message: "empty receipt"}
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	respBody, err := c.do(op, httpReq)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("ci", c.config.ClientID)
	req.Header.Set("cs", c.config.ClientSecret)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(op, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode >= 400 {
		return nil, &Error{Op: op, StatusCode: httpResp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts the provider's message from an error body
func errorMessage(body []byte) string {
	var payload struct {
		Message  string `json:"message"`
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.Message, payload.Error, payload.Response} {
			if m != "" {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func rejectionMessage(response, message string) string {
	if message != "" {
		return message
	}
	if response != "" {
		return response
	}
	return "request rejected"
}
