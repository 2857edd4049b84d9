// Package razorpay is the outbound adapter for the card/UPI processor's REST
// API. Amounts on the wire are integer minor units.
package razorpay

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

	"hostel-payments/config"
	"hostel-payments/internal/core/domain"

	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response is read for diagnostics.
const maxErrorBody = 64 << 10

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: http %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Client implements ports.GatewayClient.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	timeout    time.Duration
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewClient creates a gateway client. A nil httpClient gets a default
// *http.Client bounded by cfg.Timeout.
func NewClient(cfg config.GatewayConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		log:        log.With().Str("component", "gateway").Logger(),
	}
}

type createOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder creates a gateway order for the given minor-unit amount.
func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.GatewayOrder, error) {
	body := createOrderBody{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}
	var order domain.GatewayOrder
	raw, err := c.do(ctx, http.MethodPost, "/orders", nil, body, &order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.Raw = raw
	return &order, nil
}

// FetchOrder returns the order with the given id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*domain.GatewayOrder, error) {
	var order domain.GatewayOrder
	raw, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, &order)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	order.Raw = raw
	return &order, nil
}

// FetchPayment returns the payment with the given gateway id.
func (c *Client) FetchPayment(ctx context.Context, gatewayPaymentID string) (*domain.GatewayPayment, error) {
	var payment domain.GatewayPayment
	raw, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(gatewayPaymentID), nil, nil, &payment)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", gatewayPaymentID, err)
	}
	payment.Raw = raw
	return &payment, nil
}

type createRefundBody struct {
	Amount int64             `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

// CreateRefund refunds a captured payment. A zero AmountMinor refunds the
// full remaining amount at the gateway.
func (c *Client) CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.GatewayRefund, error) {
	body := createRefundBody{Amount: req.AmountMinor, Notes: req.Notes}
	path := "/payments/" + url.PathEscape(req.GatewayPaymentID) + "/refund"

	var refund domain.GatewayRefund
	raw, err := c.do(ctx, http.MethodPost, path, nil, body, &refund)
	if err != nil {
		return nil, fmt.Errorf("create refund for %s: %w", req.GatewayPaymentID, err)
	}
	refund.Raw = raw
	return &refund, nil
}

type refundPage struct {
	Count int                    `json:"count"`
	Items []domain.GatewayRefund `json:"items"`
}

// ListPaymentRefunds returns the refunds the gateway holds for one payment.
func (c *Client) ListPaymentRefunds(ctx context.Context, gatewayPaymentID string) ([]domain.GatewayRefund, error) {
	path := "/payments/" + url.PathEscape(gatewayPaymentID) + "/refunds"

	var page refundPage
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return nil, fmt.Errorf("list refunds for %s: %w", gatewayPaymentID, err)
	}
	return page.Items, nil
}

type settlementItem struct {
	EntityID     string `json:"entity_id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	Fee          int64  `json:"fee"`
	Tax          int64  `json:"tax"`
	OrderID      string `json:"order_id"`
	SettlementID string `json:"settlement_id"`
	SettledAt    int64  `json:"settled_at"`
}

type settlementPage struct {
	Count int              `json:"count"`
	Items []settlementItem `json:"items"`
}

// ListSettlements returns one page of the settlement recon feed. An empty or
// short page means the feed is exhausted.
func (c *Client) ListSettlements(ctx context.Context, q domain.SettlementQuery) ([]domain.SettlementRecord, error) {
	params := url.Values{}
	params.Set("from", strconv.FormatInt(q.From.Unix(), 10))
	params.Set("to", strconv.FormatInt(q.To.Unix(), 10))
	if q.Count > 0 {
		params.Set("count", strconv.Itoa(q.Count))
	}
	if q.Skip > 0 {
		params.Set("skip", strconv.Itoa(q.Skip))
	}

	var page settlementPage
	if _, err := c.do(ctx, http.MethodGet, "/settlements/recon/combined", params, nil, &page); err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}

	records := make([]domain.SettlementRecord, 0, len(page.Items))
	for _, item := range page.Items {
		rec := domain.SettlementRecord{
			EntityID:     item.EntityID,
			Type:         item.Type,
			Amount:       item.Amount,
			Fee:          item.Fee,
			Tax:          item.Tax,
			OrderID:      item.OrderID,
			SettlementID: item.SettlementID,
		}
		if item.SettledAt > 0 {
			rec.SettledAt = time.Unix(item.SettledAt, 0).UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

// do sends one authenticated request and decodes a 2xx body into out. It
// returns the raw response body for audit storage.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("gateway request failed")
		return nil, err
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gateway request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return raw, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Description = env.Error.Description
	}
	return apiErr
}
