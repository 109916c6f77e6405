package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/paymentgateway"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	timestampLayout = "20060102150405"

	// Daraja answers a query for an unfinished prompt with this error code instead of a result.
	errCodeStillProcessing = "500.001.1001"
	resultCodeProcessing   = "4999"

	maxAccountReference = 12
	maxTransactionDesc  = 13
)

var nairobi = time.FixedZone("EAT", 3*60*60)

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	Timeout         time.Duration
}

// APIError is a non-success answer from Daraja.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type queryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string   `json:"ResponseCode"`
	ResponseDescription string   `json:"ResponseDescription"`
	MerchantRequestID   string   `json:"MerchantRequestID"`
	CheckoutRequestID   string   `json:"CheckoutRequestID"`
	ResultCode          flexCode `json:"ResultCode"`
	ResultDesc          string   `json:"ResultDesc"`
	MpesaReceiptNumber  string   `json:"MpesaReceiptNumber,omitempty"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPush asks Daraja to send a payment prompt to the customer's phone.
func (c *Client) STKPush(ctx context.Context, req *paymentgateway.PushRequest) (*paymentgateway.PushResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	timestamp := c.timestamp()
	body := pushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            req.Amount.Ceil().IntPart(),
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.Reference, maxAccountReference),
		TransactionDesc:   truncate(defaultString(req.Description, "Campaign"), maxTransactionDesc),
	}

	c.logger.Info("mpesa: sending stk push",
		"reference", req.Reference,
		"amount", body.Amount,
		"shortcode", c.cfg.ShortCode)

	raw, err := c.post(ctx, pushPath, body)
	if err != nil {
		c.logger.Error("mpesa: stk push failed", "reference", req.Reference, "error", err)
		return nil, err
	}

	var resp pushResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode stk push response: %w", err)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Code: resp.ResponseCode, Message: resp.ResponseDescription}
	}

	c.logger.Info("mpesa: stk push accepted",
		"reference", req.Reference,
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID)

	return &paymentgateway.PushResponse{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		ResponseCode:      resp.ResponseCode,
		Description:       resp.ResponseDescription,
		CustomerMessage:   resp.CustomerMessage,
		Raw:               raw,
	}, nil
}

// QuerySTK asks Daraja for the outcome of a previously sent prompt.
func (c *Client) QuerySTK(ctx context.Context, checkoutRequestID string) (*paymentgateway.QueryResult, error) {
	if checkoutRequestID == "" {
		return nil, errors.New("checkout_request_id is required")
	}

	timestamp := c.timestamp()
	body := queryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	raw, err := c.post(ctx, queryPath, body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == errCodeStillProcessing {
			c.logger.Debug("mpesa: stk query still processing", "checkout_request_id", checkoutRequestID)
			return &paymentgateway.QueryResult{
				CheckoutRequestID: checkoutRequestID,
				Status:            paymentgateway.ResultPending,
				ResultCode:        apiErr.Code,
				ResultDesc:        apiErr.Message,
			}, nil
		}
		c.logger.Error("mpesa: stk query failed", "checkout_request_id", checkoutRequestID, "error", err)
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode stk query response: %w", err)
	}

	result := &paymentgateway.QueryResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        string(resp.ResultCode),
		ResultDesc:        resp.ResultDesc,
		ReceiptNumber:     resp.MpesaReceiptNumber,
		Raw:               raw,
	}
	switch string(resp.ResultCode) {
	case "0":
		result.Status = paymentgateway.ResultSuccess
	case "", resultCodeProcessing:
		result.Status = paymentgateway.ResultPending
	default:
		result.Status = paymentgateway.ResultFailed
	}

	c.logger.Info("mpesa: stk query answered",
		"checkout_request_id", checkoutRequestID,
		"result_code", result.ResultCode,
		"status", result.Status)

	return result, nil
}

// VerifyReceipt is not offered by Daraja synchronously; the transaction status API answers through a callback.
func (c *Client) VerifyReceipt(_ context.Context, _ paymentgateway.ReceiptCheck) (*paymentgateway.ReceiptVerification, error) {
	return nil, paymentgateway.ErrVerificationUnsupported
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.resetToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	httpReq.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp.StatusCode, raw)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("mpesa returned an empty access token")
	}

	ttl := 3599 * time.Second
	if secs, err := time.ParseDuration(tr.ExpiresIn + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	// treated as expired one minute early
	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(ttl - time.Minute)

	c.logger.Debug("mpesa: access token refreshed", "expires_at", c.tokenExpiry)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) timestamp() string {
	return c.now().In(nairobi).Format(timestampLayout)
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

func decodeAPIError(status int, raw []byte) error {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && (er.ErrorCode != "" || er.ErrorMessage != "") {
		return &APIError{StatusCode: status, Code: er.ErrorCode, Message: er.ErrorMessage}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
